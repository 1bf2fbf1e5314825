// ABOUTME: JWT claim schema for ACP agent tokens (NATS permissions and hive block)
// ABOUTME: Parses the sub claim into hive, role and process discriminator

package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// HivePID is the process discriminator assigned to tenant-wide hive tokens.
const HivePID = "hive"

// Claims is the full claim set carried by an agent token.
type Claims struct {
	jwt.RegisteredClaims
	NATS NATSClaims  `json:"nats"`
	ACP  *HiveClaims `json:"acp,omitempty"`
}

// NATSClaims mirrors the broker user claims embedded in the token.
type NATSClaims struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Subs        int64       `json:"subs"`
	Data        int64       `json:"data"`
	Payload     int64       `json:"payload"`
	ConnectOnly bool        `json:"connect_only"`
	Permissions Permissions `json:"permissions"`
}

// Permissions lists the subject patterns a token may publish and subscribe to.
type Permissions struct {
	Publish   []string `json:"publish"`
	Subscribe []string `json:"subscribe"`
}

// HiveClaims is the optional ACP block of tenant-wide tokens.
type HiveClaims struct {
	Type        string   `json:"type"`
	Namespace   string   `json:"namespace"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	IssuedBy    string   `json:"issued_by"`
}

// subjectParts is the parsed form of the sub claim.
type subjectParts struct {
	Hive string
	Role string
	PID  string
}

// Namespace returns account.{hive}.{role}.
func (p subjectParts) Namespace() string {
	return NamespaceFor(p.Hive, p.Role)
}

// NamespaceFor returns the tenant namespace for a hive and role.
func NamespaceFor(hive, role string) string {
	return "account." + hive + "." + role
}

// AudienceFor returns the audience a token for hive must carry.
func AudienceFor(hive string) string {
	return "github." + hive
}

// parseSubject accepts user.{hive}.{role}.{pid} or acp.{hive}.{role}.
func parseSubject(sub string) (subjectParts, error) {
	parts := strings.Split(sub, ".")
	for _, p := range parts {
		if p == "" {
			return subjectParts{}, fmt.Errorf("%w: sub %q has an empty segment", ErrInvalidClaims, sub)
		}
	}

	switch {
	case len(parts) == 4 && parts[0] == "user":
		return subjectParts{Hive: parts[1], Role: parts[2], PID: parts[3]}, nil
	case len(parts) == 3 && parts[0] == "acp":
		return subjectParts{Hive: parts[1], Role: parts[2], PID: HivePID}, nil
	default:
		return subjectParts{}, fmt.Errorf("%w: sub %q must be user.{hive}.{role}.{pid} or acp.{hive}.{role}", ErrInvalidClaims, sub)
	}
}
