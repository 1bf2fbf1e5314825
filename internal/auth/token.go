// ABOUTME: Agent token validation and issuing using HS256 signed JWTs
// ABOUTME: Derives a SecurityContext and rejects permissions that escape the tenant namespace

package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrExpiredToken         = errors.New("token expired")
	ErrInvalidClaims        = errors.New("invalid claims")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// TokenValidator defines the interface for turning a token into a SecurityContext.
type TokenValidator interface {
	Validate(tokenString string) (*SecurityContext, error)
}

// Validator implements TokenValidator for HS256 tokens signed with the derived secret.
type Validator struct {
	secret []byte
	now    func() time.Time
}

// NewValidator creates a validator keyed by the secret derived from operatorSecret.
func NewValidator(operatorSecret string) *Validator {
	return NewValidatorWithSecret(DeriveSigningSecret(operatorSecret))
}

// NewValidatorWithSecret creates a validator with an already derived signing secret.
func NewValidatorWithSecret(secret []byte) *Validator {
	return &Validator{secret: secret, now: time.Now}
}

// Validate verifies signature and expiry, parses the subject, checks the
// audience and that every permission pattern stays inside the derived namespace.
func (v *Validator) Validate(tokenString string) (*SecurityContext, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	parts, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, err
	}
	namespace := parts.Namespace()

	wantAud := AudienceFor(parts.Hive)
	if !slices.Contains([]string(claims.Audience), wantAud) {
		return nil, fmt.Errorf("%w: audience %v does not match %q", ErrAuthenticationFailed, []string(claims.Audience), wantAud)
	}

	perms := claims.NATS.Permissions
	if err := checkScoped("publish", perms.Publish, namespace); err != nil {
		return nil, err
	}
	if err := checkScoped("subscribe", perms.Subscribe, namespace); err != nil {
		return nil, err
	}

	if hc := claims.ACP; hc != nil {
		if hc.Namespace != "" && hc.Namespace != namespace {
			return nil, fmt.Errorf("%w: acp namespace %q does not match %q", ErrAuthenticationFailed, hc.Namespace, namespace)
		}
		if hc.Role != "" && hc.Role != parts.Role {
			return nil, fmt.Errorf("%w: acp role %q does not match %q", ErrAuthenticationFailed, hc.Role, parts.Role)
		}
	}

	sc := &SecurityContext{
		Subject:           claims.Subject,
		Hive:              parts.Hive,
		Namespace:         namespace,
		Role:              parts.Role,
		PID:               parts.PID,
		PublishSubjects:   slices.Clone(perms.Publish),
		SubscribeSubjects: slices.Clone(perms.Subscribe),
	}
	if claims.ExpiresAt != nil {
		sc.ExpiresAt = claims.ExpiresAt.Time
	}
	return sc, nil
}

func checkScoped(kind string, patterns []string, namespace string) error {
	for _, p := range patterns {
		if !InNamespace(p, namespace) {
			return fmt.Errorf("%w: %s permission %q escapes namespace %q", ErrAuthenticationFailed, kind, p, namespace)
		}
	}
	return nil
}

// Issuer mints agent tokens. It is used by operators and tests; agents only validate.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer keyed by the secret derived from operatorSecret.
func NewIssuer(operatorSecret string) *Issuer {
	return &Issuer{secret: DeriveSigningSecret(operatorSecret), now: time.Now}
}

// TokenRequest describes the token to mint. Empty permission lists default to
// the whole namespace ("{namespace}.>").
type TokenRequest struct {
	Hive      string
	Role      string
	PID       string // empty for a tenant-wide hive token
	ExpiresIn time.Duration
	Publish   []string
	Subscribe []string
	IssuedBy  string // recorded in the acp block of hive tokens
}

// Issue signs a token for req.
func (i *Issuer) Issue(req TokenRequest) (string, error) {
	if req.Hive == "" || req.Role == "" {
		return "", fmt.Errorf("%w: hive and role are required", ErrInvalidClaims)
	}

	namespace := NamespaceFor(req.Hive, req.Role)
	all := []string{namespace + ".>"}
	publish := req.Publish
	if len(publish) == 0 {
		publish = all
	}
	subscribe := req.Subscribe
	if len(subscribe) == 0 {
		subscribe = all
	}

	sub := "user." + req.Hive + "." + req.Role + "." + req.PID
	if req.PID == "" {
		sub = "acp." + req.Hive + "." + req.Role
	}

	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{AudienceFor(req.Hive)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.ExpiresIn)),
		},
		NATS: NATSClaims{
			Type:    "user",
			Version: 2,
			Subs:    -1,
			Data:    -1,
			Payload: -1,
			Permissions: Permissions{
				Publish:   publish,
				Subscribe: subscribe,
			},
		},
	}
	if req.PID == "" {
		claims.ACP = &HiveClaims{
			Type:        HivePID,
			Namespace:   namespace,
			Role:        req.Role,
			Permissions: []string{"publish", "subscribe"},
			IssuedBy:    req.IssuedBy,
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
