// ABOUTME: Security context derived from a validated agent token
// ABOUTME: SecurityMode distinguishes enforced tenants from unauthenticated development mode

package auth

import (
	"context"
	"slices"
	"time"
)

// SecurityContext holds the identity and permissions extracted from a token.
// It is created once at connect time and never mutated.
type SecurityContext struct {
	Subject           string    // raw sub claim
	Hive              string    // tenant id
	Namespace         string    // account.{hive}.{role}
	Role              string    // agent role
	PID               string    // process discriminator, "hive" for tenant-wide tokens
	ExpiresAt         time.Time // credentials are stale after this instant
	PublishSubjects   []string  // validated, namespace-scoped patterns
	SubscribeSubjects []string  // validated, namespace-scoped patterns
}

// IsHiveToken reports whether the context came from a tenant-wide acp.* token.
func (s *SecurityContext) IsHiveToken() bool {
	return s.PID == HivePID
}

// IsExpired reports whether the credentials are stale at now.
func (s *SecurityContext) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Patterns returns the allowed patterns for op.
func (s *SecurityContext) Patterns(op Operation) []string {
	switch op {
	case OperationPublish:
		return slices.Clone(s.PublishSubjects)
	case OperationSubscribe:
		return slices.Clone(s.SubscribeSubjects)
	default:
		return nil
	}
}

// SecurityMode is either Enforced with a SecurityContext or DevelopmentOpen.
// The zero value is DevelopmentOpen.
type SecurityMode struct {
	ctx *SecurityContext
}

// Enforced returns a mode that checks every namespace-sensitive call against sc.
func Enforced(sc *SecurityContext) SecurityMode {
	return SecurityMode{ctx: sc}
}

// DevelopmentOpen returns an unauthenticated mode with no namespace checks.
func DevelopmentOpen() SecurityMode {
	return SecurityMode{}
}

// IsEnforced reports whether a security context is attached.
func (m SecurityMode) IsEnforced() bool {
	return m.ctx != nil
}

// Context returns the security context and true in enforced mode.
func (m SecurityMode) Context() (*SecurityContext, bool) {
	return m.ctx, m.ctx != nil
}

// String implements fmt.Stringer.
func (m SecurityMode) String() string {
	if m.IsEnforced() {
		return "enforced"
	}
	return "development"
}

// securityContextKey is the key type for storing SecurityContext in context.Context.
type securityContextKey struct{}

// WithSecurity returns a new context with the SecurityContext attached.
func WithSecurity(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// FromContext retrieves the SecurityContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc
}
