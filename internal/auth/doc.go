// Package auth provides token validation and tenant isolation for ACP agents.
//
// # Tokens
//
// Agents present an HS256 JWT signed with a secret derived from the operator
// secret:
//
//	secret := hex(SHA256(operator_secret || "b00t-nats-user-jwt-salt"))
//
// The secret is derived on demand by DeriveSigningSecret and never stored.
// The sub claim takes one of two shapes:
//
//   - user.{hive}.{role}.{pid}: a per-process user token
//   - acp.{hive}.{role}: a tenant-wide hive token (pid is "hive")
//
// The audience must be github.{hive}. Validator.Validate derives the
// namespace account.{hive}.{role} and rejects the token if any publish or
// subscribe permission escapes that namespace. The check happens at
// validation time so a SecurityContext can only ever hold scoped patterns.
//
// # Security Modes
//
// SecurityMode is Enforced(ctx) when a token was validated and
// DevelopmentOpen otherwise. Callers check the mode at every
// namespace-sensitive call site:
//
//	if sc, ok := mode.Context(); ok {
//	    err := NewNamespaceEnforcer(sc).ValidateSubjectAccess(subject, OperationPublish)
//	}
//
// # Subject Patterns
//
//   - "a.b.>" matches any subject starting with "a.b."
//   - "a.*.c" matches three-segment subjects with a and c in place
//   - anything else requires exact equality
//
// Credentials are not renewed. Once ExpiresAt passes the agent must reconnect
// with a fresh token.
package auth
