// ABOUTME: Namespace enforcement for mission access and subject publish/subscribe checks
// ABOUTME: Confines every operation to the tenant namespace of a SecurityContext

package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Enforcement errors
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidMissionID = errors.New("invalid mission id")
)

// Operation is a pub/sub operation checked against the allowed patterns.
type Operation int

const (
	OperationPublish Operation = iota
	OperationSubscribe
)

// String implements fmt.Stringer.
func (o Operation) String() string {
	switch o {
	case OperationPublish:
		return "publish"
	case OperationSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// NamespaceEnforcer checks requested operations against a SecurityContext.
type NamespaceEnforcer struct {
	sc *SecurityContext
}

// NewNamespaceEnforcer creates an enforcer bound to sc.
func NewNamespaceEnforcer(sc *SecurityContext) *NamespaceEnforcer {
	return &NamespaceEnforcer{sc: sc}
}

// Namespace returns the namespace being enforced.
func (e *NamespaceEnforcer) Namespace() string {
	return e.sc.Namespace
}

// ValidateMissionAccess fails unless namespace is the context's own namespace
// and missionID contains no path-escape sequences.
func (e *NamespaceEnforcer) ValidateMissionAccess(missionID, namespace string) error {
	if missionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMissionID)
	}
	if strings.Contains(missionID, "..") || strings.ContainsAny(missionID, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator or \"..\"", ErrInvalidMissionID, missionID)
	}
	if namespace != e.sc.Namespace {
		return fmt.Errorf("%w: mission namespace %q is outside %q", ErrAccessDenied, namespace, e.sc.Namespace)
	}
	return nil
}

// ValidateSubjectAccess fails unless subject matches an allowed pattern for
// op. Unknown operations have no patterns and are always denied.
func (e *NamespaceEnforcer) ValidateSubjectAccess(subject string, op Operation) error {
	if !MatchAny(subject, e.sc.Patterns(op)) {
		return fmt.Errorf("%w: %s on %q", ErrAccessDenied, op, subject)
	}
	return nil
}
