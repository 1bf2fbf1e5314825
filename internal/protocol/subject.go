// ABOUTME: Subject derivation for ACP coordination and direct agent messaging
// ABOUTME: Builds step-scoped subjects, agent inboxes and subscription wildcards

package protocol

import (
	"strconv"
	"strings"
)

const (
	coordinationToken = "acp"
	inboxToken        = "agents"
	wildcardTail      = ">"
)

// CoordinationSubject returns {namespace}.acp.{step}.{agent_id}.{type}.
func CoordinationSubject(namespace string, step uint64, agentID string, msgType MessageType) string {
	return join(namespace, coordinationToken, strconv.FormatUint(step, 10), agentID, msgType.Suffix())
}

// DirectSubject returns {namespace}.agents.{role}.{agent_id}.{type}, which falls
// inside the recipient's inbox wildcard.
func DirectSubject(namespace, role, agentID string, msgType MessageType) string {
	return join(namespace, inboxToken, role, agentID, msgType.Suffix())
}

// InboxWildcard returns {namespace}.agents.{role}.{agent_id}.>.
func InboxWildcard(namespace, role, agentID string) string {
	return join(namespace, inboxToken, role, agentID, wildcardTail)
}

// StepWildcard returns {namespace}.acp.{step}.>.
func StepWildcard(namespace string, step uint64) string {
	return join(namespace, coordinationToken, strconv.FormatUint(step, 10), wildcardTail)
}

// AgentWildcard returns {namespace}.acp.{step}.{agent_id}.>.
func AgentWildcard(namespace string, step uint64, agentID string) string {
	return join(namespace, coordinationToken, strconv.FormatUint(step, 10), agentID, wildcardTail)
}

// CoordinationWildcard returns {namespace}.acp.>, covering every step.
func CoordinationWildcard(namespace string) string {
	return join(namespace, coordinationToken, wildcardTail)
}

// ParsedSubject holds the tokens of a coordination subject.
type ParsedSubject struct {
	Namespace   string
	Step        uint64
	AgentID     string
	MessageType MessageType
}

// ParseCoordinationSubject splits a subject built by CoordinationSubject.
// The namespace may itself contain dots, so parsing anchors on the tail.
func ParseCoordinationSubject(subject string) (ParsedSubject, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 5 {
		return ParsedSubject{}, false
	}
	n := len(parts)
	if parts[n-4] != coordinationToken {
		return ParsedSubject{}, false
	}
	step, err := strconv.ParseUint(parts[n-3], 10, 64)
	if err != nil {
		return ParsedSubject{}, false
	}
	msgType := MessageType(strings.ToUpper(parts[n-1]))
	if !msgType.Valid() || parts[n-2] == "" {
		return ParsedSubject{}, false
	}
	return ParsedSubject{
		Namespace:   strings.Join(parts[:n-4], "."),
		Step:        step,
		AgentID:     parts[n-2],
		MessageType: msgType,
	}, true
}

func join(tokens ...string) string {
	return strings.Join(tokens, ".")
}
