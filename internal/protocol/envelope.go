// ABOUTME: Typed ACP message envelope with JSON wire encoding
// ABOUTME: Constructors for STATUS, PROPOSE and STEP messages

package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType identifies the kind of coordination message.
type MessageType string

const (
	MessageTypeStatus  MessageType = "STATUS"
	MessageTypePropose MessageType = "PROPOSE"
	MessageTypeStep    MessageType = "STEP"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeStatus, MessageTypePropose, MessageTypeStep:
		return true
	default:
		return false
	}
}

// Suffix returns the trailing subject token for the message type.
func (t MessageType) Suffix() string {
	return strings.ToLower(string(t))
}

// UnmarshalJSON rejects unknown message types.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mt := MessageType(s)
	if !mt.Valid() {
		return fmt.Errorf("unknown message type %q", s)
	}
	*t = mt
	return nil
}

// Envelope is the unit of communication between agents.
type Envelope struct {
	AgentID     string          `json:"agent_id"`
	Step        uint64          `json:"step"`
	MessageType MessageType     `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Status builds a STATUS envelope. The payload is marshaled to JSON.
func Status(agentID string, step uint64, payload any) (*Envelope, error) {
	return newEnvelope(MessageTypeStatus, agentID, step, payload)
}

// Propose builds a PROPOSE envelope. The payload is marshaled to JSON.
func Propose(agentID string, step uint64, payload any) (*Envelope, error) {
	return newEnvelope(MessageTypePropose, agentID, step, payload)
}

// StepComplete builds a STEP envelope announcing that agentID finished step.
func StepComplete(agentID string, step uint64) *Envelope {
	return &Envelope{
		AgentID:     agentID,
		Step:        step,
		MessageType: MessageTypeStep,
		Payload:     json.RawMessage("null"),
		Timestamp:   now(),
	}
}

// New builds an envelope of the given type.
func New(msgType MessageType, agentID string, step uint64, payload any) (*Envelope, error) {
	if !msgType.Valid() {
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}
	return newEnvelope(msgType, agentID, step, payload)
}

func newEnvelope(msgType MessageType, agentID string, step uint64, payload any) (*Envelope, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		AgentID:     agentID,
		Step:        step,
		MessageType: msgType,
		Payload:     raw,
		Timestamp:   now(),
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		return data, nil
	}
}

// now keeps nanoseconds; the key of two envelopes sent in the same second
// must still differ.
func now() time.Time {
	return time.Now().UTC()
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Subject returns the coordination subject this envelope is published on.
func (e *Envelope) Subject(namespace string) string {
	return CoordinationSubject(namespace, e.Step, e.AgentID, e.MessageType)
}

// Key identifies an envelope for duplicate suppression.
func (e *Envelope) Key() string {
	return e.AgentID + "|" + string(e.MessageType) + "|" +
		strconv.FormatUint(e.Step, 10) + "|" + e.Timestamp.Format(time.RFC3339Nano)
}

// Marshal encodes the envelope in its wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire-form envelope and checks required fields.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.AgentID == "" {
		return nil, fmt.Errorf("decoding envelope: missing agent_id")
	}
	if !env.MessageType.Valid() {
		return nil, fmt.Errorf("decoding envelope: missing message_type")
	}
	return &env, nil
}

// String implements fmt.Stringer.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{AgentID: %s, Step: %d, Type: %s}", e.AgentID, e.Step, e.MessageType)
}
