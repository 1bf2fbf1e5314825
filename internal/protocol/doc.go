// Package protocol defines the Agent Coordination Protocol wire format.
//
// # Envelope
//
// Every message exchanged between agents is an Envelope serialized as JSON:
//
//	{"agent_id":"a","step":3,"message_type":"STEP","payload":null,"timestamp":"2025-01-02T15:04:05Z"}
//
// The step field is the sender's logical step at construction time and never
// changes afterwards. The payload is opaque to the protocol.
//
// # Subjects
//
// Subjects are dot-delimited routing keys scoped by a tenant namespace:
//
//	{namespace}.acp.{step}.{agent_id}.{status|propose|step}   coordination
//	{namespace}.agents.{role}.{agent_id}.>                    direct inbox
//	{namespace}.acp.{step}.>                                  step-wide wildcard
//	{namespace}.acp.{step}.{agent_id}.>                       agent-wide wildcard
package protocol
