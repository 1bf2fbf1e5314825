// Package transport provides the pub/sub capability ACP agents coordinate over.
//
// # Interface
//
// Transport is deliberately small:
//
//   - Publish(ctx, subject, envelope)
//   - Subscribe(ctx, subject) returning a Subscription polled with NextMessage
//   - Request(ctx, subject, envelope, timeout) for request/reply
//   - IsConnected / Close
//
// NextMessage returns ErrReceiveTimeout when nothing arrived within the poll
// window. Callers running a poll loop treat it as a tick, not a failure.
//
// # Implementations
//
// Connect picks an implementation from the URL scheme:
//
//	mem://hive-a        in-process broker shared by every connection to "hive-a"
//	nats://host:4222    NATS server via nats.go
//	tls://host:4222     NATS server over TLS
//
// The in-process broker follows NATS subject semantics ("*" matches one token,
// a trailing ">" matches one or more) and is used for tests and single-process
// hives.
//
// # Delivery
//
// Delivery order is preserved per subject only. The in-process broker drops
// messages for subscribers whose buffers are full, so delivery is at most
// once, the same guarantee core NATS gives.
package transport
