// ABOUTME: Routes inbound envelopes to the handler registered for their message type.
// ABOUTME: One handler per MessageType; later registrations replace earlier ones.

package agent

import (
	"context"
	"sync"

	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/transport"
)

// Handler processes one inbound message. Handlers run inside the dispatch
// loop and must return promptly.
type Handler interface {
	HandleMessage(ctx context.Context, msg *transport.Message) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *transport.Message) error

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *transport.Message) error {
	return f(ctx, msg)
}

// Router maps message types to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[protocol.MessageType]Handler),
	}
}

// Handle registers h for msgType. A nil handler removes the registration.
func (r *Router) Handle(msgType protocol.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		delete(r.handlers, msgType)
		return
	}
	r.handlers[msgType] = h
}

// Lookup returns the handler for msgType, if any.
func (r *Router) Lookup(msgType protocol.MessageType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[msgType]
	return h, ok
}

// Route invokes the handler registered for the message's type. It reports
// whether a handler ran, along with the handler's error.
func (r *Router) Route(ctx context.Context, msg *transport.Message) (bool, error) {
	h, ok := r.Lookup(msg.Envelope.MessageType)
	if !ok {
		return false, nil
	}
	return true, h.HandleMessage(ctx, msg)
}
