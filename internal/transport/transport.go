// ABOUTME: Transport and Subscription interfaces consumed by ACP agents
// ABOUTME: Defines inbound Message and transport error taxonomy

package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/acp-hive/internal/protocol"
)

// Transport errors
var (
	// ErrTransport wraps every publish, subscribe, request or connect failure.
	ErrTransport = errors.New("transport error")
	// ErrReceiveTimeout signals that NextMessage saw nothing within its window.
	ErrReceiveTimeout = errors.New("receive timeout")
	// ErrNotConnected indicates the transport has been closed or lost its connection.
	ErrNotConnected = errors.New("transport not connected")
	// ErrSubscriptionClosed indicates the subscription was unsubscribed.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrUnsupportedScheme indicates Connect does not know the URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported broker url scheme")
	// ErrMalformedMessage indicates an inbound payload was not a valid envelope.
	ErrMalformedMessage = errors.New("malformed message")
)

// InboxPrefix starts every reply subject created by Request. It is the NATS
// client default, so both transports share it.
const InboxPrefix = "_INBOX."

// Transport is the pub/sub capability an agent coordinates over.
type Transport interface {
	Publish(ctx context.Context, subject string, env *protocol.Envelope) error
	Subscribe(ctx context.Context, subject string) (Subscription, error)
	Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error)
	IsConnected() bool
	Close() error
}

// Subscription delivers messages for one subject pattern.
type Subscription interface {
	Subject() string
	// NextMessage blocks up to timeout. It returns ErrReceiveTimeout when
	// nothing arrived and ErrSubscriptionClosed after Unsubscribe.
	NextMessage(timeout time.Duration) (*Message, error)
	Unsubscribe() error
}

// Message is an inbound envelope together with its routing information.
type Message struct {
	Subject  string
	Reply    string // non-empty when the sender expects a response
	Envelope *protocol.Envelope
}

// Options configures a connection.
type Options struct {
	URL            string
	Name           string // connection name reported to the broker
	Token          string // bearer token presented to the broker, if any
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
