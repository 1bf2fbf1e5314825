// ABOUTME: NATS-backed Transport using nats.go core pub/sub and request/reply
// ABOUTME: Encodes envelopes as JSON and maps client errors onto the transport taxonomy

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/acp-hive/internal/protocol"
)

const defaultConnectTimeout = 5 * time.Second

// NATSTransport is a Transport over a NATS connection.
type NATSTransport struct {
	nc     *nats.Conn
	logger *slog.Logger
}

var _ Transport = (*NATSTransport)(nil)

// ConnectNATS dials the NATS server at opts.URL. Reconnection is handled by
// the client library; subscriptions survive reconnects.
func ConnectNATS(opts Options) (*NATSTransport, error) {
	logger := opts.logger().With("component", "nats")

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	natsOpts := []nats.Option{
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from broker", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to broker", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("async broker error", "subject", subject, "error", err)
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrTransport, opts.URL, err)
	}

	logger.Info("connected to broker", "url", nc.ConnectedUrlRedacted(), "name", opts.Name)
	return &NATSTransport{nc: nc, logger: logger}, nil
}

// Publish encodes env and publishes it on subject.
func (t *NATSTransport) Publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransport, subject, err)
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %v", ErrTransport, err)
	}
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrTransport, subject, mapNATSError(err))
	}
	return nil
}

// Subscribe opens a synchronous subscription polled with NextMessage.
func (t *NATSTransport) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, subject, err)
	}
	sub, err := t.nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrTransport, subject, mapNATSError(err))
	}
	return &natsSubscription{sub: sub}, nil
}

// Request publishes env and waits up to timeout for a single reply.
func (t *NATSTransport) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %v", ErrTransport, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := t.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%w: request %s: %w", ErrTransport, subject, ErrReceiveTimeout)
		}
		return nil, fmt.Errorf("%w: request %s: %w", ErrTransport, subject, mapNATSError(err))
	}

	reply, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: reply to %s: %v", ErrMalformedMessage, subject, err)
	}
	return reply, nil
}

// IsConnected reports the client connection state.
func (t *NATSTransport) IsConnected() bool {
	return t.nc.IsConnected()
}

// Close drains pending messages and closes the connection.
func (t *NATSTransport) Close() error {
	if t.nc.IsClosed() {
		return nil
	}
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
		return fmt.Errorf("%w: draining connection: %v", ErrTransport, err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}

func (s *natsSubscription) NextMessage(timeout time.Duration) (*Message, error) {
	msg, err := s.sub.NextMsg(timeout)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrTimeout):
			return nil, ErrReceiveTimeout
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return nil, ErrSubscriptionClosed
		default:
			return nil, fmt.Errorf("%w: next message on %s: %v", ErrTransport, s.sub.Subject, err)
		}
	}

	env, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %v", ErrMalformedMessage, msg.Subject, err)
	}
	return &Message{Subject: msg.Subject, Reply: msg.Reply, Envelope: env}, nil
}

func (s *natsSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", ErrTransport, s.sub.Subject, err)
	}
	return nil
}

// mapNATSError folds connection-state errors into ErrNotConnected.
func mapNATSError(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrInvalidConnection):
		return ErrNotConnected
	default:
		return err
	}
}
