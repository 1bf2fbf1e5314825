// ABOUTME: Tests for the message-type Router and StepTimeoutError.
// ABOUTME: Validates registration, replacement, removal and error matching.

package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/transport"
)

func TestRouter(t *testing.T) {
	t.Run("routes to registered handler", func(t *testing.T) {
		r := NewRouter()
		var got *transport.Message
		r.Handle(protocol.MessageTypeStatus, HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
			got = msg
			return nil
		}))

		msg := &transport.Message{Subject: "s", Envelope: protocol.StepComplete("a", 1)}
		msg.Envelope.MessageType = protocol.MessageTypeStatus

		ran, err := r.Route(context.Background(), msg)
		if !ran || err != nil {
			t.Fatalf("Route() = %v, %v; want true, nil", ran, err)
		}
		if got != msg {
			t.Error("handler did not receive the message")
		}
	})

	t.Run("no handler", func(t *testing.T) {
		r := NewRouter()
		ran, err := r.Route(context.Background(), &transport.Message{Envelope: protocol.StepComplete("a", 1)})
		if ran || err != nil {
			t.Errorf("Route() = %v, %v; want false, nil", ran, err)
		}
	})

	t.Run("later registration replaces earlier", func(t *testing.T) {
		r := NewRouter()
		calls := ""
		r.Handle(protocol.MessageTypeStep, HandlerFunc(func(context.Context, *transport.Message) error {
			calls += "first"
			return nil
		}))
		r.Handle(protocol.MessageTypeStep, HandlerFunc(func(context.Context, *transport.Message) error {
			calls += "second"
			return nil
		}))

		if _, err := r.Route(context.Background(), &transport.Message{Envelope: protocol.StepComplete("a", 1)}); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if calls != "second" {
			t.Errorf("calls = %q, want %q", calls, "second")
		}
	})

	t.Run("nil handler removes", func(t *testing.T) {
		r := NewRouter()
		r.Handle(protocol.MessageTypeStep, HandlerFunc(func(context.Context, *transport.Message) error { return nil }))
		r.Handle(protocol.MessageTypeStep, nil)

		if _, ok := r.Lookup(protocol.MessageTypeStep); ok {
			t.Error("Lookup() found a removed handler")
		}
	})

	t.Run("handler error is returned", func(t *testing.T) {
		r := NewRouter()
		boom := errors.New("boom")
		r.Handle(protocol.MessageTypeStep, HandlerFunc(func(context.Context, *transport.Message) error { return boom }))

		ran, err := r.Route(context.Background(), &transport.Message{Envelope: protocol.StepComplete("a", 1)})
		if !ran || !errors.Is(err, boom) {
			t.Errorf("Route() = %v, %v; want true, boom", ran, err)
		}
	})
}

func TestStepTimeoutError(t *testing.T) {
	err := fmt.Errorf("mission step: %w", &StepTimeoutError{
		Step:    3,
		Pending: []string{"agent-b", "agent-c"},
		Timeout: 5 * time.Second,
	})

	if !errors.Is(err, ErrStepTimeout) {
		t.Error("errors.Is(err, ErrStepTimeout) = false")
	}

	var ste *StepTimeoutError
	if !errors.As(err, &ste) {
		t.Fatal("errors.As() failed")
	}
	if ste.Step != 3 || len(ste.Pending) != 2 {
		t.Errorf("unexpected StepTimeoutError: %+v", ste)
	}

	want := "mission step: step 3 timed out after 5s, pending agents: [agent-b, agent-c]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
