// ABOUTME: In-process pub/sub broker with NATS-style subject matching
// ABOUTME: Fans envelopes out to subscribers, dropping only non-barrier traffic when full

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/acp-hive/internal/protocol"
)

const (
	// subscriberBufferSize is the channel buffer for each subscription.
	subscriberBufferSize = 256

	// stepDeliveryWait bounds how long a publisher waits on a full
	// subscription before a STEP message is dropped.
	stepDeliveryWait = 5 * time.Second
)


// delivery is a message in flight. Envelopes travel encoded so subscribers
// never share memory with the publisher.
type delivery struct {
	subject string
	reply   string
	data    []byte
	step    bool // STEP messages wait for buffer space instead of dropping
}

// MemoryBroker routes messages between MemoryTransport connections in one process.
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string]*memorySubscription // subID -> subscription
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewMemoryBroker creates an empty broker. Pass nil logger for default.
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subs:   make(map[string]*memorySubscription),
		logger: logger.With("component", "memory-broker"),
	}
}

// Connect opens a new connection to the broker.
func (b *MemoryBroker) Connect(name string) *MemoryTransport {
	t := &MemoryTransport{
		broker: b,
		name:   name,
		subs:   make(map[string]*memorySubscription),
	}
	t.connected.Store(true)
	return t
}

// Dropped returns how many deliveries were discarded for full subscriptions.
func (b *MemoryBroker) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (b *MemoryBroker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBroker) add(sub *memorySubscription) {
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
}

func (b *MemoryBroker) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// publish delivers d to every matching subscription. Messages for a full
// subscription are dropped, except STEP messages which wait up to
// stepDeliveryWait because a lost completion stalls the barrier until timeout.
func (b *MemoryBroker) publish(d delivery) {
	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchTokens(sub.subject, d.subject) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.offer(d) {
			total := b.dropped.Add(1)
			b.logger.Warn("dropped message for slow subscriber",
				"subject", d.subject,
				"subscription", sub.subject,
				"step_message", d.step,
				"dropped_total", total)
		}
	}
}

// MemoryTransport is a connection to a MemoryBroker.
type MemoryTransport struct {
	broker    *MemoryBroker
	name      string
	connected atomic.Bool

	mu   sync.Mutex
	subs map[string]*memorySubscription
}

var _ Transport = (*MemoryTransport)(nil)

// Publish encodes env and fans it out to matching subscriptions.
func (t *MemoryTransport) Publish(ctx context.Context, subject string, env *protocol.Envelope) error {
	return t.publish(ctx, subject, "", env)
}

func (t *MemoryTransport) publish(ctx context.Context, subject, reply string, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransport, subject, err)
	}
	if !t.connected.Load() {
		return fmt.Errorf("%w: publish %s: %w", ErrTransport, subject, ErrNotConnected)
	}
	if err := validSubject(subject, false); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrTransport, err)
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %v", ErrTransport, err)
	}
	t.broker.publish(delivery{
		subject: subject,
		reply:   reply,
		data:    data,
		step:    env.MessageType == protocol.MessageTypeStep,
	})
	return nil
}

// Subscribe registers interest in subject, which may contain wildcards.
func (t *MemoryTransport) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	return t.subscribe(ctx, subject)
}

func (t *MemoryTransport) subscribe(ctx context.Context, subject string) (*memorySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, subject, err)
	}
	if !t.connected.Load() {
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrTransport, subject, ErrNotConnected)
	}
	if err := validSubject(subject, true); err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrTransport, err)
	}

	sub := &memorySubscription{
		id:      uuid.New().String(),
		subject: subject,
		ch:      make(chan delivery, subscriberBufferSize),
		done:    make(chan struct{}),
		owner:   t,
	}

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()
	t.broker.add(sub)
	return sub, nil
}

// Request publishes env with a private reply inbox and waits for one response.
func (t *MemoryTransport) Request(ctx context.Context, subject string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	inbox := InboxPrefix + uuid.New().String()
	sub, err := t.subscribe(ctx, inbox)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := t.publish(ctx, subject, inbox, env); err != nil {
		return nil, err
	}

	msg, err := sub.next(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %w", ErrTransport, subject, err)
	}
	return msg.Envelope, nil
}

// IsConnected reports whether Close has not been called.
func (t *MemoryTransport) IsConnected() bool {
	return t.connected.Load()
}

// Close unsubscribes every subscription opened through this connection.
// It is safe to call multiple times.
func (t *MemoryTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}

	t.mu.Lock()
	subs := make([]*memorySubscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

type memorySubscription struct {
	id      string
	subject string
	ch      chan delivery
	done    chan struct{}
	once    sync.Once
	owner   *MemoryTransport
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) offer(d delivery) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.ch <- d:
		return true
	default:
	}
	if !d.step {
		return false
	}

	timer := time.NewTimer(stepDeliveryWait)
	defer timer.Stop()
	select {
	case s.ch <- d:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *memorySubscription) NextMessage(timeout time.Duration) (*Message, error) {
	return s.next(context.Background(), timeout)
}

func (s *memorySubscription) next(ctx context.Context, timeout time.Duration) (*Message, error) {
	// Buffered messages are drained before the closed signal is honored.
	select {
	case d := <-s.ch:
		return decode(d)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-s.ch:
		return decode(d)
	case <-s.done:
		return nil, ErrSubscriptionClosed
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.owner.broker.remove(s.id)
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
	})
	return nil
}

func decode(d delivery) (*Message, error) {
	env, err := protocol.Unmarshal(d.data)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %v", ErrMalformedMessage, d.subject, err)
	}
	return &Message{Subject: d.subject, Reply: d.reply, Envelope: env}, nil
}

// matchTokens applies NATS subject semantics: "*" matches exactly one token
// and a final ">" matches one or more remaining tokens.
func matchTokens(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

func validSubject(subject string, allowWildcards bool) error {
	if subject == "" {
		return fmt.Errorf("empty subject")
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("subject %q has an empty token", subject)
		}
		if tok == "*" || tok == ">" {
			if !allowWildcards {
				return fmt.Errorf("subject %q contains a wildcard", subject)
			}
			if tok == ">" && i != len(tokens)-1 {
				return fmt.Errorf("subject %q has '>' before the last token", subject)
			}
		}
	}
	return nil
}
