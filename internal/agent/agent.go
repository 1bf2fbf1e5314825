// ABOUTME: Agent orchestrator tying together barrier, security mode, transport and handlers.
// ABOUTME: Owns the dispatch loop that feeds inbound STEP messages into the barrier.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/barrier"
	"github.com/2389/acp-hive/internal/config"
	"github.com/2389/acp-hive/internal/dedupe"
	"github.com/2389/acp-hive/internal/protocol"
	"github.com/2389/acp-hive/internal/transport"
)

const (
	// DefaultPollInterval bounds how long a subscription reader blocks in one
	// receive, and therefore how long Stop takes to return.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultWaitInterval is how often WaitForStepComplete checks the barrier.
	DefaultWaitInterval = 100 * time.Millisecond

	// HistoryRetention is how many steps of completion sets are kept behind
	// the current step.
	HistoryRetention uint64 = 16

	dedupeTTL  = 5 * time.Minute
	dedupeSize = 4096
)

// Agent is one participant in an ACP coordination group.
type Agent struct {
	settings  config.AgentSettings
	logger    *slog.Logger
	barrier   *barrier.Barrier
	security  auth.SecurityMode
	enforcer  *auth.NamespaceEnforcer // nil in development mode
	transport transport.Transport
	router    *Router
	seen      *dedupe.Cache
	metrics   *Metrics
	now       func() time.Time

	pollInterval time.Duration
	waitInterval time.Duration

	mu      sync.Mutex // guards the lifecycle fields below
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    []transport.Subscription
}

type options struct {
	transport    transport.Transport
	logger       *slog.Logger
	validator    auth.TokenValidator
	now          func() time.Time
	pollInterval time.Duration
	waitInterval time.Duration
}

// Option customizes an Agent.
type Option func(*options)

// WithTransport uses t instead of dialing settings.BrokerURL.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithValidator replaces the HS256 validator built from the operator secret.
func WithValidator(v auth.TokenValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithClock sets the time source used for credential expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPollInterval sets the receive window of each subscription reader.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithWaitInterval sets the WaitForStepComplete polling period.
func WithWaitInterval(d time.Duration) Option {
	return func(o *options) { o.waitInterval = d }
}

// New validates settings, resolves the security mode and opens the transport.
// A JWT must validate and name the same namespace as settings; without one the
// agent runs in development mode.
func New(ctx context.Context, settings config.AgentSettings, opts ...Option) (*Agent, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := options{
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		waitInterval: DefaultWaitInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "agent", "agent_id", settings.AgentID)

	a := &Agent{
		settings:     settings,
		logger:       logger,
		barrier:      barrier.New(),
		security:     auth.DevelopmentOpen(),
		router:       NewRouter(),
		metrics:      NewMetrics(),
		now:          o.now,
		pollInterval: o.pollInterval,
		waitInterval: o.waitInterval,
	}
	// an agent is always a member of its own group
	if err := a.barrier.AddAgent(settings.AgentID); err != nil {
		return nil, err
	}

	if settings.JWTToken != "" {
		validator := o.validator
		if validator == nil {
			if settings.OperatorSecret == "" {
				return nil, fmt.Errorf("%w: operator_secret is required to validate jwt_token", config.ErrInvalidConfig)
			}
			validator = auth.NewValidator(settings.OperatorSecret)
		}
		sc, err := validator.Validate(settings.JWTToken)
		if err != nil {
			return nil, fmt.Errorf("%w: validating jwt: %w", auth.ErrAuthenticationFailed, err)
		}
		if sc.Namespace != settings.Namespace {
			return nil, fmt.Errorf("%w: token namespace %q does not match configured namespace %q",
				auth.ErrAuthenticationFailed, sc.Namespace, settings.Namespace)
		}
		a.security = auth.Enforced(sc)
		a.enforcer = auth.NewNamespaceEnforcer(sc)
		logger.Info("security context established",
			"subject", sc.Subject,
			"namespace", sc.Namespace,
			"role", sc.Role,
			"hive_token", sc.IsHiveToken(),
			"expires_at", sc.ExpiresAt,
		)
	} else {
		logger.Warn("no jwt token configured, running in development mode without namespace enforcement",
			"namespace", settings.Namespace,
		)
	}

	a.transport = o.transport
	if a.transport == nil {
		t, err := transport.Connect(ctx, transport.Options{
			URL:    settings.BrokerURL,
			Name:   settings.BrokerName,
			Token:  settings.JWTToken,
			Logger: o.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to broker: %w", err)
		}
		a.transport = t
	}

	a.seen = dedupe.New(dedupeTTL, dedupeSize)
	return a, nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.settings.AgentID }

// Role returns the configured role.
func (a *Agent) Role() string { return a.settings.Role }

// Namespace returns the namespace all subjects are built under.
func (a *Agent) Namespace() string { return a.settings.Namespace }

// Timeout returns the configured default step wait.
func (a *Agent) Timeout() time.Duration { return a.settings.Timeout }

// Security returns the agent's security mode.
func (a *Agent) Security() auth.SecurityMode { return a.security }

// Enforcer returns the namespace enforcer, or nil in development mode.
func (a *Agent) Enforcer() *auth.NamespaceEnforcer { return a.enforcer }

// Metrics returns a snapshot of the agent counters.
func (a *Agent) Metrics() MetricsSnapshot { return a.metrics.Snapshot() }

// IsRunning reports whether the dispatch loop is active.
func (a *Agent) IsRunning() bool { return a.running.Load() }

// IsConnected reports whether the transport is usable.
func (a *Agent) IsConnected() bool { return a.transport.IsConnected() }

// Start subscribes to the agent inbox and the namespace coordination wildcard
// and launches the dispatch loop. Calling Start on a running agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		if a.running.Load() {
			return nil
		}
		a.stopLocked()
	}

	subjects := []string{
		protocol.InboxWildcard(a.settings.Namespace, a.settings.Role, a.settings.AgentID),
		protocol.CoordinationWildcard(a.settings.Namespace),
	}

	subs := make([]transport.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		if err := a.checkAccess(subject, auth.OperationSubscribe); err != nil {
			unsubscribeAll(subs)
			return err
		}
		sub, err := a.transport.Subscribe(ctx, subject)
		if err != nil {
			unsubscribeAll(subs)
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.subs = subs
	a.running.Store(true)

	go a.dispatchLoop(loopCtx, subs, a.done)

	a.logger.Info("=== AGENT STARTED ===",
		"namespace", a.settings.Namespace,
		"role", a.settings.Role,
		"security", a.security.String(),
		"subscriptions", subjects,
	)
	return nil
}

// Stop cancels the dispatch loop and waits for its readers to exit, which
// takes at most one poll interval.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return
	}
	a.stopLocked()
	a.logger.Info("=== AGENT STOPPED ===", "current_step", a.barrier.CurrentStep())
}

func (a *Agent) stopLocked() {
	a.running.Store(false)
	a.cancel()
	<-a.done
	unsubscribeAll(a.subs)
	a.subs = nil
	a.cancel = nil
}

// Close stops the agent and releases the transport.
func (a *Agent) Close() error {
	a.Stop()
	a.seen.Close()
	return a.transport.Close()
}

// dispatchLoop runs one reader per subscription so a quiet subscription never
// delays another. Messages are handled one at a time on this goroutine.
func (a *Agent) dispatchLoop(ctx context.Context, subs []transport.Subscription, done chan<- struct{}) {
	defer close(done)

	readCtx, stopReaders := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopReaders()

	inbound := make(chan *transport.Message)
	lost := make(chan error, len(subs))
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.readSubscription(readCtx, sub, inbound, lost)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			a.dispatch(ctx, msg)
		case err := <-lost:
			a.logger.Warn("dispatch loop exiting", "error", err)
			a.running.Store(false)
			return
		}
	}
}

// readSubscription forwards messages from sub until ctx ends or the
// subscription becomes unusable, which is reported on lost.
func (a *Agent) readSubscription(ctx context.Context, sub transport.Subscription, inbound chan<- *transport.Message, lost chan<- error) {
	for ctx.Err() == nil {
		msg, err := sub.NextMessage(a.pollInterval)
		switch {
		case err == nil:
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		case errors.Is(err, transport.ErrReceiveTimeout):
		case errors.Is(err, transport.ErrSubscriptionClosed), errors.Is(err, transport.ErrNotConnected):
			if ctx.Err() == nil {
				lost <- fmt.Errorf("%s: %w", sub.Subject(), err)
			}
			return
		default:
			a.logger.Warn("receive failed", "subject", sub.Subject(), "error", err)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, msg *transport.Message) {
	env := msg.Envelope
	a.metrics.RecordReceived()

	// checked before dedupe so a forged copy cannot shadow the real message
	if err := a.checkSubject(msg); err != nil {
		a.metrics.RecordRejected()
		a.logger.Warn("rejecting message", "subject", msg.Subject, "error", err)
		return
	}

	if a.seen.ObserveEnvelope(env) {
		a.metrics.RecordDuplicateDropped()
		a.logger.Debug("dropping duplicate message", "key", env.Key())
		return
	}

	a.logger.Debug("message received",
		"subject", msg.Subject,
		"from", env.AgentID,
		"type", env.MessageType,
		"step", env.Step,
	)

	if env.MessageType == protocol.MessageTypeStep {
		a.recordCompletion(env.Step, env.AgentID)
	}

	if sc, ok := a.security.Context(); ok {
		ctx = auth.WithSecurity(ctx, sc)
	}
	ran, err := a.router.Route(ctx, msg)
	if !ran {
		return
	}
	a.metrics.RecordHandlerDispatch()
	if err != nil {
		a.metrics.RecordHandlerError()
		a.logger.Warn("message handler failed",
			"type", env.MessageType,
			"from", env.AgentID,
			"error", err,
		)
	}
}

// checkSubject verifies that a message on a coordination subject carries the
// namespace, step, sender and type its subject names. Other subjects pass.
func (a *Agent) checkSubject(msg *transport.Message) error {
	parsed, ok := protocol.ParseCoordinationSubject(msg.Subject)
	if !ok {
		return nil
	}
	env := msg.Envelope
	switch {
	case parsed.Namespace != a.settings.Namespace:
		return fmt.Errorf("%w: namespace %q", ErrSubjectMismatch, parsed.Namespace)
	case parsed.AgentID != env.AgentID:
		return fmt.Errorf("%w: sender %q on subject of %q", ErrSubjectMismatch, env.AgentID, parsed.AgentID)
	case parsed.Step != env.Step:
		return fmt.Errorf("%w: step %d on subject of step %d", ErrSubjectMismatch, env.Step, parsed.Step)
	case parsed.MessageType != env.MessageType:
		return fmt.Errorf("%w: type %s on subject of %s", ErrSubjectMismatch, env.MessageType, parsed.MessageType)
	}
	return nil
}

// recordCompletion feeds a completion into the barrier and advances if the
// current step is now complete.
func (a *Agent) recordCompletion(step uint64, agentID string) {
	if !a.barrier.RecordStepCompletion(step, agentID) {
		a.logger.Debug("completion for passed step", "step", step, "from", agentID)
	}
	a.tryAdvance()
}

func (a *Agent) tryAdvance() bool {
	if !a.barrier.TryAdvanceStep() {
		return false
	}
	a.metrics.RecordStepAdvanced()
	current := a.barrier.CurrentStep()
	a.logger.Info("step advanced", "current_step", current)
	a.prune(current)
	return true
}

func (a *Agent) prune(current uint64) {
	if current <= HistoryRetention {
		return
	}
	if n := a.barrier.Prune(current - HistoryRetention); n > 0 {
		a.logger.Debug("pruned completion history", "steps", n, "current_step", current)
	}
}

// checkAccess enforces credential freshness and namespace permissions.
// Development mode allows everything.
func (a *Agent) checkAccess(subject string, op auth.Operation) error {
	sc, ok := a.security.Context()
	if !ok {
		return nil
	}
	if sc.IsExpired(a.now()) {
		return fmt.Errorf("%w: token expired at %s", ErrCredentialsExpired, sc.ExpiresAt.Format(time.RFC3339))
	}
	return a.enforcer.ValidateSubjectAccess(subject, op)
}

func unsubscribeAll(subs []transport.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
