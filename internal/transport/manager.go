package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"console/internal/logging"
)

type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTraceLog(log TraceLog) Option {
	return func(m *Manager) { m.traceLog = log }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// Manager owns the subscriptions. It is safe for concurrent use.
type Manager struct {
	dialer   Dialer
	sink     Sink
	policy   Policy
	logger   logging.Logger
	traceLog TraceLog
	tracer   trace.Tracer

	// activity holds the last-activity time per session; entries expire after
	// the idle threshold and the sweep treats a missing entry as stale.
	activity *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*subscription
	active string
	closed bool

	sweepDone chan struct{}
}

func NewManager(dialer Dialer, sink Sink, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:    dialer,
		sink:      sink,
		policy:    DefaultPolicy(),
		logger:    logging.Nop(),
		tracer:    otel.Tracer("console/internal/transport"),
		ctx:       ctx,
		cancel:    cancel,
		subs:      map[string]*subscription{},
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.F("component", "transport"))
	m.activity = cache.New(m.policy.IdleThreshold, 0)
	go m.sweepLoop()
	return m
}

// Ensure starts a subscription for id unless one already exists. A
// background session that is not running gets the idle-close timer.
func (m *Manager) Ensure(id string) error {
	if id == "" {
		return ErrUnknownSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.touch(id)
	sub, ok := m.subs[id]
	if !ok {
		sub = newSubscription(m, id)
		m.subs[id] = sub
		go sub.run()
		m.logger.Debug("subscription_started", logging.F("session_id", id))
	}
	m.scheduleIdleCloseLocked(sub)
	return nil
}

// SetActive marks id as the foreground session. The foreground session is
// never closed for idleness. "" clears the foreground.
func (m *Manager) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = id
	if sub, ok := m.subs[id]; ok {
		sub.stopIdleTimer()
		m.touch(id)
	}
	if prev != "" && prev != id {
		if sub, ok := m.subs[prev]; ok {
			m.scheduleIdleCloseLocked(sub)
		}
	}
}

func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Dispose tears down the subscription for id without waiting for its
// goroutine to exit, so it may be called from within a Sink.
func (m *Manager) Dispose(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposeLocked(id, "disposed")
}

func (m *Manager) disposeLocked(id, reason string) {
	sub, ok := m.subs[id]
	if !ok {
		return
	}
	delete(m.subs, id)
	sub.stopIdleTimer()
	sub.state = StateClosed
	sub.cancel()
	m.activity.Delete(id)
	if m.active == id {
		m.active = ""
	}
	m.logger.Debug("subscription_closed", logging.F("session_id", id), logging.F("reason", reason))
	m.tracef(id, "stream closed (%s)", reason)
}

// Replace moves the subscription from oldID to newID. The foreground follows.
func (m *Manager) Replace(oldID, newID string) error {
	if oldID == newID {
		return m.Ensure(newID)
	}
	m.mu.Lock()
	wasActive := m.active == oldID
	running := false
	if sub, ok := m.subs[oldID]; ok {
		running = sub.running
	}
	m.disposeLocked(oldID, "session replaced")
	m.mu.Unlock()

	if err := m.Ensure(newID); err != nil {
		return err
	}
	if running {
		m.SetRunning(newID, true)
	}
	if wasActive {
		m.SetActive(newID)
	}
	return nil
}

// WaitReady blocks until the subscription for id has an open stream, the
// ready timeout elapses or ctx ends. It reports whether the stream is open.
func (m *Manager) WaitReady(ctx context.Context, id string) bool {
	m.mu.Lock()
	sub, ok := m.subs[id]
	var ready <-chan struct{}
	if ok {
		ready = sub.ready
	}
	timeout := m.policy.ReadyTimeout
	m.mu.Unlock()
	if !ok {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return true
	case <-timer.C:
		m.tracef(id, "stream not ready after %s; dispatching anyway", timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return sub.state
	}
	return StateClosed
}

func (m *Manager) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return sub.running
	}
	return false
}

// SetRunning records the liveness of the agent for id. Going running cancels
// a pending idle close; going idle in the background arms one.
func (m *Manager) SetRunning(id string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return
	}
	m.setRunningLocked(sub, running)
}

func (m *Manager) setRunningLocked(sub *subscription, running bool) {
	if m.subs[sub.id] != sub {
		return
	}
	changed := sub.running != running
	sub.running = running
	m.touch(sub.id)
	if running {
		sub.stopIdleTimer()
		return
	}
	if changed {
		m.scheduleIdleCloseLocked(sub)
	}
}

// IDs returns the sessions with a live subscription.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close stops every subscription and waits for their goroutines until ctx ends.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for id, sub := range m.subs {
		subs = append(subs, sub)
		m.disposeLocked(id, "shutdown")
	}
	m.mu.Unlock()
	m.cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			select {
			case <-sub.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("close %s: %w", sub.id, gctx.Err())
			}
		})
	}
	g.Go(func() error {
		select {
		case <-m.sweepDone:
			return nil
		case <-gctx.Done():
			return fmt.Errorf("close sweep: %w", gctx.Err())
		}
	})
	return g.Wait()
}

func (m *Manager) scheduleIdleCloseLocked(sub *subscription) {
	if sub.id == m.active || sub.running {
		return
	}
	sub.stopIdleTimer()
	sub.idleTimer = time.AfterFunc(m.policy.IdleCloseDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.subs[sub.id] != sub || sub.id == m.active || sub.running {
			return
		}
		m.disposeLocked(sub.id, "idle")
	})
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep closes background subscriptions with no activity within the idle
// threshold, whatever their running flag says.
func (m *Manager) sweep() {
	m.activity.DeleteExpired()
	fresh := m.activity.Items()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subs {
		if id == m.active {
			continue
		}
		if _, ok := fresh[id]; ok {
			continue
		}
		m.disposeLocked(id, "inactive")
	}
}

func (m *Manager) touch(id string) {
	m.activity.SetDefault(id, time.Now())
}

func (m *Manager) tracef(id, format string, args ...any) {
	if m.traceLog == nil {
		return
	}
	m.traceLog.AppendTrace(id, fmt.Sprintf(format, args...))
}
