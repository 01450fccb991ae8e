package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"console/internal/logging"
)

// subscription is the connect/stream/backoff loop of one session. Fields
// other than id, ctx, cancel and done are guarded by the manager's mutex.
type subscription struct {
	m      *Manager
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state     State
	running   bool
	ready     chan struct{}
	idleTimer *time.Timer
}

func newSubscription(m *Manager, id string) *subscription {
	ctx, cancel := context.WithCancel(m.ctx)
	return &subscription{
		m:      m,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
		ready:  make(chan struct{}),
	}
}

// SetRunning implements RunState for the sink.
func (s *subscription) SetRunning(running bool) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.setRunningLocked(s, running)
}

func (s *subscription) stopIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *subscription) run() {
	defer close(s.done)
	ladder := NewLadder(s.m.policy.Backoff...)
	logger := s.m.logger.With(logging.F("session_id", s.id))

	for {
		s.setState(StateConnecting)
		err := s.stream(ladder)
		if s.ctx.Err() != nil {
			return
		}
		s.m.sink.ResetSession(s.id)
		s.disconnected()

		wait := ladder.NextBackOff()
		logger.Warn("stream_disconnected", logging.F("error", errString(err)), logging.F("retry_in", wait))
		s.m.tracef(s.id, "stream disconnected: %s; reconnecting in %s", errString(err), wait)
		s.setState(StateBackoff)

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream connects once and pumps chunks into the sink until the stream fails.
func (s *subscription) stream(ladder *Ladder) error {
	ctx, span := s.m.tracer.Start(s.ctx, "transport.connect",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	body, err := s.m.dialer.OpenEventStream(ctx, s.id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}
	span.End()
	defer body.Close()
	stop := context.AfterFunc(s.ctx, func() { _ = body.Close() })
	defer stop()

	ladder.Reset()
	s.connected()

	buf := make([]byte, s.m.policy.ReadBufferBytes)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			s.m.touch(s.id)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.m.sink.Feed(s.id, chunk, s)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return err
		}
	}
}

func (s *subscription) connected() {
	s.m.mu.Lock()
	if s.m.subs[s.id] == s {
		s.state = StateStreaming
		select {
		case <-s.ready:
		default:
			close(s.ready)
		}
		s.m.touch(s.id)
	}
	s.m.mu.Unlock()
	s.m.tracef(s.id, "stream connected")
}

// disconnected re-arms the readiness barrier.
func (s *subscription) disconnected() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
}

func (s *subscription) setState(state State) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.subs[s.id] == s {
		s.state = state
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
