// Package transport keeps one event-stream subscription open per session and
// owns the reconnect, readiness, idle-close and sweep policies.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrClosed         = errors.New("transport closed")
	ErrStreamEnded    = errors.New("event stream ended")
	ErrUnknownSession = errors.New("unknown session")
)

// Dialer opens the raw event stream for a session. The stream stays open
// until the reader hits an error or ctx is cancelled.
type Dialer interface {
	OpenEventStream(ctx context.Context, sessionID string) (io.ReadCloser, error)
}

type DialerFunc func(ctx context.Context, sessionID string) (io.ReadCloser, error)

func (f DialerFunc) OpenEventStream(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	return f(ctx, sessionID)
}

// RunState is how a Sink reports the two protocol facts the transport cares
// about: the agent started working, or it went idle.
type RunState interface {
	SetRunning(running bool)
}

// Sink receives raw chunks in read order. Feed is called from the session's
// own goroutine, never concurrently for the same session.
type Sink interface {
	Feed(sessionID string, chunk []byte, run RunState)
	// ResetSession drops partial data after a disconnect.
	ResetSession(sessionID string)
}

// TraceLog receives user-visible diagnostic lines for a session.
type TraceLog interface {
	AppendTrace(sessionID, line string)
}

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "closed"
	}
}

// Policy holds the timing knobs of the transport.
type Policy struct {
	Backoff         []time.Duration
	ReadyTimeout    time.Duration
	IdleCloseDelay  time.Duration
	SweepInterval   time.Duration
	IdleThreshold   time.Duration
	ReadBufferBytes int
}

func DefaultPolicy() Policy {
	return Policy{
		Backoff:         DefaultBackoff(),
		ReadyTimeout:    2 * time.Second,
		IdleCloseDelay:  5 * time.Second,
		SweepInterval:   30 * time.Second,
		IdleThreshold:   2 * time.Minute,
		ReadBufferBytes: 32 * 1024,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if len(p.Backoff) == 0 {
		p.Backoff = def.Backoff
	}
	if p.ReadyTimeout <= 0 {
		p.ReadyTimeout = def.ReadyTimeout
	}
	if p.IdleCloseDelay <= 0 {
		p.IdleCloseDelay = def.IdleCloseDelay
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = def.SweepInterval
	}
	if p.IdleThreshold <= 0 {
		p.IdleThreshold = def.IdleThreshold
	}
	if p.ReadBufferBytes <= 0 {
		p.ReadBufferBytes = def.ReadBufferBytes
	}
	return p
}
