// Package demux turns raw stream chunks into reducer applications on the
// right session buffer.
package demux

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"console/internal/logging"
	"console/internal/protocol"
	"console/internal/reducer"
	"console/internal/registry"
	"console/internal/transport"
	"console/internal/types"
)

// ReplaceFunc is called when the agent announces a new id for a session.
// It runs on the session's stream goroutine and must not block on it.
type ReplaceFunc func(oldID, newID string)

type Option func(*Demux)

func WithLogger(logger logging.Logger) Option {
	return func(d *Demux) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithReplaceHook(fn ReplaceFunc) Option {
	return func(d *Demux) { d.onReplace = fn }
}

// WithStreamDebug records every decoded frame kind in the session trace.
func WithStreamDebug(enabled bool) Option {
	return func(d *Demux) { d.streamDebug = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(d *Demux) {
		if now != nil {
			d.now = now
		}
	}
}

// Demux implements transport.Sink.
type Demux struct {
	registry    *registry.Registry
	logger      logging.Logger
	onReplace   ReplaceFunc
	streamDebug bool
	now         func() time.Time

	mu        sync.Mutex
	splitters map[string]*protocol.FrameSplitter
	// aliases maps a replaced session id to its successor so frames still
	// in flight on the old stream land in the right buffer.
	aliases map[string]string
}

var _ transport.Sink = (*Demux)(nil)

func New(reg *registry.Registry, opts ...Option) *Demux {
	d := &Demux{
		registry:  reg,
		logger:    logging.Nop(),
		now:       time.Now,
		splitters: map[string]*protocol.FrameSplitter{},
		aliases:   map[string]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.F("component", "demux"))
	return d
}

// Feed splits chunk into frames, decodes them and applies each in order.
func (d *Demux) Feed(sessionID string, chunk []byte, run transport.RunState) {
	frames := d.splitter(sessionID).Push(chunk)
	for _, frame := range frames {
		ev, err := protocol.DecodeFrame(frame, d.now())
		if err != nil {
			d.dropFrame(d.resolve(sessionID), frame, err)
			continue
		}
		d.Dispatch(sessionID, ev, run)
	}
}

func (d *Demux) ResetSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.splitters[sessionID]; ok {
		s.Reset()
	}
}

// Forget drops the per-session frame state for id.
func (d *Demux) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.splitters, sessionID)
	delete(d.aliases, sessionID)
}

// Dispatch applies one decoded event. Working-state and turn-end events are
// mirrored into run before the buffer is updated.
func (d *Demux) Dispatch(sessionID string, ev protocol.Event, run transport.RunState) {
	id := d.resolve(sessionID)
	if d.streamDebug {
		d.registry.AppendTrace(id, "frame "+string(ev.Kind()))
	}

	switch e := ev.(type) {
	case protocol.WorkingStateChanged:
		if run != nil {
			run.SetRunning(!e.Idle())
		}
	case protocol.TurnEnd:
		if run != nil {
			run.SetRunning(false)
		}
	case protocol.Output:
		d.traceOutput(id, e)
		return
	case protocol.StreamError:
		d.registry.AppendTrace(id, "error frame: "+e.Message)
	case protocol.SessionIDReplaced:
		d.replace(id, e)
		return
	}

	d.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		return reducer.Apply(buf, ev)
	})
}

func (d *Demux) traceOutput(id string, e protocol.Output) {
	text := strings.TrimRight(ansi.Strip(e.Text), "\r\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = e.Stream + ": " + line
	}
	d.registry.AppendTraceLines(id, lines...)
}

func (d *Demux) replace(id string, e protocol.SessionIDReplaced) {
	oldID := e.OldSessionID
	if oldID == "" {
		oldID = id
	}
	newID := e.NewSessionID
	if newID == "" || newID == oldID {
		return
	}
	d.mu.Lock()
	d.aliases[oldID] = newID
	if id != oldID {
		d.aliases[id] = newID
	}
	d.mu.Unlock()

	d.logger.Info("session_id_replaced", logging.F("old_session_id", oldID), logging.F("session_id", newID))
	d.registry.AppendTrace(oldID, fmt.Sprintf("session id replaced: %s -> %s", oldID, newID))
	if d.onReplace != nil {
		d.onReplace(oldID, newID)
	}
}

func (d *Demux) resolve(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for range len(d.aliases) + 1 {
		next, ok := d.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

func (d *Demux) splitter(id string) *protocol.FrameSplitter {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.splitters[id]
	if !ok {
		s = protocol.NewFrameSplitter()
		d.splitters[id] = s
	}
	return s
}

// dropFrame discards a frame that did not decode. Unknown types are normal as
// the protocol grows and are logged at debug only.
func (d *Demux) dropFrame(id string, frame []byte, err error) {
	if !d.logger.Enabled(logging.Debug) && !d.streamDebug {
		return
	}
	preview := string(frame)
	if len(preview) > 200 {
		preview = preview[:200]
	}
	reason := "malformed"
	if errors.Is(err, protocol.ErrUnknownType) {
		reason = "unknown"
	}
	d.logger.Debug("frame_dropped", logging.F("session_id", id), logging.F("reason", reason), logging.F("error", err.Error()), logging.F("frame", preview))
	if d.streamDebug {
		d.registry.AppendTrace(id, "dropped "+reason+" frame: "+err.Error())
	}
}
