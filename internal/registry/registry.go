// Package registry owns the per-session buffers, their generation counters
// and diagnostic traces.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"console/internal/logging"
	"console/internal/types"
)

const (
	DefaultTraceCap     = 200
	DiagnosticsTraceCap = 2000
)

var ErrDisposed = errors.New("registry disposed")

type Option func(*Registry)

func WithTraceCap(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.traceCap = n
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is safe for concurrent use. Buffers handed out are immutable
// snapshots; all changes go through Set or Update.
type Registry struct {
	mu          sync.Mutex
	buffers     map[string]*types.SessionBuffer
	generations map[string]uint64
	traceCap    int
	disposed    bool

	changes *broker
	logger  logging.Logger
	now     func() time.Time
}

func New(opts ...Option) *Registry {
	r := &Registry{
		buffers:     map[string]*types.SessionBuffer{},
		generations: map[string]uint64{},
		traceCap:    DefaultTraceCap,
		changes:     newBroker(changeBufferSize),
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispose drops every buffer and closes all subscriptions. Later calls are
// no-ops and reads return nothing.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.buffers = map[string]*types.SessionBuffer{}
	r.generations = map[string]uint64{}
	r.mu.Unlock()
	r.changes.Close()
}

func (r *Registry) Get(id string) (*types.SessionBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[id]
	return buf, ok
}

// Ensure returns the buffer for id, creating an empty one if needed.
func (r *Registry) Ensure(id string) *types.SessionBuffer {
	r.mu.Lock()
	buf, created := r.ensureLocked(id)
	r.mu.Unlock()
	if created {
		r.publish(ChangeCreated, id, buf)
	}
	return buf
}

func (r *Registry) ensureLocked(id string) (*types.SessionBuffer, bool) {
	if buf, ok := r.buffers[id]; ok {
		return buf, false
	}
	buf := types.NewSessionBuffer(id)
	if !r.disposed {
		r.buffers[id] = buf
	}
	return buf, !r.disposed
}

func (r *Registry) Set(id string, buf *types.SessionBuffer) error {
	if buf == nil {
		buf = types.NewSessionBuffer(id)
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return ErrDisposed
	}
	prev, existed := r.buffers[id]
	if existed && prev == buf {
		r.mu.Unlock()
		return nil
	}
	if buf.SessionID != id {
		buf = buf.Clone()
		buf.SessionID = id
	}
	r.buffers[id] = buf
	r.mu.Unlock()

	kind := ChangeUpdated
	if !existed {
		kind = ChangeCreated
	}
	r.publish(kind, id, buf)
	return nil
}

// Update runs fn against the current buffer for id (created if missing) and
// stores the result. fn runs under the registry lock, so it must be a pure
// transition such as reducer.Apply. Subscribers are notified only when fn
// returns a different pointer.
func (r *Registry) Update(id string, fn func(*types.SessionBuffer) *types.SessionBuffer) (*types.SessionBuffer, bool) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, false
	}
	prev, created := r.ensureLocked(id)
	next := fn(prev)
	if next == nil {
		next = prev
	}
	changed := next != prev
	if changed {
		if next.SessionID != id {
			next.SessionID = id
		}
		r.buffers[id] = next
	}
	r.mu.Unlock()

	if created {
		r.publish(ChangeCreated, id, prev)
	}
	if changed {
		r.publish(ChangeUpdated, id, next)
	}
	return next, changed
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	_, ok := r.buffers[id]
	delete(r.buffers, id)
	if ok {
		r.generations[id]++
	}
	r.mu.Unlock()
	if ok {
		r.publish(ChangeDeleted, id, nil)
	}
}

// Replace moves the buffer stored under oldID to newID and bumps both
// generations, so continuations captured against either id go stale.
func (r *Registry) Replace(oldID, newID string) (*types.SessionBuffer, error) {
	if oldID == newID {
		return r.Ensure(newID), nil
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, ErrDisposed
	}
	buf, ok := r.buffers[oldID]
	if !ok {
		if existing, exists := r.buffers[newID]; exists {
			buf = existing
		} else {
			buf = types.NewSessionBuffer(newID)
		}
	} else {
		buf = buf.Clone()
		buf.SessionID = newID
	}
	delete(r.buffers, oldID)
	r.buffers[newID] = buf
	r.generations[oldID]++
	r.generations[newID]++
	r.mu.Unlock()

	r.logger.Debug("session_replaced", logging.F("old_session_id", oldID), logging.F("session_id", newID), logging.F("had_buffer", ok))

	if ok {
		r.publish(ChangeDeleted, oldID, nil)
	}
	r.publish(ChangeReplaced, newID, buf, oldID)
	return buf, nil
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.buffers))
	for id := range r.buffers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// BumpGeneration advances the generation for id and returns the new value.
func (r *Registry) BumpGeneration(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[id]++
	return r.generations[id]
}

func (r *Registry) Generation(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[id]
}

func (r *Registry) IsGenerationCurrent(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disposed && r.generations[id] == gen
}

// Subscribe returns a channel of buffer changes. Slow subscribers miss
// changes rather than block writers; the channel closes when ctx ends or the
// registry is disposed.
func (r *Registry) Subscribe(ctx context.Context) <-chan Change {
	return r.changes.Subscribe(ctx)
}

func (r *Registry) publish(kind ChangeKind, id string, buf *types.SessionBuffer, previous ...string) {
	change := Change{Kind: kind, SessionID: id, Buffer: buf, At: r.now()}
	if len(previous) > 0 {
		change.PreviousID = previous[0]
	}
	r.changes.Publish(change)
}
