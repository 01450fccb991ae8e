// Package app connects the stream engine to a Bubble Tea program. It owns no
// rendering: a presentation model embeds a Bridge, forwards messages to it
// and reads session snapshots back.
package app

import (
	"context"
	"maps"
	"slices"
	"time"

	tea "charm.land/bubbletea/v2"

	"console/internal/registry"
	"console/internal/session"
	"console/internal/types"
)

const (
	defaultTickInterval   = 50 * time.Millisecond
	defaultRestartTimeout = 2 * time.Minute
)

// SessionAPI is the turn surface a presentation layer drives.
type SessionAPI interface {
	Submit(ctx context.Context, id, prompt string, params session.TurnParams) error
	Cancel(id string)
	ForceCancel(id string)
	RespondPermission(id, requestID, selectedOption string) bool
	RespondAskUser(id, requestID string, cancelled bool, answers []types.AskUserAnswer) bool
	Restart(ctx context.Context, id string) (string, error)
}

type StreamAPI interface {
	Ensure(id string) error
	SetActive(id string)
}

type BridgeOption func(*Bridge)

func WithTickInterval(interval time.Duration) BridgeOption {
	return func(b *Bridge) {
		if interval > 0 {
			b.tick = interval
		}
	}
}

func WithMaxChangesPerTick(n int) BridgeOption {
	return func(b *Bridge) { b.changes = NewChangeController(n) }
}

type Bridge struct {
	registry  *registry.Registry
	sessions  SessionAPI
	streams   StreamAPI
	changes   *ChangeController
	snapshots map[string]*types.SessionBuffer
	active    string
	tick      time.Duration
}

func NewBridge(reg *registry.Registry, sessions SessionAPI, streams StreamAPI, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		registry:  reg,
		sessions:  sessions,
		streams:   streams,
		changes:   NewChangeController(0),
		snapshots: map[string]*types.SessionBuffer{},
		tick:      defaultTickInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init subscribes to the registry and starts the tick loop.
func (b *Bridge) Init() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	b.changes.SetStream(b.registry.Subscribe(ctx), cancel)
	for _, id := range b.registry.IDs() {
		if buf, ok := b.registry.Get(id); ok {
			b.snapshots[id] = buf
		}
	}
	return tickCmd(b.tick)
}

// Update folds bridge messages into the snapshots. Every message is also
// meant for the embedding model; the returned command may be nil.
func (b *Bridge) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tickMsg:
		changes, closed := b.changes.ConsumeTick()
		changed := b.apply(changes)
		var cmds []tea.Cmd
		if changed != nil {
			cmds = append(cmds, func() tea.Msg { return *changed })
		}
		if closed {
			cmds = append(cmds, func() tea.Msg { return ChangesClosedMsg{} })
		} else {
			cmds = append(cmds, tickCmd(b.tick))
		}
		return tea.Batch(cmds...)
	case OpenResultMsg:
		if msg.Err == nil {
			b.active = msg.SessionID
			if buf, ok := b.registry.Get(msg.SessionID); ok {
				b.snapshots[msg.SessionID] = buf
			}
		}
	case RestartResultMsg:
		if msg.Err == nil && msg.SessionID == b.active && msg.NewSessionID != "" {
			b.active = msg.NewSessionID
		}
	}
	return nil
}

// apply treats each change as a signal that a session is dirty. Snapshots
// are re-read from the registry because the broker drops changes for slow
// subscribers and may deliver concurrent updates out of order.
func (b *Bridge) apply(changes []registry.Change) *SessionsChangedMsg {
	if len(changes) == 0 {
		return nil
	}
	out := SessionsChangedMsg{}
	for _, change := range changes {
		if change.Kind == registry.ChangeReplaced {
			delete(b.snapshots, change.PreviousID)
			if out.Renamed == nil {
				out.Renamed = map[string]string{}
			}
			out.Renamed[change.PreviousID] = change.SessionID
			if b.active == change.PreviousID {
				b.active = change.SessionID
			}
		}
		if b.refresh(change.SessionID) {
			out.Updated = append(out.Updated, change.SessionID)
		} else {
			out.Removed = append(out.Removed, change.SessionID)
		}
	}
	return &out
}

// refresh reloads the snapshot for id and reports whether the session still
// exists.
func (b *Bridge) refresh(id string) bool {
	buf, ok := b.registry.Get(id)
	if !ok {
		delete(b.snapshots, id)
		return false
	}
	b.snapshots[id] = buf
	return true
}

func (b *Bridge) Snapshot(id string) (*types.SessionBuffer, bool) {
	buf, ok := b.snapshots[id]
	return buf, ok
}

// ActiveSnapshot returns the foreground session's buffer.
func (b *Bridge) ActiveSnapshot() (*types.SessionBuffer, bool) {
	return b.Snapshot(b.active)
}

func (b *Bridge) Active() string {
	return b.active
}

func (b *Bridge) IDs() []string {
	return slices.Sorted(maps.Keys(b.snapshots))
}

func (b *Bridge) Open(id string) tea.Cmd {
	return openSessionCmd(b.streams, id)
}

func (b *Bridge) Submit(id, prompt string, params session.TurnParams) tea.Cmd {
	return submitCmd(b.sessions, id, prompt, params)
}

func (b *Bridge) Cancel(id string) tea.Cmd {
	return cancelCmd(b.sessions, id, false)
}

func (b *Bridge) ForceCancel(id string) tea.Cmd {
	return cancelCmd(b.sessions, id, true)
}

func (b *Bridge) RespondPermission(id, requestID, selectedOption string) tea.Cmd {
	return respondPermissionCmd(b.sessions, id, requestID, selectedOption)
}

func (b *Bridge) RespondAskUser(id, requestID string, cancelled bool, answers []types.AskUserAnswer) tea.Cmd {
	return respondAskUserCmd(b.sessions, id, requestID, cancelled, answers)
}

func (b *Bridge) Restart(id string) tea.Cmd {
	return restartCmd(b.sessions, id, defaultRestartTimeout)
}

// Close stops listening to the registry.
func (b *Bridge) Close() {
	b.changes.Reset()
}
