package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"console/internal/registry"
	"console/internal/session"
	"console/internal/types"
)

type fakeSessions struct {
	submitted []string
	cancels   []string
	forced    []string
	responded []string
	restartID string
	submitErr error
}

func (f *fakeSessions) Submit(ctx context.Context, id, prompt string, params session.TurnParams) error {
	f.submitted = append(f.submitted, id+":"+prompt)
	return f.submitErr
}

func (f *fakeSessions) Cancel(id string)      { f.cancels = append(f.cancels, id) }
func (f *fakeSessions) ForceCancel(id string) { f.forced = append(f.forced, id) }

func (f *fakeSessions) RespondPermission(id, requestID, selectedOption string) bool {
	f.responded = append(f.responded, requestID)
	return len(f.responded) == 1
}

func (f *fakeSessions) RespondAskUser(id, requestID string, cancelled bool, answers []types.AskUserAnswer) bool {
	f.responded = append(f.responded, requestID)
	return true
}

func (f *fakeSessions) Restart(ctx context.Context, id string) (string, error) {
	return f.restartID, nil
}

type fakeStreams struct {
	ensured []string
	active  string
	err     error
}

func (f *fakeStreams) Ensure(id string) error {
	f.ensured = append(f.ensured, id)
	return f.err
}

func (f *fakeStreams) SetActive(id string) { f.active = id }

func newTestBridge(t *testing.T) (*Bridge, *registry.Registry, *fakeSessions, *fakeStreams) {
	t.Helper()
	reg := registry.New()
	sessions := &fakeSessions{}
	streams := &fakeStreams{}
	b := NewBridge(reg, sessions, streams, WithTickInterval(time.Millisecond))
	t.Cleanup(func() {
		b.Close()
		reg.Dispose()
	})
	return b, reg, sessions, streams
}

func waitForChanges(t *testing.T, b *Bridge, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_ = b.Update(tickMsg(time.Now()))
		if len(b.IDs()) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sessions, have %v", want, b.IDs())
}

func TestBridgeTracksRegistrySnapshots(t *testing.T) {
	b, reg, _, _ := newTestBridge(t)
	reg.Ensure("existing")
	if cmd := b.Init(); cmd == nil {
		t.Fatalf("expected tick command from Init")
	}
	if _, ok := b.Snapshot("existing"); !ok {
		t.Fatalf("expected initial snapshot for existing session")
	}

	reg.Update("s1", func(buf *types.SessionBuffer) *types.SessionBuffer {
		next := buf.Clone()
		next.IsRunning = true
		return next
	})
	waitForChanges(t, b, 2)

	buf, ok := b.Snapshot("s1")
	if !ok || !buf.IsRunning {
		t.Fatalf("unexpected snapshot: %#v", buf)
	}
}

func TestBridgeActiveFollowsReplacement(t *testing.T) {
	b, reg, _, streams := newTestBridge(t)
	b.Init()

	msg := b.Open("old")()
	open, ok := msg.(OpenResultMsg)
	if !ok || open.Err != nil {
		t.Fatalf("unexpected open result: %#v", msg)
	}
	if streams.active != "old" {
		t.Fatalf("expected stream foreground to be set, got %q", streams.active)
	}
	b.Update(open)
	if b.Active() != "old" {
		t.Fatalf("expected active old, got %q", b.Active())
	}

	reg.Ensure("old")
	if _, err := reg.Replace("old", "new"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for b.Active() != "new" && time.Now().Before(deadline) {
		b.Update(tickMsg(time.Now()))
		time.Sleep(time.Millisecond)
	}
	if b.Active() != "new" {
		t.Fatalf("expected active to follow replacement, got %q", b.Active())
	}
	if _, ok := b.Snapshot("old"); ok {
		t.Fatalf("old snapshot should be gone")
	}
	if _, ok := b.ActiveSnapshot(); !ok {
		t.Fatalf("expected active snapshot")
	}
}

func TestBridgeOpenFailure(t *testing.T) {
	b, _, _, streams := newTestBridge(t)
	streams.err = errors.New("closed")
	msg := b.Open("s1")().(OpenResultMsg)
	if msg.Err == nil {
		t.Fatalf("expected open error")
	}
	b.Update(msg)
	if b.Active() != "" || streams.active != "" {
		t.Fatalf("failed open must not change the foreground")
	}
}

func TestBridgeCommands(t *testing.T) {
	b, _, sessions, _ := newTestBridge(t)

	submit := b.Submit("s1", "\x1b[31mhello\x1b[0m ", session.TurnParams{})().(SubmitResultMsg)
	if submit.Err != nil || len(sessions.submitted) != 1 || sessions.submitted[0] != "s1:hello" {
		t.Fatalf("unexpected submit: %#v %v", submit, sessions.submitted)
	}

	if msg := b.Cancel("s1")().(CancelRequestedMsg); msg.Force || len(sessions.cancels) != 1 {
		t.Fatalf("unexpected cancel: %#v", msg)
	}
	if msg := b.ForceCancel("s1")().(CancelRequestedMsg); !msg.Force || len(sessions.forced) != 1 {
		t.Fatalf("unexpected force cancel: %#v", msg)
	}

	first := b.RespondPermission("s1", "r1", "proceed_once")().(RespondResultMsg)
	second := b.RespondPermission("s1", "r1", "proceed_once")().(RespondResultMsg)
	if !first.Sent || second.Sent {
		t.Fatalf("unexpected respond results: %#v %#v", first, second)
	}
	if msg := b.RespondAskUser("s1", "q1", true, nil)().(RespondResultMsg); !msg.Sent || msg.RequestID != "q1" {
		t.Fatalf("unexpected ask-user result: %#v", msg)
	}
}

func TestBridgeRestartMovesActive(t *testing.T) {
	b, _, sessions, _ := newTestBridge(t)
	sessions.restartID = "s2"
	b.Update(OpenResultMsg{SessionID: "s1"})

	msg := b.Restart("s1")().(RestartResultMsg)
	b.Update(msg)
	if b.Active() != "s2" {
		t.Fatalf("expected active s2, got %q", b.Active())
	}
}

func TestBridgeReportsClosedRegistry(t *testing.T) {
	b, reg, _, _ := newTestBridge(t)
	b.Init()
	reg.Dispose()

	changes, closed := b.changes.ConsumeTick()
	if !closed {
		t.Fatalf("expected closed after dispose, got %#v", changes)
	}
}

func TestBridgeSnapshotsSurviveChangeBursts(t *testing.T) {
	b, reg, _, _ := newTestBridge(t)
	b.Init()

	reg.Update("s1", func(buf *types.SessionBuffer) *types.SessionBuffer {
		next := buf.Clone()
		next.IsRunning = true
		return next
	})
	for range 100 {
		reg.Update("s1", func(buf *types.SessionBuffer) *types.SessionBuffer {
			next := buf.Clone()
			next.Settings.Model += "x"
			return next
		})
	}
	reg.Update("s1", func(buf *types.SessionBuffer) *types.SessionBuffer {
		next := buf.Clone()
		next.IsRunning = false
		return next
	})

	for range 5 {
		b.Update(tickMsg(time.Now()))
	}
	latest, _ := reg.Get("s1")
	got, ok := b.Snapshot("s1")
	if !ok || got != latest {
		t.Fatalf("snapshot is stale after the burst: registry model has %d chars, bridge shows %#v", len(latest.Settings.Model), got)
	}
	if got.IsRunning || got.Settings.Model != strings.Repeat("x", 100) {
		t.Fatalf("unexpected snapshot: running=%v model=%d", got.IsRunning, len(got.Settings.Model))
	}
}

func TestBridgeDeleteThenRecreateKeepsSession(t *testing.T) {
	b, reg, _, _ := newTestBridge(t)
	b.Init()

	reg.Ensure("s1")
	reg.Delete("s1")
	reg.Ensure("s1")
	b.Update(tickMsg(time.Now()))

	if _, ok := b.Snapshot("s1"); !ok {
		t.Fatalf("recreated session must keep a snapshot")
	}
}
