package app

import (
	"testing"

	"console/internal/registry"
	"console/internal/types"
)

func TestChangeControllerCoalescesAndCloses(t *testing.T) {
	stream := NewChangeController(10)
	ch := make(chan registry.Change, 8)
	stream.SetStream(ch, nil)

	first := &types.SessionBuffer{SessionID: "s1"}
	latest := &types.SessionBuffer{SessionID: "s1", IsRunning: true}
	ch <- registry.Change{Kind: registry.ChangeCreated, SessionID: "s1", Buffer: first}
	ch <- registry.Change{Kind: registry.ChangeUpdated, SessionID: "s2", Buffer: &types.SessionBuffer{SessionID: "s2"}}
	ch <- registry.Change{Kind: registry.ChangeUpdated, SessionID: "s1", Buffer: latest}

	changes, closed := stream.ConsumeTick()
	if closed {
		t.Fatalf("expected open stream")
	}
	if len(changes) != 2 {
		t.Fatalf("expected coalesced changes, got %#v", changes)
	}
	if changes[0].SessionID != "s1" || changes[0].Buffer != latest || changes[0].Kind != registry.ChangeCreated {
		t.Fatalf("unexpected first change: %#v", changes[0])
	}

	changes, closed = stream.ConsumeTick()
	if closed || len(changes) != 0 {
		t.Fatalf("expected empty tick, got %#v closed=%v", changes, closed)
	}

	close(ch)
	_, closed = stream.ConsumeTick()
	if !closed {
		t.Fatalf("expected closed=true when channel is closed")
	}
}

func TestChangeControllerKeepsDeleteThenCreate(t *testing.T) {
	stream := NewChangeController(10)
	ch := make(chan registry.Change, 4)
	stream.SetStream(ch, nil)

	ch <- registry.Change{Kind: registry.ChangeDeleted, SessionID: "s1"}
	ch <- registry.Change{Kind: registry.ChangeUpdated, SessionID: "s1", Buffer: &types.SessionBuffer{}}

	changes, _ := stream.ConsumeTick()
	if len(changes) != 2 || changes[0].Kind != registry.ChangeDeleted {
		t.Fatalf("delete must not be coalesced away: %#v", changes)
	}
}

func TestChangeControllerBoundsEventsPerTick(t *testing.T) {
	stream := NewChangeController(2)
	ch := make(chan registry.Change, 4)
	stream.SetStream(ch, nil)
	for _, id := range []string{"a", "b", "c"} {
		ch <- registry.Change{Kind: registry.ChangeUpdated, SessionID: id}
	}
	changes, _ := stream.ConsumeTick()
	if len(changes) != 2 {
		t.Fatalf("expected two changes on first tick, got %d", len(changes))
	}
	changes, _ = stream.ConsumeTick()
	if len(changes) != 1 || changes[0].SessionID != "c" {
		t.Fatalf("unexpected second tick: %#v", changes)
	}
}
