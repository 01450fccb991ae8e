package registry

import (
	"context"
	"sync"
	"time"

	"console/internal/types"
)

const changeBufferSize = 64

type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeReplaced ChangeKind = "replaced"
)

// Change announces a new buffer value for a session. Buffer is nil for
// deletions. PreviousID is set on replacements.
type Change struct {
	Kind       ChangeKind
	SessionID  string
	PreviousID string
	Buffer     *types.SessionBuffer
	At         time.Time
}

type broker struct {
	mu         sync.RWMutex
	subs       map[chan Change]struct{}
	done       chan struct{}
	bufferSize int
}

func newBroker(size int) *broker {
	return &broker{
		subs:       map[chan Change]struct{}{},
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

func (b *broker) Subscribe(ctx context.Context) <-chan Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Change)
		close(ch)
		return ch
	default:
	}

	sub := make(chan Change, b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; !ok {
			return
		}
		delete(b.subs, sub)
		close(sub)
	}()
	return sub
}

// Publish never blocks; a full subscriber misses the change.
func (b *broker) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}
	for sub := range b.subs {
		select {
		case sub <- change:
		default:
		}
	}
}

func (b *broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}
	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = map[chan Change]struct{}{}
}

func (b *broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
