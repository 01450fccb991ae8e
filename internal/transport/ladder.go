package transport

import (
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func DefaultBackoff() []time.Duration {
	return []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
	}
}

// Ladder is a fixed reconnect schedule that stays on its last step once it
// gets there. It never returns backoff.Stop: reconnects continue for as long
// as the subscription exists.
type Ladder struct {
	steps []time.Duration
	next  int
}

var _ backoff.BackOff = (*Ladder)(nil)

func NewLadder(steps ...time.Duration) *Ladder {
	steps = slices.DeleteFunc(slices.Clone(steps), func(d time.Duration) bool { return d < 0 })
	if len(steps) == 0 {
		steps = DefaultBackoff()
	}
	return &Ladder{steps: steps}
}

func (l *Ladder) NextBackOff() time.Duration {
	d := l.steps[l.next]
	if l.next < len(l.steps)-1 {
		l.next++
	}
	return d
}

func (l *Ladder) Reset() {
	l.next = 0
}
