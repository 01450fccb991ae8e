package app

import "console/internal/registry"

// ChangeController drains registry changes once per tick so a burst of
// stream events turns into one redraw.
type ChangeController struct {
	changes          <-chan registry.Change
	cancel           func()
	maxEventsPerTick int
}

func NewChangeController(maxEventsPerTick int) *ChangeController {
	if maxEventsPerTick <= 0 {
		maxEventsPerTick = 256
	}
	return &ChangeController{maxEventsPerTick: maxEventsPerTick}
}

func (s *ChangeController) Reset() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.changes = nil
}

func (s *ChangeController) SetStream(ch <-chan registry.Change, cancel func()) {
	if s == nil {
		return
	}
	s.Reset()
	s.changes = ch
	s.cancel = cancel
}

// ConsumeTick returns the changes received since the last tick, keeping
// only the latest change per session in first-seen order.
func (s *ChangeController) ConsumeTick() (changes []registry.Change, closed bool) {
	if s == nil || s.changes == nil {
		return nil, false
	}
	index := map[string]int{}
	for range s.maxEventsPerTick {
		select {
		case change, ok := <-s.changes:
			if !ok {
				s.changes = nil
				s.cancel = nil
				return changes, true
			}
			if i, seen := index[change.SessionID]; seen && change.Kind == registry.ChangeUpdated && changes[i].Kind != registry.ChangeDeleted {
				kind := changes[i].Kind
				changes[i] = change
				if kind != registry.ChangeUpdated {
					changes[i].Kind = kind
				}
				continue
			}
			index[change.SessionID] = len(changes)
			changes = append(changes, change)
		default:
			return changes, false
		}
	}
	return changes, false
}
