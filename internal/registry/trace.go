package registry

import (
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"console/internal/types"
)

// maxTraceLineWidth bounds one trace entry in terminal cells.
const maxTraceLineWidth = 2000

// AppendTrace records "[timestamp] line" in the session's debug trace. When
// the trace grows past the cap the oldest entries are dropped in one trim.
func (r *Registry) AppendTrace(id, line string) {
	r.AppendTraceLines(id, line)
}

// AppendTraceLines records several lines under a single buffer change.
func (r *Registry) AppendTraceLines(id string, lines ...string) {
	if len(lines) == 0 {
		return
	}
	stamp := "[" + r.now().UTC().Format(time.RFC3339Nano) + "] "
	entries := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if runewidth.StringWidth(line) > maxTraceLineWidth {
			line = runewidth.Truncate(line, maxTraceLineWidth, "…")
		}
		entries = append(entries, stamp+line)
	}

	r.mu.Lock()
	limit := r.traceCap
	r.mu.Unlock()

	r.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		next := buf.Clone()
		trace := append(slices.Clip(buf.DebugTrace), entries...)
		if over := len(trace) - limit; over > 0 {
			trace = slices.Clone(trace[over:])
		}
		next.DebugTrace = trace
		return next
	})
}

func (r *Registry) ClearTrace(id string) {
	r.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		if len(buf.DebugTrace) == 0 {
			return buf
		}
		next := buf.Clone()
		next.DebugTrace = nil
		return next
	})
}

// SetTraceCap changes the cap for future appends. Existing traces longer than
// the new cap are trimmed on their next append.
func (r *Registry) SetTraceCap(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.traceCap = n
	r.mu.Unlock()
}

func (r *Registry) TraceCap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.traceCap
}
