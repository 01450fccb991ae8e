package reducer

import (
	"encoding/json"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"console/internal/protocol"
	"console/internal/types"
)

type unknownEvent struct{ protocol.Meta }

func (unknownEvent) Kind() protocol.Kind { return "something_new" }

func genBuffer(t *rapid.T) *types.SessionBuffer {
	deltas := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{1,6}`), 0, 5).Draw(t, "seed")
	buf := types.NewSessionBuffer("s1")
	for _, d := range deltas {
		buf = Apply(buf, textDelta("m0", 0, d))
	}
	if rapid.Bool().Draw(t, "running") {
		buf = SetRunning(buf, true)
	}
	return buf
}

func TestUnknownEventReturnsSameBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := genBuffer(t)
		if Apply(buf, unknownEvent{meta()}) != buf {
			t.Fatalf("unknown event produced a new buffer")
		}
	})
}

func TestDeltaSnapshotConvergenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		deltas := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z ,.]{1,8}`), 1, 12).Draw(t, "deltas")
		buf := types.NewSessionBuffer("s1")
		for i, d := range deltas {
			index := rapid.IntRange(0, 3).Draw(t, "index")
			if i > 0 && rapid.Bool().Draw(t, "thinking") {
				buf = Apply(buf, protocol.ThinkingTextDelta{Meta: meta(), MessageID: "m1", Delta: "t"})
			}
			buf = Apply(buf, textDelta("m1", index, d))
		}
		full := strings.Join(deltas, "")
		buf = Apply(buf, snapshot("m1", full))

		idx := buf.MessageIndex("m1")
		if idx < 0 {
			t.Fatalf("message m1 missing")
		}
		var nonEmpty []string
		for _, block := range buf.Messages[idx].Blocks {
			if block.Kind == types.BlockText && block.Text != "" {
				nonEmpty = append(nonEmpty, block.Text)
			}
		}
		if len(nonEmpty) != 1 || nonEmpty[0] != full {
			t.Fatalf("text blocks %q, want exactly [%q]", nonEmpty, full)
		}
	})
}

func TestToolCorrelationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := []protocol.Event{
			toolUse("call1", "Execute", `{"command":"ls"}`),
			protocol.ToolProgressUpdate{Meta: meta(), CallID: "call1", Update: "running"},
			toolResult("call1", "a.txt", false),
		}
		order := rapid.Permutation([]int{0, 1, 2}).Draw(t, "order")
		var buf *types.SessionBuffer
		if rapid.Bool().Draw(t, "prefix") {
			buf = Apply(buf, textDelta("m1", 0, "working"))
		}
		for _, i := range order {
			buf = Apply(buf, events[i])
		}

		tools := toolBlocks(buf)
		if len(tools) != 1 {
			t.Fatalf("got %d tool blocks, want 1", len(tools))
		}
		tool := tools[0]
		var input map[string]string
		if err := json.Unmarshal(tool.Input, &input); err != nil || input["command"] != "ls" {
			t.Fatalf("input %s not populated", tool.Input)
		}
		if tool.Name != "Execute" || tool.Progress != "running" || tool.Result != "a.txt" {
			t.Fatalf("tool not fully populated: %+v", tool)
		}
	})
}

func TestApplyNeverMutatesInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := genBuffer(t)
		buf = Apply(buf, toolUse("c1", "Read", `{}`))
		before, err := json.Marshal(buf)
		if err != nil {
			t.Fatal(err)
		}
		events := []protocol.Event{
			textDelta("m0", rapid.IntRange(0, 2).Draw(t, "i"), "zz"),
			snapshot("m0", "final"),
			toolResult("c1", "out", true),
			toolUse("c1", "Read", `{"path":"p"}`),
			protocol.PermissionResolved{Meta: meta(), SelectedOption: "cancel", ToolUseIDs: []string{"c1"}},
			protocol.ErrorNotification{Meta: meta(), Message: "x"},
		}
		ev := rapid.SampledFrom(events).Draw(t, "event")
		_ = Apply(buf, ev)

		after, err := json.Marshal(buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(before) != string(after) {
			t.Fatalf("input buffer changed by %T", ev)
		}
	})
}
