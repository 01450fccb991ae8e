// Package reducer folds decoded stream events into session buffers.
//
// Every function here is pure: the input buffer is never modified, a new
// buffer is returned when something changed, and the input pointer itself
// is returned when the event has no effect so callers can detect changes by
// reference comparison.
package reducer

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"console/internal/protocol"
	"console/internal/types"
)

const (
	CancelledResult = "Cancelled"
	maxSetupOutput  = 200
)

// newMessageID mints ids for messages the stream did not name. Tests swap it
// for a deterministic generator.
var newMessageID = func() string { return uuid.NewString() }

// Apply folds one event into buf. A nil buf is treated as an empty buffer.
// Events the reducer does not handle return buf itself, nil included.
func Apply(buf *types.SessionBuffer, ev protocol.Event) *types.SessionBuffer {
	if ev == nil {
		return buf
	}
	base := buf
	if base == nil {
		base = &types.SessionBuffer{}
	}
	next, ok := fold(base, ev)
	if !ok {
		return buf
	}
	return next
}

func fold(buf *types.SessionBuffer, ev protocol.Event) (*types.SessionBuffer, bool) {
	var next *types.SessionBuffer
	switch e := ev.(type) {
	case protocol.AssistantTextDelta:
		next = applyTextDelta(buf, e)
	case protocol.ThinkingTextDelta:
		next = applyThinkingDelta(buf, e)
	case protocol.CreateMessage:
		next = applyCreateMessage(buf, e)
	case protocol.ToolUse:
		next = applyToolUse(buf, e)
	case protocol.ToolResult:
		next = applyToolResult(buf, e)
	case protocol.ToolProgressUpdate:
		next = applyToolProgress(buf, e)
	case protocol.PermissionResolved:
		next = applyPermissionResolved(buf, e)
	case protocol.WorkingStateChanged:
		next = applyWorkingState(buf, e)
	case protocol.ErrorNotification:
		next = AppendError(buf, e.Message, e.At)
	case protocol.StreamError:
		next = AppendError(buf, e.Message, e.At)
	case protocol.SettingsUpdated:
		next = applySettings(buf, e)
	case protocol.TokenUsageChanged:
		next = applyTokenUsage(buf, e)
	case protocol.MCPStatusChanged:
		next = applyMCPStatus(buf, e)
	case protocol.MCPAuthRequired:
		next = applyMCPAuth(buf, e)
	case protocol.WorkspaceChanged:
		next = applyWorkspace(buf, e)
	case protocol.PermissionRequest:
		next = enqueuePermission(buf, e.Request)
	case protocol.AskUserRequest:
		next = enqueueAskUser(buf, e.Request)
	case protocol.TurnEnd:
		next = EndTurn(buf, e.At)
	case protocol.SetupScript:
		next = applySetupScript(buf, e)
	default:
		return buf, false
	}
	return next, true
}

// ApplyAll folds events in order.
func ApplyAll(buf *types.SessionBuffer, events ...protocol.Event) *types.SessionBuffer {
	for _, ev := range events {
		buf = Apply(buf, ev)
	}
	return buf
}

func replaceMessage(buf *types.SessionBuffer, idx int, msg types.Message) *types.SessionBuffer {
	next := buf.Clone()
	next.Messages = slices.Clone(buf.Messages)
	next.Messages[idx] = msg
	return next
}

func appendMessage(buf *types.SessionBuffer, msg types.Message) *types.SessionBuffer {
	next := buf.Clone()
	next.Messages = append(slices.Clip(buf.Messages), msg)
	return next
}

// putMessage writes msg back at idx, or appends it when idx is -1.
func putMessage(buf *types.SessionBuffer, idx int, msg types.Message) *types.SessionBuffer {
	if idx < 0 {
		return appendMessage(buf, msg)
	}
	return replaceMessage(buf, idx, msg)
}

// assistantTarget finds the assistant message an event belongs to. With an id
// it looks that message up; without one it uses the trailing message when it
// is an assistant message. When nothing matches it returns a fresh message
// and index -1.
func assistantTarget(buf *types.SessionBuffer, messageID string, at time.Time) (int, types.Message) {
	if messageID != "" {
		if idx := buf.MessageIndex(messageID); idx >= 0 {
			return idx, buf.Messages[idx]
		}
		return -1, types.Message{ID: messageID, Role: types.RoleAssistant, Timestamp: at}
	}
	if n := len(buf.Messages); n > 0 && buf.Messages[n-1].Role == types.RoleAssistant {
		return n - 1, buf.Messages[n-1]
	}
	return -1, types.Message{ID: newMessageID(), Role: types.RoleAssistant, Timestamp: at}
}

// findTool locates the tool_call block for callID, newest message first.
func findTool(buf *types.SessionBuffer, callID string) (msgIdx, blockIdx int) {
	if callID == "" {
		return -1, -1
	}
	for i := len(buf.Messages) - 1; i >= 0; i-- {
		if j := buf.Messages[i].ToolBlockIndex(callID); j >= 0 {
			return i, j
		}
	}
	return -1, -1
}

// updateTool applies fn to a copy of the tool call at the given position and
// returns the resulting buffer, or buf when fn reports no change.
func updateTool(buf *types.SessionBuffer, msgIdx, blockIdx int, fn func(*types.ToolCall) bool) *types.SessionBuffer {
	msg := buf.Messages[msgIdx]
	blocks := msg.CloneBlocks()
	if !fn(blocks[blockIdx].Tool) {
		return buf
	}
	msg.Blocks = blocks
	return replaceMessage(buf, msgIdx, msg)
}

func textBlockIndexes(blocks []types.Block, nonEmptyOnly bool) []int {
	var out []int
	for i, block := range blocks {
		if block.Kind != types.BlockText {
			continue
		}
		if nonEmptyOnly && block.Text == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}
