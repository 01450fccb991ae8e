package reducer

import (
	"bytes"
	"time"

	"console/internal/protocol"
	"console/internal/types"
)

// applyToolUse adds a tool_call block, or backfills name and input on a block
// that an earlier snapshot or result created with placeholders. Fields that
// already carry real values are never overwritten.
func applyToolUse(buf *types.SessionBuffer, e protocol.ToolUse) *types.SessionBuffer {
	if m, b := findTool(buf, e.CallID); m >= 0 {
		return updateTool(buf, m, b, func(tool *types.ToolCall) bool {
			changed := false
			if tool.NamePlaceholder() && e.Name != "" {
				tool.Name = e.Name
				changed = true
			}
			incoming := &types.ToolCall{Input: e.Input}
			if tool.InputPlaceholder() && !incoming.InputPlaceholder() && !bytes.Equal(tool.Input, e.Input) {
				tool.Input = e.Input
				changed = true
			}
			return changed
		})
	}

	idx, msg := assistantTarget(buf, e.MessageID, e.At)
	msg.Blocks = append(msg.CloneBlocks(), types.Block{Kind: types.BlockToolCall, Tool: &types.ToolCall{
		CallID: e.CallID,
		Name:   e.Name,
		Input:  e.Input,
	}})
	return putMessage(buf, idx, msg)
}

func applyToolResult(buf *types.SessionBuffer, e protocol.ToolResult) *types.SessionBuffer {
	if m, b := findTool(buf, e.CallID); m >= 0 {
		return updateTool(buf, m, b, func(tool *types.ToolCall) bool {
			if tool.Completed && tool.Result == e.Content && tool.IsError == e.IsError {
				return false
			}
			tool.Result = e.Content
			tool.IsError = e.IsError
			tool.Completed = true
			return true
		})
	}
	return appendFallbackTool(buf, e.At, &types.ToolCall{
		CallID:    e.CallID,
		Result:    e.Content,
		IsError:   e.IsError,
		Completed: true,
	})
}

func applyToolProgress(buf *types.SessionBuffer, e protocol.ToolProgressUpdate) *types.SessionBuffer {
	if m, b := findTool(buf, e.CallID); m >= 0 {
		return updateTool(buf, m, b, func(tool *types.ToolCall) bool {
			if tool.Progress == e.Update {
				return false
			}
			tool.Progress = e.Update
			return true
		})
	}
	return appendFallbackTool(buf, e.At, &types.ToolCall{CallID: e.CallID, Progress: e.Update})
}

// appendFallbackTool records a result or progress update for a call the
// buffer has not seen, so the output is not lost. A later tool_use backfills
// its name and input.
func appendFallbackTool(buf *types.SessionBuffer, at time.Time, tool *types.ToolCall) *types.SessionBuffer {
	idx, msg := assistantTarget(buf, "", at)
	msg.Blocks = append(msg.CloneBlocks(), types.Block{Kind: types.BlockToolCall, Tool: tool})
	return putMessage(buf, idx, msg)
}

func applyPermissionResolved(buf *types.SessionBuffer, e protocol.PermissionResolved) *types.SessionBuffer {
	next, _ := RemovePermission(buf, e.RequestID)
	if e.Cancelled() {
		next = MarkToolsCancelled(next, e.ToolUseIDs)
	}
	return next
}

// MarkToolsCancelled gives every listed call without a terminal result a
// "Cancelled" error result. Calls that already finished keep their output.
func MarkToolsCancelled(buf *types.SessionBuffer, callIDs []string) *types.SessionBuffer {
	for _, id := range callIDs {
		m, b := findTool(buf, id)
		if m < 0 {
			continue
		}
		buf = updateTool(buf, m, b, cancelTool)
	}
	return buf
}

// CancelOpenTools marks every non-terminal call in the trailing assistant
// message as cancelled. Used when a turn is abandoned locally.
func CancelOpenTools(buf *types.SessionBuffer) *types.SessionBuffer {
	idx := buf.LastAssistantIndex()
	if idx < 0 {
		return buf
	}
	var open []string
	for _, block := range buf.Messages[idx].Blocks {
		if block.Kind == types.BlockToolCall && block.Tool != nil && !block.Tool.Terminal() {
			open = append(open, block.Tool.CallID)
		}
	}
	return MarkToolsCancelled(buf, open)
}

func cancelTool(tool *types.ToolCall) bool {
	if tool.Terminal() {
		return false
	}
	tool.Result = CancelledResult
	tool.IsError = true
	tool.Completed = true
	return true
}
