package reducer

import (
	"slices"
	"strings"
	"time"

	"console/internal/protocol"
	"console/internal/types"
)

// applyWorkingState mirrors the agent's working state into IsRunning. Going
// idle also clears a local cancel in flight.
func applyWorkingState(buf *types.SessionBuffer, e protocol.WorkingStateChanged) *types.SessionBuffer {
	running := !e.Idle()
	if buf.IsRunning == running && (running || !buf.IsCancelling) {
		return buf
	}
	next := buf.Clone()
	next.IsRunning = running
	if !running {
		next.IsCancelling = false
	}
	return next
}

// applySettings merges only the fields present in the update and stamps
// SettingsChangedAt when at least one value actually changed.
func applySettings(buf *types.SessionBuffer, e protocol.SettingsUpdated) *types.SessionBuffer {
	settings := buf.Settings
	if e.Model != "" {
		settings.Model = e.Model
	}
	if e.ReasoningEffort != "" {
		settings.ReasoningEffort = e.ReasoningEffort
	}
	if e.AutonomyLevel != "" {
		settings.AutonomyLevel = e.AutonomyLevel
	}
	if settings == buf.Settings {
		return buf
	}
	next := buf.Clone()
	next.Settings = settings
	next.SettingsChangedAt = e.At
	return next
}

func applyTokenUsage(buf *types.SessionBuffer, e protocol.TokenUsageChanged) *types.SessionBuffer {
	if buf.TokenUsage != nil && *buf.TokenUsage == e.Usage {
		return buf
	}
	usage := e.Usage
	next := buf.Clone()
	next.TokenUsage = &usage
	return next
}

func applyMCPStatus(buf *types.SessionBuffer, e protocol.MCPStatusChanged) *types.SessionBuffer {
	if slices.Equal(buf.MCPServers, e.Servers) {
		return buf
	}
	next := buf.Clone()
	next.MCPServers = slices.Clone(e.Servers)
	return next
}

func applyMCPAuth(buf *types.SessionBuffer, e protocol.MCPAuthRequired) *types.SessionBuffer {
	if buf.MCPAuth == nil && e.Auth == nil {
		return buf
	}
	if buf.MCPAuth != nil && e.Auth != nil && *buf.MCPAuth == *e.Auth {
		return buf
	}
	next := buf.Clone()
	next.MCPAuth = nil
	if e.Auth != nil {
		auth := *e.Auth
		next.MCPAuth = &auth
	}
	return next
}

func applyWorkspace(buf *types.SessionBuffer, e protocol.WorkspaceChanged) *types.SessionBuffer {
	if buf.Workspace == e.Workspace {
		return buf
	}
	next := buf.Clone()
	next.Workspace = e.Workspace
	return next
}

// enqueuePermission appends to the FIFO queue. A request id already queued is
// ignored so a replay after reconnect does not ask twice.
func enqueuePermission(buf *types.SessionBuffer, req types.PendingRequest) *types.SessionBuffer {
	if requestIndex(buf.PendingPermissions, req.RequestID) >= 0 {
		return buf
	}
	next := buf.Clone()
	next.PendingPermissions = append(slices.Clip(buf.PendingPermissions), req)
	return next
}

func enqueueAskUser(buf *types.SessionBuffer, req types.PendingRequest) *types.SessionBuffer {
	if requestIndex(buf.PendingAskUser, req.RequestID) >= 0 {
		return buf
	}
	next := buf.Clone()
	next.PendingAskUser = append(slices.Clip(buf.PendingAskUser), req)
	return next
}

// RemovePermission drops the queued permission request with requestID and
// reports whether it was present.
func RemovePermission(buf *types.SessionBuffer, requestID string) (*types.SessionBuffer, bool) {
	idx := requestIndex(buf.PendingPermissions, requestID)
	if idx < 0 {
		return buf, false
	}
	next := buf.Clone()
	next.PendingPermissions = slices.Delete(slices.Clone(buf.PendingPermissions), idx, idx+1)
	return next, true
}

// RemoveAskUser drops the queued ask-user request with requestID and reports
// whether it was present.
func RemoveAskUser(buf *types.SessionBuffer, requestID string) (*types.SessionBuffer, bool) {
	idx := requestIndex(buf.PendingAskUser, requestID)
	if idx < 0 {
		return buf, false
	}
	next := buf.Clone()
	next.PendingAskUser = slices.Delete(slices.Clone(buf.PendingAskUser), idx, idx+1)
	return next, true
}

func requestIndex(queue []types.PendingRequest, requestID string) int {
	if requestID == "" {
		return -1
	}
	return slices.IndexFunc(queue, func(r types.PendingRequest) bool { return r.RequestID == requestID })
}

// AppendError adds an error message and ends the running state.
func AppendError(buf *types.SessionBuffer, text string, at time.Time) *types.SessionBuffer {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "Unknown error"
	}
	next := appendMessage(buf, types.Message{
		ID:        newMessageID(),
		Role:      types.RoleError,
		Blocks:    []types.Block{{Kind: types.BlockText, Text: text}},
		Timestamp: at,
	})
	next.IsRunning = false
	next.IsCancelling = false
	return next
}

// EndTurn marks the turn finished.
func EndTurn(buf *types.SessionBuffer, at time.Time) *types.SessionBuffer {
	next := buf.Clone()
	next.IsRunning = false
	next.IsCancelling = false
	next.LastTurnEndedAt = at
	return next
}

func applySetupScript(buf *types.SessionBuffer, e protocol.SetupScript) *types.SessionBuffer {
	running := e.Running()
	line := strings.TrimRight(e.Output, "\n")
	if buf.IsSetupRunning == running && line == "" {
		return buf
	}
	next := buf.Clone()
	next.IsSetupRunning = running
	if line != "" {
		out := append(slices.Clip(buf.SetupOutput), strings.Split(line, "\n")...)
		if over := len(out) - maxSetupOutput; over > 0 {
			out = slices.Clone(out[over:])
		}
		next.SetupOutput = out
	}
	return next
}

// AppendUserMessage adds a locally composed user message, records it as a
// pending send and marks the session running.
func AppendUserMessage(buf *types.SessionBuffer, msg types.Message) *types.SessionBuffer {
	if buf == nil {
		buf = &types.SessionBuffer{}
	}
	msg.Role = types.RoleUser
	next := appendMessage(buf, msg)
	next.PendingSendMessageIDs = append(slices.Clip(buf.PendingSendMessageIDs), msg.ID)
	next.IsRunning = true
	next.IsCancelling = false
	return next
}

// ClearPendingSend forgets messageID from the pending sends.
func ClearPendingSend(buf *types.SessionBuffer, messageID string) *types.SessionBuffer {
	idx := slices.Index(buf.PendingSendMessageIDs, messageID)
	if idx < 0 {
		return buf
	}
	next := buf.Clone()
	next.PendingSendMessageIDs = slices.Delete(slices.Clone(buf.PendingSendMessageIDs), idx, idx+1)
	return next
}

// RemoveMessage deletes the message with id. Used to roll back an optimistic
// message whose dispatch failed.
func RemoveMessage(buf *types.SessionBuffer, id string) *types.SessionBuffer {
	idx := buf.MessageIndex(id)
	if idx < 0 {
		return buf
	}
	next := buf.Clone()
	next.Messages = slices.Delete(slices.Clone(buf.Messages), idx, idx+1)
	return next
}

// SetCancelling flags a cancel in flight on a running session.
func SetCancelling(buf *types.SessionBuffer, cancelling bool) *types.SessionBuffer {
	if buf.IsCancelling == cancelling {
		return buf
	}
	next := buf.Clone()
	next.IsCancelling = cancelling
	return next
}

// SetRunning overrides IsRunning.
func SetRunning(buf *types.SessionBuffer, running bool) *types.SessionBuffer {
	if buf.IsRunning == running {
		return buf
	}
	next := buf.Clone()
	next.IsRunning = running
	if !running {
		next.IsCancelling = false
	}
	return next
}

// ForceEndTurn abandons the running turn locally: open tools of the latest
// assistant message are cancelled, both request queues and the pending sends
// are dropped and the turn is ended.
func ForceEndTurn(buf *types.SessionBuffer, at time.Time) *types.SessionBuffer {
	if buf == nil {
		buf = &types.SessionBuffer{}
	}
	next := EndTurn(CancelOpenTools(buf), at)
	next.PendingPermissions = nil
	next.PendingAskUser = nil
	next.PendingSendMessageIDs = nil
	return next
}
