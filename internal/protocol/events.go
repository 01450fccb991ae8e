package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"console/internal/types"
)

type Kind string

// Notification kinds carried inside rpc-notification frames.
const (
	KindAssistantTextDelta  Kind = "assistant_text_delta"
	KindThinkingTextDelta   Kind = "thinking_text_delta"
	KindCreateMessage       Kind = "create_message"
	KindToolUse             Kind = "tool_use"
	KindToolResult          Kind = "tool_result"
	KindToolProgressUpdate  Kind = "tool_progress_update"
	KindPermissionResolved  Kind = "permission_resolved"
	KindWorkingStateChanged Kind = "working_state_changed"
	KindError               Kind = "error"
	KindSettingsUpdated     Kind = "settings_updated"
	KindTokenUsageChanged   Kind = "session_token_usage_changed"
	KindMCPStatusChanged    Kind = "mcp_status_changed"
	KindMCPAuthRequired     Kind = "mcp_auth_required"
	KindWorkspaceChanged    Kind = "workspace_changed"
)

// Request kinds carried inside rpc-request frames.
const (
	KindRequestPermission Kind = "request_permission"
	KindAskUser           Kind = "ask_user"
)

// Frame-level kinds.
const (
	KindOutput            Kind = "output"
	KindTurnEnd           Kind = "turn_end"
	KindStreamError       Kind = "stream_error"
	KindSetupScript       Kind = "setup_script"
	KindSessionIDReplaced Kind = "session_id_replaced"
)

// Event is a decoded stream event. The concrete types below form a closed
// set; consumers switch on the type.
type Event interface {
	Kind() Kind
	ReceivedAt() time.Time
}

// Meta carries the receive time stamped by the decoder.
type Meta struct {
	At time.Time
}

func (m Meta) ReceivedAt() time.Time { return m.At }

type AssistantTextDelta struct {
	Meta
	MessageID  string
	BlockIndex int
	Delta      string
}

type ThinkingTextDelta struct {
	Meta
	MessageID string
	Delta     string
}

// CreateMessage is an authoritative snapshot of a message. Text holds the
// snapshot's text parts joined together.
type CreateMessage struct {
	Meta
	MessageID string
	Role      types.Role
	Text      string
	HasText   bool
	ToolUses  []types.ToolUse
}

type ToolUse struct {
	Meta
	MessageID string
	CallID    string
	Name      string
	Input     json.RawMessage
}

type ToolResult struct {
	Meta
	CallID  string
	Content string
	IsError bool
}

type ToolProgressUpdate struct {
	Meta
	CallID string
	Update string
}

type PermissionResolved struct {
	Meta
	RequestID      string
	SelectedOption string
	ToolUseIDs     []string
}

// Cancelled reports whether the selected option declines the tool uses.
func (p PermissionResolved) Cancelled() bool {
	return IsCancelOption(p.SelectedOption)
}

type WorkingStateChanged struct {
	Meta
	State string
}

// Idle reports whether the normalized state is the idle state.
func (w WorkingStateChanged) Idle() bool {
	return NormalizeWorkingState(w.State) == "idle"
}

type ErrorNotification struct {
	Meta
	Message string
}

// SettingsUpdated carries only the fields present in the notification;
// absent fields are empty.
type SettingsUpdated struct {
	Meta
	Model           string
	ReasoningEffort string
	AutonomyLevel   string
}

type TokenUsageChanged struct {
	Meta
	Usage types.TokenUsage
}

type MCPStatusChanged struct {
	Meta
	Servers []types.MCPServerStatus
}

type MCPAuthRequired struct {
	Meta
	Auth *types.MCPAuthRequest
}

type WorkspaceChanged struct {
	Meta
	Workspace types.WorkspaceInfo
}

type PermissionRequest struct {
	Meta
	Request types.PendingRequest
}

type AskUserRequest struct {
	Meta
	Request types.PendingRequest
}

// Output is a stdout, stderr or debug line from the agent process.
type Output struct {
	Meta
	Stream string
	Text   string
}

type TurnEnd struct {
	Meta
	Reason string
}

type StreamError struct {
	Meta
	Message string
}

type SetupScript struct {
	Meta
	Phase    string
	Output   string
	ExitCode *int
}

// Running reports whether the setup script is still in progress after this event.
func (s SetupScript) Running() bool {
	switch s.Phase {
	case SetupPhaseFinished, SetupPhaseFailed:
		return false
	}
	return true
}

const (
	SetupPhaseStarted  = "started"
	SetupPhaseOutput   = "output"
	SetupPhaseFinished = "finished"
	SetupPhaseFailed   = "failed"
)

type SessionIDReplaced struct {
	Meta
	OldSessionID string
	NewSessionID string
}

func (AssistantTextDelta) Kind() Kind  { return KindAssistantTextDelta }
func (ThinkingTextDelta) Kind() Kind   { return KindThinkingTextDelta }
func (CreateMessage) Kind() Kind       { return KindCreateMessage }
func (ToolUse) Kind() Kind             { return KindToolUse }
func (ToolResult) Kind() Kind          { return KindToolResult }
func (ToolProgressUpdate) Kind() Kind  { return KindToolProgressUpdate }
func (PermissionResolved) Kind() Kind  { return KindPermissionResolved }
func (WorkingStateChanged) Kind() Kind { return KindWorkingStateChanged }
func (ErrorNotification) Kind() Kind   { return KindError }
func (SettingsUpdated) Kind() Kind     { return KindSettingsUpdated }
func (TokenUsageChanged) Kind() Kind   { return KindTokenUsageChanged }
func (MCPStatusChanged) Kind() Kind    { return KindMCPStatusChanged }
func (MCPAuthRequired) Kind() Kind     { return KindMCPAuthRequired }
func (WorkspaceChanged) Kind() Kind    { return KindWorkspaceChanged }
func (PermissionRequest) Kind() Kind   { return KindRequestPermission }
func (AskUserRequest) Kind() Kind      { return KindAskUser }
func (Output) Kind() Kind              { return KindOutput }
func (TurnEnd) Kind() Kind             { return KindTurnEnd }
func (StreamError) Kind() Kind         { return KindStreamError }
func (SetupScript) Kind() Kind         { return KindSetupScript }
func (SessionIDReplaced) Kind() Kind   { return KindSessionIDReplaced }

// NormalizeWorkingState lowercases and trims a working-state string and
// folds "-" and " " into "_".
func NormalizeWorkingState(state string) string {
	state = strings.ToLower(strings.TrimSpace(state))
	state = strings.NewReplacer("-", "_", " ", "_").Replace(state)
	return state
}

// IsCancelOption reports whether a permission option value means the user
// (or the agent on their behalf) declined.
func IsCancelOption(option string) bool {
	switch NormalizeWorkingState(option) {
	case "cancel", "cancelled", "canceled", "reject", "rejected", "deny", "denied":
		return true
	}
	return false
}
