package types

import "time"

type SessionSettings struct {
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	AutonomyLevel   string `json:"autonomy_level,omitempty"`
}

type WorkspaceInfo struct {
	RepoRoot     string `json:"repo_root,omitempty"`
	Branch       string `json:"branch,omitempty"`
	WorktreeType string `json:"worktree_type,omitempty"`
}

type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64 `json:"cache_creation_tokens,omitempty"`
	ThinkingTokens      int64 `json:"thinking_tokens,omitempty"`
}

type MCPServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type MCPAuthRequest struct {
	ServerName string `json:"server_name"`
	AuthURL    string `json:"auth_url,omitempty"`
}

// SessionBuffer is the reconstructed state of one conversation. Values are
// treated as immutable once published: every change produces a new buffer
// via Clone and the slices of the previous value are never written to.
type SessionBuffer struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`

	IsRunning      bool `json:"is_running"`
	IsCancelling   bool `json:"is_cancelling"`
	IsSetupRunning bool `json:"is_setup_running"`

	PendingSendMessageIDs []string         `json:"pending_send_message_ids,omitempty"`
	PendingPermissions    []PendingRequest `json:"pending_permissions,omitempty"`
	PendingAskUser        []PendingRequest `json:"pending_ask_user,omitempty"`

	DebugTrace  []string `json:"debug_trace,omitempty"`
	SetupOutput []string `json:"setup_output,omitempty"`

	Settings          SessionSettings   `json:"settings"`
	SettingsChangedAt time.Time         `json:"settings_changed_at,omitempty"`
	Workspace         WorkspaceInfo     `json:"workspace"`
	TokenUsage        *TokenUsage       `json:"token_usage,omitempty"`
	MCPServers        []MCPServerStatus `json:"mcp_servers,omitempty"`
	MCPAuth           *MCPAuthRequest   `json:"mcp_auth,omitempty"`
	LastTurnEndedAt   time.Time         `json:"last_turn_ended_at,omitempty"`
}

func NewSessionBuffer(sessionID string) *SessionBuffer {
	return &SessionBuffer{SessionID: sessionID}
}

// Clone returns a shallow copy. Slices are shared with b; callers replace a
// slice wholesale (or copy it first) before editing it.
func (b *SessionBuffer) Clone() *SessionBuffer {
	if b == nil {
		return &SessionBuffer{}
	}
	next := *b
	return &next
}

func (b *SessionBuffer) PermissionHead() *PendingRequest {
	if b == nil || len(b.PendingPermissions) == 0 {
		return nil
	}
	head := b.PendingPermissions[0]
	return &head
}

func (b *SessionBuffer) AskUserHead() *PendingRequest {
	if b == nil || len(b.PendingAskUser) == 0 {
		return nil
	}
	head := b.PendingAskUser[0]
	return &head
}

func (b *SessionBuffer) HasPendingSend(messageID string) bool {
	if b == nil {
		return false
	}
	for _, id := range b.PendingSendMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}

// MessageIndex returns the position of the message with id, or -1.
func (b *SessionBuffer) MessageIndex(id string) int {
	if b == nil || id == "" {
		return -1
	}
	for i := len(b.Messages) - 1; i >= 0; i-- {
		if b.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LastAssistantIndex returns the position of the most recent assistant
// message, or -1.
func (b *SessionBuffer) LastAssistantIndex() int {
	if b == nil {
		return -1
	}
	for i := len(b.Messages) - 1; i >= 0; i-- {
		if b.Messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}
