package types

import (
	"bytes"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolCall   BlockKind = "tool_call"
	BlockAttachment BlockKind = "attachment"
	BlockCommandTag BlockKind = "command_tag"
	BlockSkillTag   BlockKind = "skill_tag"
)

// Block is one unit of message content. Kind selects which of the
// remaining fields are meaningful: Text for text, thinking and tag blocks,
// Tool for tool_call blocks and Attachment for attachments.
type Block struct {
	Kind       BlockKind   `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Tool       *ToolCall   `json:"tool,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Progress  string          `json:"progress,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Completed bool            `json:"completed,omitempty"`
}

// Terminal reports whether the call has received a final result.
func (t *ToolCall) Terminal() bool {
	if t == nil {
		return false
	}
	return t.Completed || t.Result != ""
}

// NamePlaceholder reports whether Name was never supplied by a tool_use event.
func (t *ToolCall) NamePlaceholder() bool {
	return t == nil || t.Name == ""
}

// InputPlaceholder reports whether Input is absent or an empty JSON value.
func (t *ToolCall) InputPlaceholder() bool {
	if t == nil {
		return true
	}
	trimmed := bytes.TrimSpace(t.Input)
	switch string(trimmed) {
	case "", "null", "{}", `""`:
		return true
	}
	return false
}

type Attachment struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Blocks    []Block   `json:"blocks"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneBlocks returns a copy of the block list with tool calls copied too,
// so the result can be edited without touching m.
func (m Message) CloneBlocks() []Block {
	if m.Blocks == nil {
		return nil
	}
	out := make([]Block, len(m.Blocks))
	for i, block := range m.Blocks {
		out[i] = block
		if block.Tool != nil {
			tool := *block.Tool
			out[i].Tool = &tool
		}
	}
	return out
}

// ToolBlockIndex returns the index of the tool_call block with callID, or -1.
func (m Message) ToolBlockIndex(callID string) int {
	if callID == "" {
		return -1
	}
	for i, block := range m.Blocks {
		if block.Kind == BlockToolCall && block.Tool != nil && block.Tool.CallID == callID {
			return i
		}
	}
	return -1
}
