package types

import (
	"encoding/json"
	"time"
)

type RequestKind string

const (
	RequestPermission RequestKind = "permission"
	RequestAskUser    RequestKind = "ask_user"
)

type ToolUse struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

type PermissionOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header,omitempty"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// PendingRequest is an agent request waiting for exactly one answer. Raw keeps
// the original params so callers can read fields that are not decoded here.
type PendingRequest struct {
	RequestID  string             `json:"request_id"`
	Kind       RequestKind        `json:"kind"`
	ToolUses   []ToolUse          `json:"tool_uses,omitempty"`
	Options    []PermissionOption `json:"options,omitempty"`
	Questions  []Question         `json:"questions,omitempty"`
	Raw        json.RawMessage    `json:"raw,omitempty"`
	ReceivedAt time.Time          `json:"received_at"`
}

type AskUserAnswer struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

// CallIDs lists the tool call ids the request refers to.
func (r PendingRequest) CallIDs() []string {
	if len(r.ToolUses) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.ToolUses))
	for _, use := range r.ToolUses {
		if use.CallID != "" {
			ids = append(ids, use.CallID)
		}
	}
	return ids
}
