package protocol

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Field fallback order. The agent has shipped several spellings for the
// same field over time; each list is tried front to back and the first
// present, non-empty value wins. Paths use gjson syntax, so "toolUse.id"
// reads a nested object.
var (
	pathsMessageID     = []string{"messageId", "message_id", "id"}
	pathsBlockIndex    = []string{"blockIndex", "block_index", "index", "contentIndex"}
	pathsTextDelta     = []string{"textDelta", "delta", "text"}
	pathsThinkingDelta = []string{"textDelta", "thinkingDelta", "delta", "text"}
	pathsCallID        = []string{"toolUseId", "toolCallId", "callId", "id", "toolUse.id"}
	pathsToolName      = []string{"toolName", "name", "toolUse.name"}
	pathsToolInput     = []string{"input", "parameters", "params", "toolUse.input"}
	pathsToolContent   = []string{"content", "result", "output"}
	pathsIsError       = []string{"isError", "is_error", "error"}
	pathsProgress      = []string{"update", "progress", "message"}
	pathsRequestID     = []string{"requestId", "request_id", "id"}
	pathsSelected      = []string{"selectedOption", "selected_option", "outcome", "option"}
	pathsToolUseIDs    = []string{"toolUseIds", "toolCallIds", "tool_use_ids"}
	pathsWorkingState  = []string{"newState", "state", "workingState"}
	pathsErrorMessage  = []string{"message", "error.message", "error", "data"}
	pathsModel         = []string{"modelId", "model"}
	pathsReasoning     = []string{"reasoningEffort", "reasoning_effort"}
	pathsAutonomy      = []string{"autonomyLevel", "autoLevel", "autonomy_level"}
	pathsOutputText    = []string{"data", "text", "line", "message"}
	pathsEnvelope      = []string{"message", "payload", "data"}
	pathsSetupEvent    = []string{"event"}
	pathsSetupPhase    = []string{"phase", "status", "type"}
	pathsSetupOutput   = []string{"output", "line", "data"}
	pathsNewSessionID  = []string{"newSessionId", "new_session_id", "sessionId"}
	pathsOldSessionID  = []string{"oldSessionId", "previousSessionId", "old_session_id"}
)

// firstString returns the first non-empty string (or number, rendered as
// text) found at paths.
func firstString(res gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := res.Get(path)
		switch v.Type {
		case gjson.String:
			if v.Str != "" {
				return v.Str
			}
		case gjson.Number:
			return v.Raw
		}
	}
	return ""
}

// firstText is firstString but also flattens arrays of text parts and
// objects carrying a text-like field, so "content" can be a string, a list
// of {type,text} parts or a structured value.
func firstText(res gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := res.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if text := flattenText(v); text != "" {
			return text
		}
	}
	return ""
}

func flattenText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.Str
	case v.IsArray():
		parts := make([]string, 0, len(v.Array()))
		for _, item := range v.Array() {
			if text := flattenText(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case v.IsObject():
		for _, key := range []string{"text", "message", "status"} {
			if field := v.Get(key); field.Type == gjson.String && field.Str != "" {
				return field.Str
			}
		}
		return v.Raw
	case v.Type == gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

func firstInt(res gjson.Result, fallback int, paths ...string) int {
	for _, path := range paths {
		v := res.Get(path)
		if v.Type == gjson.Number {
			return int(v.Int())
		}
	}
	return fallback
}

func firstBool(res gjson.Result, paths ...string) bool {
	for _, path := range paths {
		v := res.Get(path)
		switch v.Type {
		case gjson.True:
			return true
		case gjson.False:
			return false
		}
	}
	return false
}

func firstRaw(res gjson.Result, paths ...string) json.RawMessage {
	for _, path := range paths {
		v := res.Get(path)
		if v.Exists() && v.Type != gjson.Null {
			return json.RawMessage(append([]byte(nil), v.Raw...))
		}
	}
	return nil
}

func firstObject(res gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, path := range paths {
		v := res.Get(path)
		if v.IsObject() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func firstArray(res gjson.Result, paths ...string) []gjson.Result {
	for _, path := range paths {
		v := res.Get(path)
		if v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

func stringList(items []gjson.Result) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text := firstString(item, "@this"); text != "" {
			out = append(out, text)
		}
	}
	return out
}
