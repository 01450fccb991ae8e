package protocol

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"console/internal/types"
)

func decodeNotificationEnvelope(envelope gjson.Result, meta Meta) (Event, error) {
	if !methodIs(envelope.Get("method").String(), methodSessionNotification) {
		return nil, fmt.Errorf("%w: notification method %q", ErrUnknownType, envelope.Get("method").String())
	}
	notification, ok := firstObject(envelope, "params.notification", "params")
	if !ok {
		return nil, fmt.Errorf("%w: notification without params", ErrMalformedFrame)
	}
	return DecodeNotification(notification, meta)
}

// DecodeNotification decodes the notification object of a session
// notification (the value of params.notification).
func DecodeNotification(n gjson.Result, meta Meta) (Event, error) {
	kind := Kind(strings.TrimSpace(n.Get("type").String()))
	switch kind {
	case KindAssistantTextDelta:
		return AssistantTextDelta{
			Meta:       meta,
			MessageID:  firstString(n, pathsMessageID...),
			BlockIndex: firstInt(n, 0, pathsBlockIndex...),
			Delta:      firstString(n, pathsTextDelta...),
		}, nil
	case KindThinkingTextDelta:
		return ThinkingTextDelta{
			Meta:      meta,
			MessageID: firstString(n, pathsMessageID...),
			Delta:     firstString(n, pathsThinkingDelta...),
		}, nil
	case KindCreateMessage:
		return decodeCreateMessage(n, meta), nil
	case KindToolUse:
		callID := firstString(n, pathsCallID...)
		if callID == "" {
			return nil, fmt.Errorf("%w: tool_use without call id", ErrMalformedFrame)
		}
		return ToolUse{
			Meta:      meta,
			MessageID: firstString(n, "messageId", "message_id"),
			CallID:    callID,
			Name:      firstString(n, pathsToolName...),
			Input:     firstRaw(n, pathsToolInput...),
		}, nil
	case KindToolResult:
		callID := firstString(n, pathsCallID...)
		if callID == "" {
			return nil, fmt.Errorf("%w: tool_result without call id", ErrMalformedFrame)
		}
		return ToolResult{
			Meta:    meta,
			CallID:  callID,
			Content: firstText(n, pathsToolContent...),
			IsError: firstBool(n, pathsIsError...),
		}, nil
	case KindToolProgressUpdate:
		callID := firstString(n, pathsCallID...)
		if callID == "" {
			return nil, fmt.Errorf("%w: tool_progress_update without call id", ErrMalformedFrame)
		}
		return ToolProgressUpdate{Meta: meta, CallID: callID, Update: firstText(n, pathsProgress...)}, nil
	case KindPermissionResolved:
		return PermissionResolved{
			Meta:           meta,
			RequestID:      firstString(n, pathsRequestID...),
			SelectedOption: firstString(n, pathsSelected...),
			ToolUseIDs:     stringList(firstArray(n, pathsToolUseIDs...)),
		}, nil
	case KindWorkingStateChanged:
		state := firstString(n, pathsWorkingState...)
		if state == "" {
			return nil, fmt.Errorf("%w: working_state_changed without state", ErrMalformedFrame)
		}
		return WorkingStateChanged{Meta: meta, State: state}, nil
	case KindError:
		message := firstText(n, pathsErrorMessage...)
		if message == "" {
			message = "Unknown error"
		}
		return ErrorNotification{Meta: meta, Message: message}, nil
	case KindSettingsUpdated:
		settings, ok := firstObject(n, "settings")
		if !ok {
			settings = n
		}
		return SettingsUpdated{
			Meta:            meta,
			Model:           firstString(settings, pathsModel...),
			ReasoningEffort: firstString(settings, pathsReasoning...),
			AutonomyLevel:   firstString(settings, pathsAutonomy...),
		}, nil
	case KindTokenUsageChanged:
		usage, ok := firstObject(n, "tokenUsage", "usage")
		if !ok {
			usage = n
		}
		return TokenUsageChanged{Meta: meta, Usage: types.TokenUsage{
			InputTokens:         usage.Get("inputTokens").Int(),
			OutputTokens:        usage.Get("outputTokens").Int(),
			CacheReadTokens:     usage.Get("cacheReadTokens").Int(),
			CacheCreationTokens: usage.Get("cacheCreationTokens").Int(),
			ThinkingTokens:      usage.Get("thinkingTokens").Int(),
		}}, nil
	case KindMCPStatusChanged:
		items := firstArray(n, "servers", "mcpServers", "statuses")
		servers := make([]types.MCPServerStatus, 0, len(items))
		for _, item := range items {
			name := firstString(item, "name", "serverName")
			if name == "" {
				continue
			}
			servers = append(servers, types.MCPServerStatus{
				Name:   name,
				Status: firstString(item, "status", "state"),
				Error:  firstText(item, "error", "message"),
			})
		}
		return MCPStatusChanged{Meta: meta, Servers: servers}, nil
	case KindMCPAuthRequired:
		name := firstString(n, "serverName", "server", "name")
		if name == "" {
			return MCPAuthRequired{Meta: meta}, nil
		}
		return MCPAuthRequired{Meta: meta, Auth: &types.MCPAuthRequest{
			ServerName: name,
			AuthURL:    firstString(n, "authUrl", "authorizationUrl", "url"),
		}}, nil
	case KindWorkspaceChanged:
		return WorkspaceChanged{Meta: meta, Workspace: types.WorkspaceInfo{
			RepoRoot:     firstString(n, "repoRoot", "repo_root", "cwd"),
			Branch:       firstString(n, "branch", "branchName"),
			WorktreeType: firstString(n, "worktreeType", "worktree_type"),
		}}, nil
	case "":
		return nil, fmt.Errorf("%w: notification without type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: notification %q", ErrUnknownType, kind)
	}
}

func decodeCreateMessage(n gjson.Result, meta Meta) CreateMessage {
	message, ok := firstObject(n, "message")
	if !ok {
		message = n
	}
	out := CreateMessage{
		Meta:      meta,
		MessageID: firstString(message, "id", "messageId"),
		Role:      types.Role(firstString(message, "role")),
	}
	if out.MessageID == "" {
		out.MessageID = firstString(n, "messageId")
	}
	if out.Role == "" {
		out.Role = types.RoleAssistant
	}
	content := message.Get("content")
	if content.Type == gjson.String {
		out.Text = content.Str
		out.HasText = true
		return out
	}
	var parts []string
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			out.HasText = true
			if text := part.Get("text").String(); text != "" {
				parts = append(parts, text)
			}
		case "tool_use":
			callID := firstString(part, "id", "toolUseId", "callId")
			if callID == "" {
				continue
			}
			out.ToolUses = append(out.ToolUses, types.ToolUse{
				CallID: callID,
				Name:   firstString(part, "name", "toolName"),
				Input:  firstRaw(part, "input", "parameters"),
			})
		}
	}
	out.Text = strings.Join(parts, "\n\n")
	return out
}
