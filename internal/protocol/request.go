package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"console/internal/types"
)

func decodeRequestEnvelope(envelope gjson.Result, meta Meta) (Event, error) {
	requestID := firstString(envelope, "id")
	if requestID == "" {
		return nil, fmt.Errorf("%w: request without id", ErrMalformedFrame)
	}
	method := envelope.Get("method").String()
	params := envelope.Get("params")
	var raw json.RawMessage
	if params.Exists() {
		raw = json.RawMessage(append([]byte(nil), params.Raw...))
	}
	switch {
	case methodIs(method, methodRequestPermission):
		return PermissionRequest{Meta: meta, Request: types.PendingRequest{
			RequestID:  requestID,
			Kind:       types.RequestPermission,
			ToolUses:   decodeToolUses(firstArray(params, "toolUses", "tool_uses", "toolCalls")),
			Options:    decodeOptions(firstArray(params, "options")),
			Raw:        raw,
			ReceivedAt: meta.At,
		}}, nil
	case methodIs(method, methodAskUser):
		return AskUserRequest{Meta: meta, Request: types.PendingRequest{
			RequestID:  requestID,
			Kind:       types.RequestAskUser,
			Questions:  decodeQuestions(firstArray(params, "questions")),
			Raw:        raw,
			ReceivedAt: meta.At,
		}}, nil
	default:
		return nil, fmt.Errorf("%w: request method %q", ErrUnknownType, method)
	}
}

func decodeToolUses(items []gjson.Result) []types.ToolUse {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.ToolUse, 0, len(items))
	for _, item := range items {
		use, ok := firstObject(item, "toolUse", "toolCall")
		if !ok {
			use = item
		}
		out = append(out, types.ToolUse{
			CallID: firstString(use, "id", "toolUseId", "toolCallId", "callId"),
			Name:   firstString(use, "name", "toolName"),
			Input:  firstRaw(use, "input", "parameters", "params"),
		})
	}
	return out
}

func decodeOptions(items []gjson.Result) []types.PermissionOption {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.PermissionOption, 0, len(items))
	for _, item := range items {
		if item.Type == gjson.String {
			out = append(out, types.PermissionOption{Value: item.Str, Label: item.Str})
			continue
		}
		value := firstString(item, "value", "id", "optionId")
		if value == "" {
			continue
		}
		out = append(out, types.PermissionOption{
			Value: value,
			Label: firstString(item, "label", "name", "title"),
		})
	}
	return out
}

func decodeQuestions(items []gjson.Result) []types.Question {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.Question, 0, len(items))
	for _, item := range items {
		if item.Type == gjson.String {
			out = append(out, types.Question{Question: item.Str})
			continue
		}
		question := types.Question{
			Question:    firstString(item, "question", "text", "prompt"),
			Header:      firstString(item, "header", "title"),
			MultiSelect: firstBool(item, "multiSelect", "multi_select"),
		}
		for _, option := range item.Get("options").Array() {
			if label := firstString(option, "@this", "label", "value"); label != "" {
				question.Options = append(question.Options, label)
			}
		}
		out = append(out, question)
	}
	return out
}
