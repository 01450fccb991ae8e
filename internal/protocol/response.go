package protocol

import "console/internal/types"

const (
	JSONRPCVersion = "2.0"
	APIVersion     = "1.0.0"
)

// Response answers an rpc-request. ID and SessionID echo the request.
type Response struct {
	JSONRPC           string `json:"jsonrpc"`
	FactoryAPIVersion string `json:"factoryApiVersion"`
	Type              string `json:"type"`
	ID                string `json:"id"`
	SessionID         string `json:"sessionId"`
	Result            any    `json:"result"`
}

type PermissionResult struct {
	SelectedOption string `json:"selectedOption"`
}

type AskUserResult struct {
	Cancelled bool                  `json:"cancelled"`
	Answers   []types.AskUserAnswer `json:"answers,omitempty"`
}

func NewPermissionResponse(sessionID, requestID, selectedOption string) Response {
	return newResponse(sessionID, requestID, PermissionResult{SelectedOption: selectedOption})
}

func NewAskUserResponse(sessionID, requestID string, cancelled bool, answers []types.AskUserAnswer) Response {
	if cancelled {
		answers = nil
	}
	return newResponse(sessionID, requestID, AskUserResult{Cancelled: cancelled, Answers: answers})
}

func newResponse(sessionID, requestID string, result any) Response {
	return Response{
		JSONRPC:           JSONRPCVersion,
		FactoryAPIVersion: APIVersion,
		Type:              "response",
		ID:                requestID,
		SessionID:         sessionID,
		Result:            result,
	}
}
