package app

import (
	"context"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/x/ansi"

	"console/internal/session"
	"console/internal/types"
)

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func openSessionCmd(streams StreamAPI, id string) tea.Cmd {
	return func() tea.Msg {
		if err := streams.Ensure(id); err != nil {
			return OpenResultMsg{SessionID: id, Err: err}
		}
		streams.SetActive(id)
		return OpenResultMsg{SessionID: id}
	}
}

// submitCmd strips terminal escapes pasted into the prompt before it is
// dispatched.
func submitCmd(api SessionAPI, id, prompt string, params session.TurnParams) tea.Cmd {
	prompt = strings.TrimSpace(ansi.Strip(prompt))
	return func() tea.Msg {
		err := api.Submit(context.Background(), id, prompt, params)
		return SubmitResultMsg{SessionID: id, Err: err}
	}
}

func cancelCmd(api SessionAPI, id string, force bool) tea.Cmd {
	return func() tea.Msg {
		if force {
			api.ForceCancel(id)
		} else {
			api.Cancel(id)
		}
		return CancelRequestedMsg{SessionID: id, Force: force}
	}
}

func respondPermissionCmd(api SessionAPI, id, requestID, selectedOption string) tea.Cmd {
	return func() tea.Msg {
		sent := api.RespondPermission(id, requestID, selectedOption)
		return RespondResultMsg{SessionID: id, RequestID: requestID, Sent: sent}
	}
}

func respondAskUserCmd(api SessionAPI, id, requestID string, cancelled bool, answers []types.AskUserAnswer) tea.Cmd {
	return func() tea.Msg {
		sent := api.RespondAskUser(id, requestID, cancelled, answers)
		return RespondResultMsg{SessionID: id, RequestID: requestID, Sent: sent}
	}
}

func restartCmd(api SessionAPI, id string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		newID, err := api.Restart(ctx, id)
		return RestartResultMsg{SessionID: id, NewSessionID: newID, Err: err}
	}
}
