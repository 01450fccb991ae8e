package app

import "time"

type tickMsg time.Time

// SessionsChangedMsg lists the sessions whose snapshot changed on a tick.
// Renamed maps an old session id to the id it was replaced by.
type SessionsChangedMsg struct {
	Updated []string
	Removed []string
	Renamed map[string]string
}

// ChangesClosedMsg reports that the registry was disposed.
type ChangesClosedMsg struct{}

type OpenResultMsg struct {
	SessionID string
	Err       error
}

type SubmitResultMsg struct {
	SessionID string
	Err       error
}

type CancelRequestedMsg struct {
	SessionID string
	Force     bool
}

type RespondResultMsg struct {
	SessionID string
	RequestID string
	Sent      bool
}

type RestartResultMsg struct {
	SessionID    string
	NewSessionID string
	Err          error
}
