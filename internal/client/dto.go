package client

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// SubmitTurnRequest starts a turn. MessageID is the id of the optimistic
// user message so the daemon can echo it back.
type SubmitTurnRequest struct {
	Text            string `json:"text"`
	MessageID       string `json:"message_id,omitempty"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	AutonomyLevel   string `json:"autonomy_level,omitempty"`
}

type SubmitTurnResponse struct {
	OK     bool   `json:"ok"`
	TurnID string `json:"turn_id,omitempty"`
}

type RestartSessionResponse struct {
	SessionID string `json:"session_id"`
}
