package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"console/internal/config"
)

type liveDaemonFile struct {
	BaseURL   string `json:"base_url"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// LiveDaemon describes a running daemon that integration tests may target.
type LiveDaemon struct {
	BaseURL   string
	Token     string
	SessionID string
}

// LoadLiveDaemon returns the daemon for integration tests, or ok=false when
// none is configured.
// Lookup order:
// 1) CONSOLE_TEST_DAEMON_URL, CONSOLE_TEST_TOKEN, CONSOLE_TEST_SESSION
// 2) ~/.console/test-daemon.json
// The token falls back to ~/.console/token.
func LoadLiveDaemon() (LiveDaemon, bool) {
	live := LiveDaemon{
		BaseURL:   strings.TrimSpace(os.Getenv("CONSOLE_TEST_DAEMON_URL")),
		Token:     strings.TrimSpace(os.Getenv("CONSOLE_TEST_TOKEN")),
		SessionID: strings.TrimSpace(os.Getenv("CONSOLE_TEST_SESSION")),
	}
	if live.BaseURL == "" {
		live = readLiveDaemonJSON()
	}
	if live.BaseURL == "" || live.SessionID == "" {
		return LiveDaemon{}, false
	}
	if live.Token == "" {
		live.Token = readTokenFile()
	}
	return live, true
}

func readLiveDaemonJSON() LiveDaemon {
	dataDir, err := config.DataDir()
	if err != nil {
		return LiveDaemon{}
	}
	data, err := os.ReadFile(filepath.Join(dataDir, "test-daemon.json"))
	if err != nil {
		return LiveDaemon{}
	}
	var parsed liveDaemonFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return LiveDaemon{}
	}
	return LiveDaemon{
		BaseURL:   strings.TrimSpace(parsed.BaseURL),
		Token:     strings.TrimSpace(parsed.Token),
		SessionID: strings.TrimSpace(parsed.SessionID),
	}
}

func readTokenFile() string {
	path, err := config.TokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
