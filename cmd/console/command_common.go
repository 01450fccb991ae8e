package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"console/internal/registry"
	"console/internal/session"
	"console/internal/types"
)

const (
	version             = "dev"
	engineCloseDeadline = 2 * time.Second
)

// snapshotLine is one JSON line of command output.
type snapshotLine struct {
	Kind       registry.ChangeKind  `json:"kind,omitempty"`
	SessionID  string               `json:"session_id"`
	PreviousID string               `json:"previous_id,omitempty"`
	Buffer     *types.SessionBuffer `json:"buffer,omitempty"`
}

func writeSnapshot(enc *json.Encoder, kind registry.ChangeKind, id, previous string, buf *types.SessionBuffer) error {
	return enc.Encode(snapshotLine{Kind: kind, SessionID: id, PreviousID: previous, Buffer: buf})
}

// followID tracks id across daemon-side session replacement.
func followID(id string, change registry.Change) (string, bool) {
	if change.Kind == registry.ChangeReplaced && change.PreviousID == id {
		return change.SessionID, true
	}
	return id, change.SessionID == id
}

func closeEngine(engine *session.Engine, stderr io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), engineCloseDeadline)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
	}
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
