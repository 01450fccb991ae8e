package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPaths(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if !strings.HasSuffix(dataDir, ".console") {
		t.Fatalf("unexpected data dir: %s", dataDir)
	}

	tokenPath, err := TokenPath()
	if err != nil {
		t.Fatalf("TokenPath: %v", err)
	}
	if !strings.HasSuffix(tokenPath, filepath.Join(".console", "token")) {
		t.Fatalf("unexpected token path: %s", tokenPath)
	}

	coreConfigPath, err := CoreConfigPath()
	if err != nil {
		t.Fatalf("CoreConfigPath: %v", err)
	}
	if !strings.HasSuffix(coreConfigPath, filepath.Join(".console", "config.toml")) {
		t.Fatalf("unexpected core config path: %s", coreConfigPath)
	}

	streamLogPath, err := StreamLogPath()
	if err != nil {
		t.Fatalf("StreamLogPath: %v", err)
	}
	if !strings.HasSuffix(streamLogPath, filepath.Join(".console", "stream.log")) {
		t.Fatalf("unexpected stream log path: %s", streamLogPath)
	}
}
