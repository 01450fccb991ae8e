package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCoreConfigDefaults(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))
	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.DaemonBaseURL() != "http://127.0.0.1:7777" {
		t.Fatalf("unexpected daemon base url: %q", cfg.DaemonBaseURL())
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	got := cfg.ReconnectBackoff()
	if len(got) != len(want) {
		t.Fatalf("unexpected backoff: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected backoff: %v", got)
		}
	}
	if cfg.ReadyTimeout() != 2*time.Second || cfg.IdleCloseDelay() != 5*time.Second {
		t.Fatalf("unexpected stream timers: ready=%s idle=%s", cfg.ReadyTimeout(), cfg.IdleCloseDelay())
	}
	if cfg.SweepInterval() != 30*time.Second || cfg.IdleThreshold() != 2*time.Minute {
		t.Fatalf("unexpected sweep policy: every=%s threshold=%s", cfg.SweepInterval(), cfg.IdleThreshold())
	}
	if cfg.TraceCap() != 200 {
		t.Fatalf("unexpected trace cap: %d", cfg.TraceCap())
	}
	if cfg.TracingEnabled() {
		t.Fatalf("tracing should be off by default")
	}
}

func TestLoadCoreConfigFromTOML(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	dataDir := filepath.Join(home, ".console")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := []byte(`
[daemon]
address = "http://127.0.0.1:9999/"
submit_timeout = "45s"

[stream]
reconnect_backoff = ["100ms", "250ms"]
idle_close_delay = "1s"
idle_threshold = "bogus"

[debug]
diagnostics = true
stream_debug = true

[tracing]
enabled = true
service_name = "console-dev"
`)
	if err := os.WriteFile(filepath.Join(dataDir, "config.toml"), content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.DaemonAddress() != "127.0.0.1:9999" {
		t.Fatalf("unexpected daemon address: %q", cfg.DaemonAddress())
	}
	if cfg.SubmitTimeout() != 45*time.Second {
		t.Fatalf("unexpected submit timeout: %s", cfg.SubmitTimeout())
	}
	if got := cfg.ReconnectBackoff(); len(got) != 2 || got[1] != 250*time.Millisecond {
		t.Fatalf("unexpected backoff: %v", got)
	}
	if cfg.IdleCloseDelay() != time.Second {
		t.Fatalf("unexpected idle close delay: %s", cfg.IdleCloseDelay())
	}
	if cfg.IdleThreshold() != 2*time.Minute {
		t.Fatalf("invalid duration should fall back: %s", cfg.IdleThreshold())
	}
	if cfg.TraceCap() != 2000 {
		t.Fatalf("diagnostics should raise trace cap: %d", cfg.TraceCap())
	}
	if !cfg.StreamDebugEnabled() || !cfg.TracingEnabled() || cfg.TracingServiceName() != "console-dev" {
		t.Fatalf("unexpected debug/tracing config: %+v %+v", cfg.Debug, cfg.Tracing)
	}
}

func TestInvalidBackoffListFallsBackWhole(t *testing.T) {
	cfg := DefaultCoreConfig()
	cfg.Stream.ReconnectBackoff = []string{"1s", "soon"}
	if got := cfg.ReconnectBackoff(); len(got) != 5 {
		t.Fatalf("expected default ladder, got %v", got)
	}
}

func TestExplicitTraceCapWins(t *testing.T) {
	cfg := DefaultCoreConfig()
	cfg.Debug.Diagnostics = true
	cfg.Debug.TraceCap = 500
	if cfg.TraceCap() != 500 {
		t.Fatalf("unexpected trace cap: %d", cfg.TraceCap())
	}
}
