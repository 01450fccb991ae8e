package config

import (
	"errors"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultDaemonAddress   = "127.0.0.1:7777"
	defaultRequestTimeout  = 10 * time.Second
	defaultSubmitTimeout   = 2 * time.Minute
	defaultReadyTimeout    = 2 * time.Second
	defaultIdleCloseDelay  = 5 * time.Second
	defaultSweepInterval   = 30 * time.Second
	defaultIdleThreshold   = 2 * time.Minute
	defaultReadBufferBytes = 32 * 1024
	defaultTraceCap        = 200
	diagnosticsTraceCap    = 2000
	defaultServiceName     = "console"
)

var defaultReconnectBackoff = []string{"500ms", "1s", "2s", "5s", "10s"}

type CoreConfig struct {
	Daemon  CoreDaemonConfig  `toml:"daemon"`
	Logging CoreLoggingConfig `toml:"logging"`
	Stream  CoreStreamConfig  `toml:"stream"`
	Debug   CoreDebugConfig   `toml:"debug"`
	Tracing CoreTracingConfig `toml:"tracing"`
}

type CoreDaemonConfig struct {
	Address        string `toml:"address"`
	RequestTimeout string `toml:"request_timeout"`
	SubmitTimeout  string `toml:"submit_timeout"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

// CoreStreamConfig holds the event-stream timing policy. Durations use Go
// syntax ("500ms", "2m").
type CoreStreamConfig struct {
	ReconnectBackoff []string `toml:"reconnect_backoff"`
	ReadyTimeout     string   `toml:"ready_timeout"`
	IdleCloseDelay   string   `toml:"idle_close_delay"`
	SweepInterval    string   `toml:"sweep_interval"`
	IdleThreshold    string   `toml:"idle_threshold"`
	ReadBufferBytes  int      `toml:"read_buffer_bytes"`
}

type CoreDebugConfig struct {
	StreamDebug bool `toml:"stream_debug"`
	Diagnostics bool `toml:"diagnostics"`
	TraceCap    int  `toml:"trace_cap"`
}

type CoreTracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Exporter    string `toml:"exporter"`
	ServiceName string `toml:"service_name"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Daemon: CoreDaemonConfig{
			Address: defaultDaemonAddress,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
		Stream: CoreStreamConfig{
			ReconnectBackoff: append([]string{}, defaultReconnectBackoff...),
		},
		Tracing: CoreTracingConfig{
			Exporter:    "stdout",
			ServiceName: defaultServiceName,
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return LoadCoreConfigFromPath(path)
}

func LoadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func (c CoreConfig) DaemonAddress() string {
	addr := strings.TrimSpace(c.Daemon.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (c CoreConfig) DaemonBaseURL() string {
	return "http://" + c.DaemonAddress()
}

func (c CoreConfig) RequestTimeout() time.Duration {
	return durationOr(c.Daemon.RequestTimeout, defaultRequestTimeout)
}

// SubmitTimeout bounds a turn dispatch, which waits on the agent and takes
// longer than ordinary API calls.
func (c CoreConfig) SubmitTimeout() time.Duration {
	return durationOr(c.Daemon.SubmitTimeout, defaultSubmitTimeout)
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

// ReconnectBackoff returns the reconnect ladder. An empty or invalid list
// falls back to the default ladder as a whole.
func (c CoreConfig) ReconnectBackoff() []time.Duration {
	steps := parseDurations(c.Stream.ReconnectBackoff)
	if len(steps) == 0 {
		steps = parseDurations(defaultReconnectBackoff)
	}
	return steps
}

func (c CoreConfig) ReadyTimeout() time.Duration {
	return durationOr(c.Stream.ReadyTimeout, defaultReadyTimeout)
}

func (c CoreConfig) IdleCloseDelay() time.Duration {
	return durationOr(c.Stream.IdleCloseDelay, defaultIdleCloseDelay)
}

func (c CoreConfig) SweepInterval() time.Duration {
	return durationOr(c.Stream.SweepInterval, defaultSweepInterval)
}

func (c CoreConfig) IdleThreshold() time.Duration {
	return durationOr(c.Stream.IdleThreshold, defaultIdleThreshold)
}

func (c CoreConfig) ReadBufferBytes() int {
	if c.Stream.ReadBufferBytes <= 0 {
		return defaultReadBufferBytes
	}
	return c.Stream.ReadBufferBytes
}

func (c CoreConfig) StreamDebugEnabled() bool {
	return c.Debug.StreamDebug
}

func (c CoreConfig) DiagnosticsEnabled() bool {
	return c.Debug.Diagnostics
}

// TraceCap is the per-session debug trace cap. An explicit trace_cap wins;
// otherwise diagnostics mode raises the default.
func (c CoreConfig) TraceCap() int {
	if c.Debug.TraceCap > 0 {
		return c.Debug.TraceCap
	}
	if c.Debug.Diagnostics {
		return diagnosticsTraceCap
	}
	return defaultTraceCap
}

func (c CoreConfig) TracingEnabled() bool {
	return c.Tracing.Enabled
}

func (c CoreConfig) TracingExporter() string {
	exporter := strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	if exporter == "" {
		return "stdout"
	}
	return exporter
}

func (c CoreConfig) TracingServiceName() string {
	name := strings.TrimSpace(c.Tracing.ServiceName)
	if name == "" {
		return defaultServiceName
	}
	return name
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseDurations(values []string) []time.Duration {
	out := make([]time.Duration, 0, len(values))
	for _, raw := range values {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || d < 0 {
			return nil
		}
		out = append(out, d)
	}
	return out
}
