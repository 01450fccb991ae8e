package main

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"console/internal/config"
)

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"
)

type ConfigCommand struct {
	stdout     io.Writer
	loadConfig func() (config.CoreConfig, error)
	configPath func() (string, error)
}

type configOutput struct {
	CoreConfigPath string                 `json:"core_config_path,omitempty" toml:"core_config_path,omitempty"`
	Daemon         effectiveDaemonConfig  `json:"daemon" toml:"daemon"`
	Logging        effectiveLoggingConfig `json:"logging" toml:"logging"`
	Stream         effectiveStreamConfig  `json:"stream" toml:"stream"`
	Debug          effectiveDebugConfig   `json:"debug" toml:"debug"`
	Tracing        effectiveTracingConfig `json:"tracing" toml:"tracing"`
}

type effectiveDaemonConfig struct {
	Address        string `json:"address" toml:"address"`
	BaseURL        string `json:"base_url" toml:"base_url"`
	RequestTimeout string `json:"request_timeout" toml:"request_timeout"`
	SubmitTimeout  string `json:"submit_timeout" toml:"submit_timeout"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level"`
}

type effectiveStreamConfig struct {
	ReconnectBackoff []string `json:"reconnect_backoff" toml:"reconnect_backoff"`
	ReadyTimeout     string   `json:"ready_timeout" toml:"ready_timeout"`
	IdleCloseDelay   string   `json:"idle_close_delay" toml:"idle_close_delay"`
	SweepInterval    string   `json:"sweep_interval" toml:"sweep_interval"`
	IdleThreshold    string   `json:"idle_threshold" toml:"idle_threshold"`
	ReadBufferBytes  int      `json:"read_buffer_bytes" toml:"read_buffer_bytes"`
}

type effectiveDebugConfig struct {
	StreamDebug bool `json:"stream_debug" toml:"stream_debug"`
	Diagnostics bool `json:"diagnostics" toml:"diagnostics"`
	TraceCap    int  `json:"trace_cap" toml:"trace_cap"`
}

type effectiveTracingConfig struct {
	Enabled     bool   `json:"enabled" toml:"enabled"`
	Exporter    string `json:"exporter" toml:"exporter"`
	ServiceName string `json:"service_name" toml:"service_name"`
}

func NewConfigCommand(stdout io.Writer, loadConfig func() (config.CoreConfig, error)) *ConfigCommand {
	return &ConfigCommand{
		stdout:     stdout,
		loadConfig: loadConfig,
		configPath: config.CoreConfigPath,
	}
}

func (c *ConfigCommand) Command() *cobra.Command {
	var defaults bool
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print configuration (effective or defaults)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(defaults, format)
		},
	}
	cmd.Flags().BoolVar(&defaults, "default", false, "print default config values")
	cmd.Flags().StringVar(&format, "format", configFormatJSON, "output format: json|toml")
	return cmd
}

func (c *ConfigCommand) Run(defaults bool, format string) error {
	resolvedFormat, err := resolveConfigFormat(format)
	if err != nil {
		return err
	}
	cfg := config.DefaultCoreConfig()
	if !defaults {
		cfg, err = c.loadConfig()
		if err != nil {
			return err
		}
	}
	out := buildConfigOutput(cfg)
	if c.configPath != nil {
		if path, err := c.configPath(); err == nil {
			out.CoreConfigPath = path
		}
	}
	return writeConfigOutput(c.stdout, resolvedFormat, out)
}

func buildConfigOutput(cfg config.CoreConfig) configOutput {
	backoff := make([]string, 0, len(cfg.ReconnectBackoff()))
	for _, step := range cfg.ReconnectBackoff() {
		backoff = append(backoff, step.String())
	}
	return configOutput{
		Daemon: effectiveDaemonConfig{
			Address:        cfg.DaemonAddress(),
			BaseURL:        cfg.DaemonBaseURL(),
			RequestTimeout: cfg.RequestTimeout().String(),
			SubmitTimeout:  cfg.SubmitTimeout().String(),
		},
		Logging: effectiveLoggingConfig{Level: cfg.LogLevel()},
		Stream: effectiveStreamConfig{
			ReconnectBackoff: backoff,
			ReadyTimeout:     cfg.ReadyTimeout().String(),
			IdleCloseDelay:   cfg.IdleCloseDelay().String(),
			SweepInterval:    cfg.SweepInterval().String(),
			IdleThreshold:    cfg.IdleThreshold().String(),
			ReadBufferBytes:  cfg.ReadBufferBytes(),
		},
		Debug: effectiveDebugConfig{
			StreamDebug: cfg.StreamDebugEnabled(),
			Diagnostics: cfg.DiagnosticsEnabled(),
			TraceCap:    cfg.TraceCap(),
		},
		Tracing: effectiveTracingConfig{
			Enabled:     cfg.TracingEnabled(),
			Exporter:    cfg.TracingExporter(),
			ServiceName: cfg.TracingServiceName(),
		},
	}
}

func writeConfigOutput(out io.Writer, format string, payload any) error {
	switch format {
	case configFormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case configFormatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return errors.New("unsupported format")
	}
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	default:
		return "", errors.New("invalid format: must be json or toml")
	}
}
