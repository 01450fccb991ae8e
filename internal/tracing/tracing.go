package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"console/internal/config"
)

// Provider owns the tracer provider for one process. A disabled provider
// hands out no-op tracers.
type Provider struct {
	provider *sdktrace.TracerProvider
	closer   io.Closer
	tracer   trace.TracerProvider
	enabled  bool
}

// Options holds what NewProvider reads from the core config.
type Options struct {
	Enabled     bool
	Exporter    string
	ServiceName string
	FilePath    string
	Writer      io.Writer
}

func OptionsFromConfig(cfg config.CoreConfig) Options {
	opts := Options{
		Enabled:     cfg.TracingEnabled(),
		Exporter:    cfg.TracingExporter(),
		ServiceName: cfg.TracingServiceName(),
	}
	if path, err := config.TracesPath(); err == nil {
		opts.FilePath = path
	}
	return opts
}

func NewProvider(opts Options) (*Provider, error) {
	if !opts.Enabled {
		return &Provider{tracer: noop.NewTracerProvider()}, nil
	}

	var exporter sdktrace.SpanExporter
	var closer io.Closer
	switch opts.Exporter {
	case "stdout", "":
		var err error
		writer := opts.Writer
		if writer == nil {
			writer = os.Stdout
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "file":
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file path required for file exporter")
		}
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o700); err != nil {
			return nil, fmt.Errorf("create trace directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Clean(opts.FilePath), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(file))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("create file exporter: %w", err)
		}
		closer = file
	case "none":
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", opts.Exporter)
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "console"
	}
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	}
	if exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, closer: closer, tracer: provider, enabled: true}, nil
}

// Tracer returns a named tracer. It is safe to use when tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracer.Tracer(name)
}

func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	err := p.provider.Shutdown(ctx)
	if p.closer != nil {
		if closeErr := p.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
