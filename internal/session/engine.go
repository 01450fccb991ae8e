package session

import (
	"context"
	"errors"
	"io"
	"os"

	"console/internal/client"
	"console/internal/config"
	"console/internal/demux"
	"console/internal/logging"
	"console/internal/registry"
	"console/internal/tracing"
	"console/internal/transport"
)

// Engine is the assembled stream engine for one process.
type Engine struct {
	Config     config.CoreConfig
	Logger     logging.Logger
	Tracing    *tracing.Provider
	Registry   *registry.Registry
	Demux      *demux.Demux
	Streams    *transport.Manager
	Client     *client.Client
	Controller *Controller

	closers []io.Closer
}

type EngineOption func(*engineOptions)

type engineOptions struct {
	logOutput io.Writer
	client    *client.Client
	tracing   *tracing.Options
	resolver  CommandResolver
}

// WithLogOutput sends operator logs to w instead of stderr.
func WithLogOutput(w io.Writer) EngineOption {
	return func(o *engineOptions) { o.logOutput = w }
}

// WithClient uses c instead of a client built from the config.
func WithClient(c *client.Client) EngineOption {
	return func(o *engineOptions) { o.client = c }
}

func WithTracing(opts tracing.Options) EngineOption {
	return func(o *engineOptions) { o.tracing = &opts }
}

func WithResolver(resolver CommandResolver) EngineOption {
	return func(o *engineOptions) { o.resolver = resolver }
}

func NewEngine(cfg config.CoreConfig, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{Config: cfg}
	e.Logger = logging.New(o.logOutput, logging.ParseLevel(cfg.LogLevel()))

	tracingOpts := tracing.OptionsFromConfig(cfg)
	if o.tracing != nil {
		tracingOpts = *o.tracing
	}
	provider, err := tracing.NewProvider(tracingOpts)
	if err != nil {
		return nil, err
	}
	e.Tracing = provider

	e.Registry = registry.New(
		registry.WithTraceCap(cfg.TraceCap()),
		registry.WithLogger(e.Logger),
	)

	e.Client = o.client
	if e.Client == nil {
		clientOpts := []client.Option{client.WithLogger(e.Logger)}
		if cfg.StreamDebugEnabled() {
			if path, err := config.StreamLogPath(); err == nil {
				streamLog, closer, err := logging.OpenFile(path, logging.Debug)
				if err != nil {
					e.Logger.Warn("stream_log_unavailable", logging.F("path", path), logging.Err(err))
				} else {
					e.closers = append(e.closers, closer)
					clientOpts = append(clientOpts, client.WithStreamLog(streamLog))
				}
			}
		}
		e.Client, err = client.New(cfg, clientOpts...)
		if err != nil {
			_ = e.closeAll(context.Background())
			return nil, err
		}
	}

	e.Demux = demux.New(e.Registry,
		demux.WithLogger(e.Logger),
		demux.WithStreamDebug(cfg.StreamDebugEnabled()),
		demux.WithReplaceHook(func(oldID, newID string) {
			if err := e.Controller.ReplaceSessionID(oldID, newID); err != nil {
				e.Logger.Warn("session_replace_failed", logging.F("old_session_id", oldID), logging.Session(newID), logging.Err(err))
			}
		}),
	)

	e.Streams = transport.NewManager(e.Client, e.Demux,
		transport.WithPolicy(transport.Policy{
			Backoff:         cfg.ReconnectBackoff(),
			ReadyTimeout:    cfg.ReadyTimeout(),
			IdleCloseDelay:  cfg.IdleCloseDelay(),
			SweepInterval:   cfg.SweepInterval(),
			IdleThreshold:   cfg.IdleThreshold(),
			ReadBufferBytes: cfg.ReadBufferBytes(),
		}),
		transport.WithLogger(e.Logger),
		transport.WithTraceLog(e.Registry),
		transport.WithTracer(provider.Tracer("console/internal/transport")),
	)

	e.Controller = NewController(e.Registry, e.Streams, e.Client,
		WithLogger(e.Logger),
		WithTracer(provider.Tracer("console/internal/session")),
		WithCommandResolver(o.resolver),
	)
	return e, nil
}

// Open subscribes to id and makes it the foreground session.
func (e *Engine) Open(id string) error {
	if err := e.Streams.Ensure(id); err != nil {
		return err
	}
	e.Registry.Ensure(id)
	e.Streams.SetActive(id)
	return nil
}

// Close stops every stream and flushes traces.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Controller != nil {
		errs = append(errs, e.Controller.Close(ctx))
	}
	if e.Streams != nil {
		errs = append(errs, e.Streams.Close(ctx))
	}
	if e.Registry != nil {
		e.Registry.Dispose()
	}
	errs = append(errs, e.closeAll(ctx))
	return errors.Join(errs...)
}

func (e *Engine) closeAll(ctx context.Context) error {
	var errs []error
	if e.Tracing != nil {
		errs = append(errs, e.Tracing.Shutdown(ctx))
	}
	for _, closer := range e.closers {
		errs = append(errs, closer.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}
