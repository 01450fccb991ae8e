package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"console/internal/config"
	"console/internal/registry"
	"console/internal/session"
	"console/internal/types"
)

// SendCommand submits one prompt and, unless told otherwise, waits for the
// turn to end before printing the final snapshot.
type SendCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.CoreConfig, error)
	newEngine  engineFactory
}

type sendOptions struct {
	params  session.TurnParams
	noWait  bool
	timeout time.Duration
}

func NewSendCommand(wiring commandWiring) *SendCommand {
	return &SendCommand{
		stdout:     wiring.stdout,
		stderr:     wiring.stderr,
		loadConfig: wiring.loadConfig,
		newEngine:  wiring.newEngine,
	}
}

func (c *SendCommand) Command() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send <session-id> <prompt...>",
		Short: "Submit a prompt to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0], strings.Join(args[1:], " "), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.params.Model, "model", "", "model override for this turn")
	flags.StringVar(&opts.params.ReasoningEffort, "reasoning-effort", "", "reasoning effort for this turn")
	flags.StringVar(&opts.params.AutonomyLevel, "autonomy", "", "autonomy level for this turn")
	flags.BoolVar(&opts.noWait, "no-wait", false, "return once the prompt is accepted")
	flags.DurationVar(&opts.timeout, "timeout", 0, "give up waiting for the turn after this long")
	return cmd
}

func (c *SendCommand) Run(ctx context.Context, id, prompt string, opts sendOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	engine, err := c.newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine(engine, c.stderr)

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.SubmitTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	changes := engine.Registry.Subscribe(ctx)
	if err := engine.Open(id); err != nil {
		return err
	}
	if err := engine.Controller.Submit(ctx, id, prompt, opts.params); err != nil {
		return err
	}

	enc := json.NewEncoder(c.stdout)
	if opts.noWait {
		buf, _ := engine.Registry.Get(id)
		return writeSnapshot(enc, "", id, "", buf)
	}
	// Submit leaves the buffer running, so an idle buffer read after it means
	// the turn ended. Changes only mark the session dirty: the broker drops
	// them for slow readers, so the buffer is always re-read.
	if buf, done := turnEnded(engine.Registry, id); done {
		return writeSnapshot(enc, registry.ChangeUpdated, id, "", buf)
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				engine.Controller.Cancel(id)
				engine.Controller.Wait()
			}
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return errors.New("registry closed before the turn ended")
			}
			next, match := followID(id, change)
			if !match {
				continue
			}
			id = next
			if buf, done := turnEnded(engine.Registry, id); done {
				return writeSnapshot(enc, registry.ChangeUpdated, id, "", buf)
			}
		}
	}
}

func turnEnded(reg *registry.Registry, id string) (*types.SessionBuffer, bool) {
	buf, ok := reg.Get(id)
	if !ok || buf.IsRunning {
		return nil, false
	}
	return buf, true
}
