package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"console/internal/config"
	"console/internal/registry"
)

// TailCommand follows a session's stream and prints a snapshot per change.
type TailCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.CoreConfig, error)
	newEngine  engineFactory
}

func NewTailCommand(wiring commandWiring) *TailCommand {
	return &TailCommand{
		stdout:     wiring.stdout,
		stderr:     wiring.stderr,
		loadConfig: wiring.loadConfig,
		newEngine:  wiring.newEngine,
	}
}

func (c *TailCommand) Command() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Print session snapshots as JSON lines while the stream is followed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0], duration)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 follows until interrupted)")
	return cmd
}

func (c *TailCommand) Run(ctx context.Context, id string, duration time.Duration) error {
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

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	changes := engine.Registry.Subscribe(ctx)
	if err := engine.Open(id); err != nil {
		return err
	}

	enc := json.NewEncoder(c.stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			next, match := followID(id, change)
			if !match || change.Kind == registry.ChangeDeleted {
				continue
			}
			id = next
			if err := writeSnapshot(enc, change.Kind, change.SessionID, change.PreviousID, change.Buffer); err != nil {
				return err
			}
		}
	}
}
