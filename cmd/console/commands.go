package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"console/internal/config"
	"console/internal/session"
)

type engineFactory func(cfg config.CoreConfig) (*session.Engine, error)

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.CoreConfig, error)
	newEngine  engineFactory
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.LoadCoreConfig,
		newEngine: func(cfg config.CoreConfig) (*session.Engine, error) {
			return session.NewEngine(cfg)
		},
		version: buildVersion(),
	}
}

func buildRootCommand(wiring commandWiring) *cobra.Command {
	root := &cobra.Command{
		Use:           "console",
		Short:         "Follow and drive agent sessions from the terminal",
		Version:       wiring.version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(wiring.stdout)
	root.SetErr(wiring.stderr)
	root.AddCommand(
		NewTailCommand(wiring).Command(),
		NewSendCommand(wiring).Command(),
		NewConfigCommand(wiring.stdout, wiring.loadConfig).Command(),
	)
	return root
}
