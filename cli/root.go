// Package cli holds the showctl command tree.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdginn/showctl/config"
	"github.com/jdginn/showctl/osc"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitBind means the OSC socket could not be bound at startup.
	ExitBind = 2
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "showctl",
		Short: "OSC bridge for run-of-show timers",
		Long: `showctl receives OSC commands from show-control consoles, keeps a cached copy of
the loaded event's schedule and timers, and mirrors every change to the run-of-show
backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "showctl.yaml", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with SHOWCTL_* overrides")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig reads the file, then the environment. Flags are applied by the caller.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var files []string
	if opts.EnvFile != "" {
		files = append(files, opts.EnvFile)
	}
	if err := cfg.LoadEnv(files...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, osc.ErrBind):
		return ExitBind
	}
	return ExitFailure
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "showctl %s\n", Version)
		},
	}
}
