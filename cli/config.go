package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdginn/showctl/config"
)

// ConfigInitOptions holds flags for the config init command.
type ConfigInitOptions struct {
	*RootOptions
	Force bool
}

func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(NewConfigInitCommand(rootOpts))
	return cmd
}

func NewConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigInitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write a config file with the default settings.

SHOWCTL_* variables from the environment and the --env-file are applied before writing,
so the file records the setup in use. An existing file is kept unless --force is given.

Example:
  showctl config init
  showctl config init -c /etc/showctl.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func initConfig(cmd *cobra.Command, opts *ConfigInitOptions) error {
	path := opts.ConfigPath
	if path == "" {
		return errors.New("config init: --config is empty")
	}
	if _, err := os.Stat(path); err == nil {
		if !opts.Force {
			return fmt.Errorf("config init: %s already exists, use --force to overwrite", path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config init: %w", err)
	}

	cfg := config.Default()
	var files []string
	if opts.EnvFile != "" {
		files = append(files, opts.EnvFile)
	}
	if err := cfg.LoadEnv(files...); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
