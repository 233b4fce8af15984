package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joules/server/config"
	"github.com/joules/server/console"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(newConfigInitCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write the default settings, plus any --data-dir, --backend-url and --store
flags, to the config file. The environment is not written.`,
		Args: cobra.NoArgs,
		// The file being created may not parse yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if path == "" {
				return errors.New("no user config directory; pass --config")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}

			cfg := config.DefaultConfig()
			a.applyOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}

			console.NewFormatter(cmd.OutOrStdout()).Success("Wrote " + path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return cmd
}
