// Package cli implements the forgeph-server command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Devign20164/ForgePh/pkg/logging"
	"github.com/Devign20164/ForgePh/pkg/server"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	DBPath     string

	// Getenv is consulted for environment overrides; nil means os.Getenv.
	Getenv func(string) string

	// Config is resolved in PersistentPreRunE.
	Config server.Config
}

// NewRootCommand creates the root command for the ForgePH server CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "forgeph-server",
		Short:         "ForgePH loyalty points server",
		Long:          "Real-time points, daily counters and chat for ForgePH customers and retailers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logging.Setup(logging.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Output: cmd.ErrOrStderr(),
			}); err != nil {
				return fmt.Errorf("invalid logging config: %w", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level: "+logging.LevelNames())
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "forgeph.db", "SQLite database file path")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExportUsersCommand(opts))
	cmd.AddCommand(NewIssueTokenCommand(opts))
	cmd.AddCommand(NewVerifyUserCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// resolveConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func resolveConfig(opts *RootOptions, flags *pflag.FlagSet) (server.Config, error) {
	cfg := server.DefaultConfig()
	if opts.ConfigPath != "" {
		if err := server.LoadConfigFile(opts.ConfigPath, &cfg); err != nil {
			return cfg, err
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	server.ApplyEnv(&cfg, getenv)

	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.LogFormat
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}
