package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/server"
	"github.com/Devign20164/ForgePh/pkg/version"
)

type serveFlags struct {
	controlAddr string
	httpAddr    string
	certFile    string
	keyFile     string
	dataDir     string
	usersFile   string
	timezone    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the real-time and HTTP listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			applyServeFlags(cmd, f, &cfg)
			return runServe(cfg)
		},
	}

	defaults := server.DefaultConfig()
	cmd.Flags().StringVar(&f.controlAddr, "control", defaults.ControlAddr, "TLS bind address for the real-time channel")
	cmd.Flags().StringVar(&f.httpAddr, "http", defaults.HTTPAddr, "HTTP API bind address (empty to disable)")
	cmd.Flags().StringVar(&f.certFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "TLS private key file (auto-generated if empty)")
	cmd.Flags().StringVar(&f.dataDir, "data", defaults.DataDir, "data directory for generated files")
	cmd.Flags().StringVar(&f.usersFile, "users-file", "", "YAML file of accounts to create on startup")
	cmd.Flags().StringVar(&f.timezone, "timezone", defaults.Timezone, "reference timezone for daily counters")

	return cmd
}

func applyServeFlags(cmd *cobra.Command, f *serveFlags, cfg *server.Config) {
	flags := cmd.Flags()
	if flags.Changed("control") {
		cfg.ControlAddr = f.controlAddr
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = f.httpAddr
	}
	if flags.Changed("cert") {
		cfg.CertFile = f.certFile
	}
	if flags.Changed("key") {
		cfg.KeyFile = f.keyFile
	}
	if flags.Changed("data") {
		cfg.DataDir = f.dataDir
	}
	if flags.Changed("users-file") {
		cfg.UsersFile = f.usersFile
	}
	if flags.Changed("timezone") {
		cfg.Timezone = f.timezone
	}
}

func runServe(cfg server.Config) error {
	slog.Info("starting", "version", version.Full())

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	srv, err := server.New(cfg, server.Dependencies{Store: st})
	if err != nil {
		_ = st.Close()
		return err
	}
	return srv.Run()
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return err
		},
	}
}
