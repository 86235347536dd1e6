package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Devign20164/ForgePh/pkg/auth"
	"github.com/Devign20164/ForgePh/pkg/clock"
	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/server"
)

// NewExportUsersCommand creates the export-users command.
func NewExportUsersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export-users",
		Short: "Print every account as YAML (no password hashes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := datastore.NewProviderFactory(rootOpts.Config.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = st.Close() }()

			data, err := server.ExportUsersYAML(cmd.Context(), st.NonTx())
			if err != nil {
				return fmt.Errorf("export users: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// NewIssueTokenCommand creates the issue-token command.
func NewIssueTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for an account",
		Long: `Mint a bearer token for an account using the configured JWT secret.

The secret must be set in the config file or FORGEPH_JWT_SECRET, otherwise
the server would not accept the token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if cfg.JWTSecret == "" {
				return errors.New("no JWT secret configured (set jwt_secret or " + server.EnvJWTSecret + ")")
			}

			st, err := datastore.NewProviderFactory(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = st.Close() }()

			user, err := lookupUser(cmd, st.NonTx(), email)
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.TokenTTL, clock.System{}, st.NonTx())
			if err != nil {
				return err
			}
			token, err := v.Issue(user)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "account email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewVerifyUserCommand creates the verify-user command.
func NewVerifyUserCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "verify-user",
		Short: "Mark an account's email as verified",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := datastore.NewProviderFactory(rootOpts.Config.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = st.Close() }()

			user, err := lookupUser(cmd, st.NonTx(), email)
			if err != nil {
				return err
			}
			if err := st.NonTx().UpdateUserStatus(cmd.Context(), user.ID, model.StatusVerified); err != nil {
				return fmt.Errorf("verify user: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) is now %s\n", user.Email, user.ID, model.StatusVerified)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "account email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func lookupUser(cmd *cobra.Command, ds datastore.DataStore, email string) (*model.User, error) {
	user, err := ds.GetUserByEmail(cmd.Context(), email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("no account with email %q", email)
	}
	return user, nil
}
