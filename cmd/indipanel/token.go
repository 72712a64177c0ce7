package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/indi-panel/internal/auth"
)

// errAuthDisabled is returned when no JWT secret is configured.
var errAuthDisabled = errors.New("security.jwt.secret is empty, API auth is disabled")

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Mint a signed bearer token for the HTTP API using the configured JWT
secret. Viewers may read state; operators may also connect, send commands,
and start exposures.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.AuthEnabled() {
				return errAuthDisabled
			}

			if ttl == 0 {
				ttl = cfg.GetAccessTokenTTL()
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. an operator name (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	//nolint:errcheck // flag exists
	cmd.MarkFlagRequired("subject")

	return cmd
}
