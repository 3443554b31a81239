package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qwenauth/internal/oauth"
	"qwenauth/pkg/logging"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored Qwen credential state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	token, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	if token == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not logged in. Run 'qwenauth login' to authenticate.")
		return oauth.ErrTokenNotAvailable
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Access token:  %s\n", logging.TruncateSecret(token.AccessToken))
	fmt.Fprintf(out, "Refresh token: %s\n", logging.TruncateSecret(token.RefreshToken))
	if token.ResourceURL != "" {
		fmt.Fprintf(out, "Resource URL:  %s\n", token.ResourceURL)
	}

	expiry := time.UnixMilli(token.ExpiresAt)
	if token.Expired() {
		fmt.Fprintf(out, "Status:        expired at %s (will refresh on next use)\n", expiry.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Status:        valid until %s (%s remaining)\n",
			expiry.Format(time.RFC3339), token.ExpiresIn().Round(time.Second))
	}
	return nil
}
