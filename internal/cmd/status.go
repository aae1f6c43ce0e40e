package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/session"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show whether a session is stored",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SetOut(cmd.OutOrStdout())

		store, err := session.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return printStatus(cmd.Context(), cmd.OutOrStdout(), store, time.Now())
	},
}

func printStatus(ctx context.Context, out io.Writer, store *session.Store, now time.Time) error {
	if cfg.Disabled {
		_, err := fmt.Fprintln(out, "Authorization: disabled")
		return err
	}
	tokens, ok, err := store.Tokens(ctx)
	if err != nil {
		return err
	}
	if !ok {
		_, err = fmt.Fprintln(out, "Session: logged out")
		return err
	}
	_, _ = fmt.Fprintln(out, "Session: logged in")
	claims, ok := oauth.DecodeIDToken(tokens.IDToken)
	if !ok {
		_, err = fmt.Fprintln(out, "Identity token: not decodable")
		return err
	}
	_, _ = fmt.Fprintf(out, "User: %s\n", claims.DisplayName())
	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		state := "valid"
		if !expires.After(now) {
			state = "expired, refreshed on next API call"
		}
		_, _ = fmt.Fprintf(out, "Identity token expires: %s (%s)\n", expires.Format(time.RFC3339), state)
	}
	return nil
}
