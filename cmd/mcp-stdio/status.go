package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how long the stored Monarch Money credential has left",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), deps.tracker, localUserID())
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, tracker *credential.Tracker, userID string) error {
	st, err := tracker.CheckCredentialHealth(ctx, userID)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Fprintf(w, "User:    %s\n", userID)
	switch st.Health {
	case credential.HealthHealthy:
		green.Fprintf(w, "Status:  %s\n", st.Health)
	case credential.HealthRefreshSoon, credential.HealthRefreshNow:
		yellow.Fprintf(w, "Status:  %s\n", st.Health)
	default:
		red.Fprintf(w, "Status:  %s\n", st.Health)
	}
	if st.ExpiresAt != nil && st.DaysUntilExpiry != nil {
		fmt.Fprintf(w, "Expires: %s (%d days)\n", st.ExpiresAt.Format("2006-01-02"), *st.DaysUntilExpiry)
	}
	if st.NeedsAction || st.Health == credential.HealthRefreshNow {
		fmt.Fprintln(w, "Run `monarch-mcp login` to connect your Monarch Money account.")
		if st.LoginURL != "" {
			fmt.Fprintf(w, "Or open: %s\n", st.LoginURL)
		}
	}
	return nil
}
