package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/monarch"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type monarchClient interface {
	Login(ctx context.Context, email, password, mfaCode string) (string, error)
	Ping(ctx context.Context, token string) (int, error)
}

// errSetupCancelled is returned when the user declines to continue without
// multi-factor authentication.
var errSetupCancelled = errors.New("setup cancelled")

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to Monarch Money and store the session for the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			s := &setup{
				in:           bufio.NewReader(cmd.InOrStdin()),
				out:          cmd.OutOrStdout(),
				readPassword: readTerminalPassword,
				client:       monarch.NewClient(""),
				tracker:      deps.tracker,
				userID:       localUserID(),
			}
			err = s.run(cmd.Context())
			if errors.Is(err, errSetupCancelled) {
				return nil
			}
			return err
		},
	}
}

func readTerminalPassword() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	return string(b), err
}

// setup is the interactive credential setup.
type setup struct {
	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)
	client       monarchClient
	tracker      *credential.Tracker
	userID       string
}

func (s *setup) run(ctx context.Context) error {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Fprintln(s.out, "\nMonarch Money setup")
	fmt.Fprintln(s.out, strings.Repeat("=", 45))
	fmt.Fprintln(s.out, "This signs you in once and stores an encrypted session")
	fmt.Fprintln(s.out, "for the MCP server to use.")

	hasMFA, err := s.confirm("\nDo you have multi-factor authentication enabled on your Monarch Money account? (yes/no): ")
	if err != nil {
		return err
	}
	if !hasMFA {
		yellow.Fprintln(s.out, "\nSecurity recommendation")
		fmt.Fprintln(s.out, "Monarch Money holds sensitive financial data. Enable MFA:")
		fmt.Fprintln(s.out, "  1. Log in to the Monarch Money web app")
		fmt.Fprintln(s.out, "  2. Go to Settings > Security")
		fmt.Fprintln(s.out, "  3. Enable two-factor authentication")
		proceed, err := s.confirm("\nProceed with login? (yes/no): ")
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Fprintln(s.out, "Setup cancelled. Enable MFA and try again.")
			return errSetupCancelled
		}
	}

	email, err := s.prompt("\nEmail: ")
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, "Password: ")
	password, err := s.readPassword()
	fmt.Fprintln(s.out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	fmt.Fprintln(s.out, "Authenticating with Monarch Money...")
	token, err := s.client.Login(ctx, email, password, "")
	if errors.Is(err, monarch.ErrMFARequired) {
		yellow.Fprintln(s.out, "\nMulti-factor code required")
		code, perr := s.prompt("Enter your MFA code: ")
		if perr != nil {
			return perr
		}
		token, err = s.client.Login(ctx, email, password, code)
	}
	if err != nil {
		red.Fprintf(s.out, "Login failed: %v\n", err)
		return fmt.Errorf("monarch login: %w", err)
	}
	green.Fprintln(s.out, "Login successful")

	fmt.Fprintln(s.out, "Testing connection...")
	accounts, err := s.client.Ping(ctx, token)
	if err != nil {
		red.Fprintf(s.out, "Connection test failed: %v\n", err)
		return fmt.Errorf("monarch connection test: %w", err)
	}
	green.Fprintf(s.out, "Connection successful, found %d accounts\n", accounts)

	if err := s.tracker.Store(ctx, s.userID, token, credential.DefaultTTLDays); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Fprintln(s.out, strings.Repeat("=", 45))
	green.Fprintln(s.out, "Setup complete")
	fmt.Fprintf(s.out, "Session stored for %s, valid for %d days.\n", s.userID, credential.DefaultTTLDays)
	if hasMFA {
		fmt.Fprintln(s.out, "MFA is enabled; your account is well protected.")
	}
	return nil
}

func (s *setup) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *setup) confirm(label string) (bool, error) {
	answer, err := s.prompt(label)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
