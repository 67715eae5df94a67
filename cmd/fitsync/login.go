package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fitsync/fitsync/pkg/fitsync/config"
	"github.com/fitsync/fitsync/pkg/fitsync/garmin"
	"github.com/spf13/cobra"
)

// loginTimeout bounds the whole authenticate-and-verify exchange.
const loginTimeout = 30 * time.Second

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Garmin Connect",
	Long: `Authenticate against Garmin Connect and store the session token
locally so later uploads do not need the password again.

The token file is written with owner-only permissions under the
application state directory.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored Garmin Connect session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Garmin Connect account email")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

// runLogin is the login command handler.
func runLogin(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	email := loginEmail
	if email == "" {
		email = a.store.GetString(config.KeyUsername)
	}
	if email == "" {
		email, err = promptLine("Email")
		if err != nil {
			return err
		}
	}
	if email == "" {
		return fmt.Errorf("an account email is required")
	}

	password, err := promptLine("Password")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("a password is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	session, err := garmin.Authenticate(ctx, garmin.NewClient(), email, password)
	if err != nil {
		if garmin.IsUnauthorized(err) {
			return fmt.Errorf("login rejected, check email and password")
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if err := session.Persist(config.DefaultTokenPath()); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	a.store.Set(config.KeyUsername, email)

	name, err := session.Username(ctx)
	if err != nil {
		printVerbose("profile lookup failed: %v", err)
		printInfo("Logged in as %s", email)
		return nil
	}
	printInfo("Logged in as %s (%s)", name, email)
	return nil
}

// runLogout is the logout command handler.
func runLogout(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := garmin.Resume(garmin.NewClient(), config.DefaultTokenPath())
	if err != nil {
		printInfo("Not logged in.")
		return nil
	}
	if err := session.Invalidate(); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	printInfo("Logged out.")
	return nil
}

// promptLine reads one trimmed line from stdin.
func promptLine(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
