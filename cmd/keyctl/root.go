package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/cipher"
)

type app struct {
	stdout io.Writer
	stderr io.Writer
	rotate rotateFunc
}

func newApp(out, errOut io.Writer) *app {
	return &app{stdout: out, stderr: errOut, rotate: rotateDatabase}
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage the otpdesk session encryption key",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.AddCommand(
		newGenerateCmd(a),
		newDeriveCmd(a),
		newRotateCmd(a),
		newTokenCmd(a),
	)
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Print a new random SESSION_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cipher.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, cipher.EncodeKey(key))
			return nil
		},
	}
}

func newDeriveCmd(a *app) *cobra.Command {
	var passphrase, salt string
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a SESSION_ENCRYPTION_KEY from a passphrase with argon2id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = os.Getenv("KEYCTL_PASSPHRASE")
			}
			key, err := cipher.DeriveKey([]byte(passphrase), []byte(salt))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, cipher.EncodeKey(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase to derive from (default $KEYCTL_PASSPHRASE)")
	cmd.Flags().StringVar(&salt, "salt", "", "salt, at least 8 bytes")
	_ = cmd.MarkFlagRequired("salt")
	return cmd
}

func newRotateCmd(a *app) *cobra.Command {
	var oldKey string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt every stored credential under a new key",
		Long: "rotate reads the database settings from the environment, re-encrypts every stored\n" +
			"session secret and second factor, and prints the new key. Credential writes are\n" +
			"blocked while it runs. A running API keeps sealing with the old key afterwards, so\n" +
			"stop the API first, or restart it with the new key before it stores another\n" +
			"credential. Credentials listed as failed still use the old key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if oldKey == "" {
				oldKey = os.Getenv("SESSION_ENCRYPTION_KEY")
			}
			if oldKey == "" {
				return errors.New("--old-key or SESSION_ENCRYPTION_KEY is required")
			}
			key, err := cipher.ParseKey(oldKey)
			if err != nil {
				return err
			}

			report, err := a.rotate(cmd.Context(), key)
			if err != nil {
				return err
			}
			if report.NewKey == nil {
				fmt.Fprintln(a.stdout, "no stored credentials; key unchanged")
				return nil
			}

			fmt.Fprintf(a.stdout, "rotated %d credential(s)\n", report.Rotated)
			fmt.Fprintf(a.stdout, "SESSION_ENCRYPTION_KEY=%s\n", cipher.EncodeKey(report.NewKey))
			for _, f := range report.Failures {
				fmt.Fprintf(a.stderr, "failed %s: %v\n", f.AccountID, f.Err)
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d credential(s) could not be rotated", len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&oldKey, "old-key", "", "current key (default $SESSION_ENCRYPTION_KEY)")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		scopes  string
		issuer  string
		secret  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the orchestration layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SERVICE_TOKEN_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or SERVICE_TOKEN_SECRET is required")
			}

			requested := auth.AllScopes
			if scopes != "" {
				requested = strings.Split(scopes, ",")
			}

			token, err := auth.NewTokenManager(secret, issuer).GenerateServiceToken(subject, requested, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, used as the audit actor")
	cmd.Flags().StringVar(&scopes, "scopes", "", "comma separated scopes (default all)")
	cmd.Flags().StringVar(&issuer, "issuer", "otpdesk", "token issuer, must match SERVICE_TOKEN_ISSUER")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $SERVICE_TOKEN_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
