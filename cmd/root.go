package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/config"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logJSON  bool

	oauthFlags config.Flags
)

var rootCmd = &cobra.Command{
	Use:     application.AppExeName,
	Short:   "Keep Gmail accounts signed in and report unread mail",
	Version: application.Version,
	Long: `inboxd stores Gmail OAuth credentials encrypted to this machine, keeps
them refreshed, and periodically syncs each account's unread count.

Get started:
  inboxd config set oauth.client_id <id>
  inboxd config set oauth.client_secret
  inboxd account add
  inboxd run`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logJSON)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for introspection purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.PersistentFlags().StringVar(&oauthFlags.ClientID, "client-id", "", "OAuth client id (overrides "+config.EnvClientID+")")
	rootCmd.PersistentFlags().StringVar(&oauthFlags.ClientSecret, "client-secret", "", "OAuth client secret (overrides "+config.EnvClientSecret+")")
	rootCmd.PersistentFlags().StringVar(&oauthFlags.RedirectURI, "redirect-uri", "", "OAuth redirect base URI (overrides "+config.EnvRedirectURI+")")
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(level string, asJSON bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: use debug, info, warn or error", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}
