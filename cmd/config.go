package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage inboxd configuration",
	Long: `Commands for managing inboxd configuration.

Settings live in config.ini in the application directory. The environment
variables GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET and OAUTH_REDIRECT_URI override
the file, and command flags override both.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration and where each value came from",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save config.ini.

Keys: oauth.client_id, oauth.client_secret, oauth.redirect_uri, oauth.scopes,
sync.interval, sync.initial_delay, sync.refresh_threshold, sync.probe_url,
sync.probe_attempts, sync.probe_timeout, sync.backoff_initial, sync.backoff_max

When the value is omitted it is read from the terminal without echo.

Examples:
  inboxd config set oauth.client_id 1234.apps.googleusercontent.com
  inboxd config set oauth.client_secret
  inboxd config set sync.interval 10m`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(os.Stdout, cfg.Path())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	o := cfg.OAuth

	source := func(key string) string {
		r, ok := o.Sources[key]
		if !ok {
			return ""
		}

		if r.Name != "" {
			return paint(dimStyle, fmt.Sprintf("(%s: %s)", r.Source, r.Name))
		}

		return paint(dimStyle, fmt.Sprintf("(%s)", r.Source))
	}

	secret := maskSecret(o.ClientSecret)
	if o.ClientSecret == config.PlaceholderClientSecret {
		secret = o.ClientSecret
	}

	_, _ = fmt.Fprintln(os.Stdout, paint(headerStyle, "[oauth]"))
	_, _ = fmt.Fprintf(os.Stdout, "client_id         = %s %s\n", o.ClientID, source("client_id"))
	_, _ = fmt.Fprintf(os.Stdout, "client_secret     = %s %s\n", secret, source("client_secret"))
	_, _ = fmt.Fprintf(os.Stdout, "redirect_uri      = %s %s\n", o.RedirectURI, source("redirect_uri"))
	_, _ = fmt.Fprintf(os.Stdout, "scopes            = %s\n", strings.Join(o.Scopes, ", "))

	if o.IsPlaceholder() {
		_, _ = fmt.Fprintln(os.Stdout, paint(warnStyle, "  OAuth client not configured: 'inboxd account add' will refuse to start"))
	}

	s := cfg.Sync

	_, _ = fmt.Fprintln(os.Stdout, "\n"+paint(headerStyle, "[sync]"))
	_, _ = fmt.Fprintf(os.Stdout, "interval          = %s\n", s.Interval)
	_, _ = fmt.Fprintf(os.Stdout, "initial_delay     = %s\n", s.InitialDelay)
	_, _ = fmt.Fprintf(os.Stdout, "refresh_threshold = %s\n", s.RefreshThreshold)
	_, _ = fmt.Fprintf(os.Stdout, "probe_url         = %s\n", s.ProbeURL)
	_, _ = fmt.Fprintf(os.Stdout, "probe_attempts    = %d\n", s.ProbeAttempts)
	_, _ = fmt.Fprintf(os.Stdout, "probe_timeout     = %s\n", s.ProbeTimeout)
	_, _ = fmt.Fprintf(os.Stdout, "backoff_initial   = %s\n", s.BackoffInitial)
	_, _ = fmt.Fprintf(os.Stdout, "backoff_max       = %s\n", s.BackoffMax)

	_, _ = fmt.Fprintln(os.Stdout, "\n"+paint(dimStyle, "file: "+cfg.Path()))

	return nil
}

func runConfigSet(_ *cobra.Command, args []string) error {
	key := args[0]

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		v, err := readSecret(fmt.Sprintf("Value for %s: ", key))
		if err != nil {
			return err
		}

		value = v
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("value is empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "%s %s saved to %s\n", paint(okStyle, "✓"), key, cfg.Path())

	return nil
}

// readSecret reads a value from the terminal without echoing
func readSecret(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", errors.New("no value given and stdin is not a terminal")
	}

	_, _ = fmt.Fprint(os.Stderr, prompt)

	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("failed to read value: %w", err)
	}

	return string(b), nil
}
