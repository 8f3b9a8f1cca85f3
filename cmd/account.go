package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/inovacc/inboxd/internal/browser"
	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/gmail"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage Gmail accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Authorize a Gmail account",
	Long: `Authorize a Gmail account in the browser.

A local listener on 127.0.0.1 (ports 8080-8089) receives the redirect. The
flow gives up after 60 seconds.

Examples:
  inboxd account add
  inboxd account add --no-browser
  GMAIL_CLIENT_ID=... GMAIL_CLIENT_SECRET=... inboxd account add`,
	Args: cobra.NoArgs,
	RunE: runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored accounts",
	Args:    cobra.NoArgs,
	RunE:    runAccountList,
}

var accountRemoveCmd = &cobra.Command{
	Use:     "remove <email>",
	Aliases: []string{"rm"},
	Short:   "Remove a stored account",
	Args:    cobra.ExactArgs(1),
	RunE:    runAccountRemove,
}

var accountEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Include an account in sync cycles",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setAccountActive(args[0], true)
	},
}

var accountDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Skip an account in sync cycles without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setAccountActive(args[0], false)
	},
}

var (
	accountAddNoBrowser bool
	accountListJSON     bool
	accountRemoveForce  bool
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountRemoveCmd, accountEnableCmd, accountDisableCmd)

	accountAddCmd.Flags().BoolVar(&accountAddNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	accountListCmd.Flags().BoolVar(&accountListJSON, "json", false, "Output as JSON")
	accountRemoveCmd.Flags().BoolVarP(&accountRemoveForce, "force", "f", false, "Remove without confirmation")
}

func runAccountAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.OAuth.Validate(); err != nil {
		if errors.Is(err, config.ErrPlaceholderCredentials) {
			return fmt.Errorf("%w\n\nSet %s and %s, pass --client-id/--client-secret, or run:\n  inboxd config set oauth.client_id <id>\n  inboxd config set oauth.client_secret",
				err, config.EnvClientID, config.EnvClientSecret)
		}

		return err
	}

	opts := gmail.FlowOptions{
		OnAuthURL: func(url string) {
			_, _ = fmt.Fprintln(os.Stdout, "Open this URL to authorize inboxd:")
			_, _ = fmt.Fprintln(os.Stdout, "  "+paint(dimStyle, url))
			_, _ = fmt.Fprintln(os.Stdout, "Waiting for authorization...")
		},
	}

	if !accountAddNoBrowser {
		opts.OpenBrowser = browser.Open
	}

	flow := gmail.NewAuthorizationFlow(cfg.OAuth, newCipher(), store.GetStore(), opts)

	account, err := flow.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "%s Added %s (%s)\n", paint(okStyle, "✓"), account.Email(), account.DisplayName())

	return nil
}

// AccountListItem represents an account in JSON output.
type AccountListItem struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Active      bool      `json:"active"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func runAccountList(_ *cobra.Command, _ []string) error {
	accounts, loadErr := store.GetStore().LoadAccounts()
	if loadErr != nil && len(accounts) == 0 {
		return fmt.Errorf("failed to load accounts: %w", loadErr)
	}

	if accountListJSON {
		items := make([]AccountListItem, 0, len(accounts))
		for _, a := range accounts {
			items = append(items, AccountListItem{
				Email:       a.Email(),
				DisplayName: a.DisplayName(),
				AvatarURL:   a.AvatarURL(),
				Active:      a.IsActive(),
				ExpiresAt:   a.ExpiresAt(),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(items)
	}

	if len(accounts) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No accounts configured.")
		_, _ = fmt.Fprintln(os.Stdout, "\nAdd one with: inboxd account add")

		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(accounts))

	for _, a := range accounts {
		active := "yes"
		if !a.IsActive() {
			active = "no"
		}

		rows = append(rows, []string{a.Email(), truncateString(a.DisplayName(), 28), active, humanizeTime(a.ExpiresAt(), now)})
	}

	printTable([]string{"EMAIL", "NAME", "ACTIVE", "TOKEN EXPIRES"}, rows, func(row []string, col int) lipgloss.Style {
		if col == 2 && row[2] == "no" {
			return dimStyle
		}

		return lipgloss.NewStyle()
	})

	if loadErr != nil {
		_, _ = fmt.Fprintln(os.Stderr, paint(warnStyle, "\nSome records could not be loaded:\n  "+strings.ReplaceAll(loadErr.Error(), "\n", "\n  ")))
	}

	return nil
}

func runAccountRemove(_ *cobra.Command, args []string) error {
	email := args[0]
	s := store.GetStore()

	if _, err := s.GetAccount(email); err != nil {
		return err
	}

	if !accountRemoveForce && !promptConfirm(fmt.Sprintf("Remove %s? [y/N]: ", email)) {
		_, _ = fmt.Fprintln(os.Stdout, "Cancelled.")
		return nil
	}

	if err := s.RemoveAccount(email); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}

	if err := database.GetDB().DeleteStatus(email); err != nil && !errors.Is(err, database.ErrStatusNotFound) {
		return fmt.Errorf("account removed but its sync status was kept: %w", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "%s Removed %s\n", paint(okStyle, "✓"), email)

	return nil
}

func setAccountActive(email string, active bool) error {
	s := store.GetStore()

	account, err := s.GetAccount(email)
	if err != nil {
		return err
	}

	account.SetActive(active)

	if err := s.SaveAccount(account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	state := "enabled"
	if !active {
		state = "disabled"
	}

	_, _ = fmt.Fprintf(os.Stdout, "%s %s %s\n", paint(okStyle, "✓"), account.Email(), state)

	return nil
}
