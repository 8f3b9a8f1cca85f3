package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/crypto/machinekey"
	"github.com/inovacc/inboxd/internal/crypto/tokencipher"
	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/gmail"
	"github.com/inovacc/inboxd/internal/notify"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/inovacc/inboxd/internal/syncer"
	"golang.org/x/term"
)

// styled is false when stdout is piped, so output stays plain text.
var styled = term.IsTerminal(int(os.Stdout.Fd()))

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	countStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

func paint(style lipgloss.Style, s string) string {
	if !styled {
		return s
	}

	return style.Render(s)
}

// printTable writes rows padded to column width. Cells may be styled per
// column through styles, which can be shorter than the header.
func printTable(headers []string, rows [][]string, styles ...func(row []string, col int) lipgloss.Style) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := make([]string, len(headers))
	for i, h := range headers {
		line[i] = paint(headerStyle, pad(h, widths[i]))
	}

	_, _ = fmt.Fprintln(os.Stdout, strings.TrimRight(strings.Join(line, "  "), " "))

	for _, row := range rows {
		for i, cell := range row {
			cell = pad(cell, widths[i])

			for _, style := range styles {
				cell = paint(style(row, i), cell)
			}

			line[i] = cell
		}

		_, _ = fmt.Fprintln(os.Stdout, strings.TrimRight(strings.Join(line, "  "), " "))
	}
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}

	return s
}

// truncateString truncates a string to the specified display width with
// ellipsis. Wide characters are never split.
func truncateString(s string, maxLen int) string {
	if ansi.StringWidth(s) <= maxLen {
		return s
	}

	if maxLen <= 3 {
		return ansi.Truncate(s, maxLen, "")
	}

	return ansi.Truncate(s, maxLen-3, "") + "..."
}

// maskSecret keeps the first and last characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// humanizeTime renders t relative to now, e.g. "in 42m" or "3h ago".
func humanizeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := t.Sub(now)

	suffix := ""
	prefix := "in "

	if d < 0 {
		d, prefix, suffix = -d, "", " ago"
	}

	var s string

	switch {
	case d < time.Minute:
		s = fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		s = fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		s = fmt.Sprintf("%dh", int(d.Hours()))
	default:
		s = fmt.Sprintf("%dd", int(d.Hours()/24))
	}

	return prefix + s + suffix
}

// promptConfirm asks the user for confirmation and returns true if they confirm
// prompt should include the question (e.g., "Remove this account? [y/N]: ")
func promptConfirm(prompt string) bool {
	_, _ = fmt.Fprint(os.Stdout, prompt)

	var response string

	_, _ = fmt.Scanln(&response)

	return response == "y" || response == "Y"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(oauthFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

func newCipher() *tokencipher.Cipher {
	return tokencipher.New(machinekey.NewSource())
}

// newDispatcher builds a synchronous dispatcher that records every result
// in the status database, plus logs when withLog is set.
func newDispatcher(withLog bool) *notify.Dispatcher {
	d := notify.NewDispatcher(false)
	d.Register(notify.NewStatusSender(database.GetDB()))

	if withLog {
		d.Register(notify.NewLogSender(nil))
	}

	return d
}

// newEngine wires the sync engine to the accounts file and Google endpoints.
func newEngine(cfg *config.Config, sink syncer.Sink) (*syncer.Engine, error) {
	if cfg.OAuth.IsPlaceholder() {
		slog.Warn("OAuth client is not configured, expired tokens cannot be refreshed")
	}

	httpClient := gmail.NewHTTPClient()
	endpoints := gmail.DefaultEndpoints()

	return syncer.New(syncer.Options{
		Store:     store.GetStore(),
		Client:    gmail.NewClient(httpClient, endpoints),
		Refresher: gmail.NewOAuthRefresher(cfg.OAuth, endpoints, httpClient),
		Cipher:    newCipher(),
		Prober:    syncer.NewProber(cfg.Sync, httpClient),
		Sink:      sink,
		Sync:      cfg.Sync,
	})
}
