package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/control"
	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/process"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync result of every account",
	Long: `Show each account's last sync result as recorded by 'inboxd run' or
'inboxd sync'. An account keeps its error flag until a sync succeeds.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// StatusItem is one account in JSON output.
type StatusItem struct {
	Email  string           `json:"email"`
	Active bool             `json:"active"`
	Status *database.Status `json:"status,omitempty"`
}

// StatusReport is the JSON output of the status command.
type StatusReport struct {
	DaemonPIDs    []int           `json:"daemon_pids"`
	DaemonAddress string          `json:"daemon_address,omitempty"`
	LastCycle     *database.Cycle `json:"last_cycle,omitempty"`
	Accounts      []StatusItem    `json:"accounts"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	report, err := collectStatus()
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatus(report, time.Now())

	return nil
}

func collectStatus() (*StatusReport, error) {
	report := &StatusReport{DaemonPIDs: []int{}, Accounts: []StatusItem{}}

	finder := process.NewFinder()
	for _, p := range finder.FindByName(application.AppExeName) {
		report.DaemonPIDs = append(report.DaemonPIDs, p.PID)
	}

	if path, err := application.DaemonInfoFile(); err == nil {
		if info, err := control.Discover(path, finder.IsRunning); err == nil {
			report.DaemonAddress = info.Address
		}
	}

	accounts, err := store.GetStore().LoadAccounts()
	if err != nil && len(accounts) == 0 {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	db := database.GetDB()

	statuses, err := db.ListStatuses()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}

	byEmail := make(map[string]database.Status, len(statuses))
	for _, s := range statuses {
		byEmail[strings.ToLower(s.Email)] = s
	}

	for _, a := range accounts {
		item := StatusItem{Email: a.Email(), Active: a.IsActive()}
		if s, ok := byEmail[strings.ToLower(a.Email())]; ok {
			item.Status = &s
		}

		report.Accounts = append(report.Accounts, item)
	}

	cycles, err := db.RecentCycles(1)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync history: %w", err)
	}

	if len(cycles) > 0 {
		report.LastCycle = &cycles[0]
	}

	return report, nil
}

func printStatus(report *StatusReport, now time.Time) {
	daemon := paint(dimStyle, "not running")
	if len(report.DaemonPIDs) > 0 {
		pids := make([]string, 0, len(report.DaemonPIDs))
		for _, pid := range report.DaemonPIDs {
			pids = append(pids, strconv.Itoa(pid))
		}

		daemon = paint(okStyle, "running") + paint(dimStyle, " (pid "+strings.Join(pids, ", ")+")")
		if report.DaemonAddress != "" {
			daemon += paint(dimStyle, " control "+report.DaemonAddress)
		}
	}

	_, _ = fmt.Fprintf(os.Stdout, "Daemon: %s\n", daemon)

	if c := report.LastCycle; c != nil {
		line := fmt.Sprintf("Last cycle: %s, %s, %d accounts, %d failed", humanizeTime(c.FinishedAt, now), c.Trigger, c.Accounts, c.Failures)
		if c.Error != "" {
			line += ": " + paint(errStyle, c.Error)
		}

		_, _ = fmt.Fprintln(os.Stdout, line)
	}

	_, _ = fmt.Fprintln(os.Stdout)

	if len(report.Accounts) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No accounts configured.")
		_, _ = fmt.Fprintln(os.Stdout, "\nAdd one with: inboxd account add")

		return
	}

	rows := make([][]string, 0, len(report.Accounts))

	for _, item := range report.Accounts {
		rows = append(rows, statusRow(item, now))
	}

	printTable([]string{"EMAIL", "UNREAD", "LAST SYNC", "STATE"}, rows, func(row []string, col int) lipgloss.Style {
		if col != 3 {
			return lipgloss.NewStyle()
		}

		switch {
		case row[3] == "ok":
			return okStyle
		case row[3] == "disabled" || row[3] == "never synced":
			return dimStyle
		default:
			return errStyle
		}
	})
}

func statusRow(item StatusItem, now time.Time) []string {
	if !item.Active {
		return []string{item.Email, "-", "-", "disabled"}
	}

	s := item.Status
	if s == nil {
		return []string{item.Email, "-", "-", "never synced"}
	}

	state := "ok"
	if s.PersistentError {
		state = truncateString(s.LastError, 60)
		if s.ConsecutiveFailures > 1 {
			state = fmt.Sprintf("%s (x%d)", state, s.ConsecutiveFailures)
		}
	}

	return []string{item.Email, strconv.Itoa(s.UnreadCount), humanizeTime(s.LastSync, now), state}
}
