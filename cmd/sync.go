package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/control"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/process"
	"github.com/inovacc/inboxd/internal/syncer"
	"github.com/spf13/cobra"
)

var syncEmail string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync all accounts once",
	Long: `Run one sync cycle now: check the network, refresh tokens as needed and
fetch each account's unread count. Results are recorded for 'inboxd status'.

When 'inboxd run' is active the cycle runs inside the daemon, which allows
one full sync every few seconds; otherwise a local engine is used.

Examples:
  inboxd sync
  inboxd sync --email me@gmail.com`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncEmail, "email", "e", "", "Sync only this account")
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	engine, closeEngine, err := newSyncRunner(ctx)
	if err != nil {
		return err
	}

	defer closeEngine()

	if syncEmail != "" {
		info, err := engine.SyncAccount(ctx, syncEmail)
		if info.Email != "" {
			printSyncResult(info)
		}

		return err
	}

	report, err := engine.SyncNow(ctx)
	if report == nil {
		return err
	}

	if len(report.Results) == 0 && err == nil {
		_, _ = fmt.Fprintln(os.Stdout, "No active accounts to sync.")
		return nil
	}

	for _, info := range report.Results {
		printSyncResult(info)
	}

	if err != nil {
		if errors.Is(err, syncer.ErrNetworkUnavailable) {
			return fmt.Errorf("sync stopped: %w", err)
		}

		return err
	}

	if report.Cycle.Failures > 0 {
		return fmt.Errorf("%d of %d accounts failed to sync", report.Cycle.Failures, report.Cycle.Accounts)
	}

	return nil
}

// newSyncRunner returns the running daemon's engine when one is reachable,
// so its throttle and per-account coalescing apply, and a local engine
// otherwise.
func newSyncRunner(ctx context.Context) (control.Syncer, func(), error) {
	client, err := connectDaemon(ctx)
	if err == nil {
		slog.Debug("syncing through daemon", "address", client.Address())
		return client, func() { _ = client.Close() }, nil
	}

	slog.Debug("no daemon reachable, syncing locally", "reason", err)

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	engine, err := newEngine(cfg, newDispatcher(false))
	if err != nil {
		return nil, nil, err
	}

	return engine, func() {}, nil
}

func connectDaemon(ctx context.Context) (*control.Client, error) {
	path, err := application.DaemonInfoFile()
	if err != nil {
		return nil, err
	}

	info, err := control.Discover(path, process.NewFinder().IsRunning)
	if err != nil {
		return nil, err
	}

	return control.Connect(ctx, info.Address)
}

func printSyncResult(info model.AccountSyncInfo) {
	if info.Failed() {
		_, _ = fmt.Fprintf(os.Stdout, "%s %s  %s\n", paint(errStyle, "✗"), info.Email, paint(errStyle, info.Error))
		return
	}

	line := fmt.Sprintf("%s %s  %s unread", paint(okStyle, "✓"), info.Email, paint(countStyle, fmt.Sprint(info.UnreadCount)))
	if info.DisplayName != "" {
		line += "  " + paint(dimStyle, "("+info.DisplayName+")")
	}

	if info.NetworkIssue {
		line += "  " + paint(warnStyle, "network was unstable")
	}

	_, _ = fmt.Fprintln(os.Stdout, line)
}
