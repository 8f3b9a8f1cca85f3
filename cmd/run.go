package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the periodic sync loop until interrupted.

Started by a service manager (see 'inboxd service'), the daemon reports to
it; otherwise it runs in the foreground and stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	prg := &program{}

	if !service.Interactive() {
		s, err := service.New(prg, serviceConfig())
		if err != nil {
			return err
		}

		return s.Run()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := prg.start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	prg.stop()

	return nil
}
