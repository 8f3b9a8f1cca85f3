package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/control"
	"github.com/inovacc/inboxd/internal/process"
	"github.com/inovacc/inboxd/internal/syncer"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var (
	serviceStart     bool
	serviceStop      bool
	serviceInstall   bool
	serviceUninstall bool
	serviceStatus    bool
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the inboxd daemon as a user service",
	Long: `Install, uninstall, start, stop, or check the status of the sync daemon
as a per-user service.

On Windows, this creates/manages a Windows Service.
On Linux/macOS, this creates/manages a systemd user unit or launchd agent
that runs 'inboxd run'.`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.Flags().BoolVar(&serviceStart, "start", false, "Start the service")
	serviceCmd.Flags().BoolVar(&serviceStop, "stop", false, "Stop the service")
	serviceCmd.Flags().BoolVar(&serviceInstall, "install", false, "Install the service")
	serviceCmd.Flags().BoolVar(&serviceUninstall, "uninstall", false, "Uninstall the service")
	serviceCmd.Flags().BoolVar(&serviceStatus, "status", false, "Check the service status")
	serviceCmd.MarkFlagsMutuallyExclusive("start", "stop", "install", "uninstall", "status")
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        application.AppExeName,
		DisplayName: "inboxd Gmail sync",
		Description: "Keeps Gmail credentials refreshed and syncs unread counts",
		Arguments:   []string{"run"},
		Option:      service.KeyValue{"UserService": true},
	}
}

// controlStopTimeout bounds the wait for in-flight 'inboxd sync' calls.
const controlStopTimeout = 30 * time.Second

// program implements service.Interface around the sync engine and its
// control server.
type program struct {
	mu       sync.Mutex
	engine   *syncer.Engine
	cancel   context.CancelFunc
	control  *control.Server
	infoPath string
}

func (p *program) Start(service.Service) error {
	// Start should not block; the engine runs its own goroutine.
	return p.start(context.Background())
}

func (p *program) Stop(service.Service) error {
	p.stop()
	return nil
}

func (p *program) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine != nil {
		return syncer.ErrAlreadyRunning
	}

	infoPath, err := application.DaemonInfoFile()
	if err != nil {
		return err
	}

	if info, err := control.Discover(infoPath, process.NewFinder().IsRunning); err == nil {
		return fmt.Errorf("%w: pid %d serves %s", syncer.ErrAlreadyRunning, info.PID, info.Address)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, newDispatcher(true))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := engine.Start(ctx); err != nil {
		cancel()
		return err
	}

	p.engine, p.cancel, p.infoPath = engine, cancel, infoPath
	p.control = startControl(engine, infoPath)

	return nil
}

// startControl serves engine on a loopback port and publishes the address.
// Failures are logged; 'inboxd sync' then runs its own engine.
func startControl(engine control.Syncer, infoPath string) *control.Server {
	srv := control.NewServer(engine)

	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		slog.Warn("control server unavailable", "error", err)
		return nil
	}

	if err := control.WriteInfo(infoPath, addr); err != nil {
		slog.Warn("failed to publish control address", "path", infoPath, "error", err)
		srv.Stop(controlStopTimeout)

		return nil
	}

	return srv
}

// stop closes the control server, waits for an in-flight cycle to finish,
// then releases the context.
func (p *program) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine == nil {
		return
	}

	if p.control != nil {
		p.control.Stop(controlStopTimeout)
		control.RemoveInfo(p.infoPath)
	}

	p.engine.Stop()
	p.cancel()
	p.engine, p.cancel, p.control = nil, nil, nil
}

func runService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch {
	case serviceInstall:
		return installService(s)
	case serviceUninstall:
		return uninstallService(s)
	case serviceStart:
		return startService(s)
	case serviceStop:
		return stopService(s)
	case serviceStatus:
		return statusService(s)
	}

	return errors.New("please specify one of: --start, --stop, --install, --uninstall, --status")
}

func installService(s service.Service) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.OAuth.IsPlaceholder() {
		slog.Warn("installing with placeholder OAuth credentials; tokens cannot be refreshed until configured", "config", cfg.Path())
	}

	if err := s.Install(); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	fmt.Println("✓ Service installed successfully!")
	fmt.Println("\nTo start the service, run:")
	fmt.Println("  inboxd service --start")

	return nil
}

func uninstallService(s service.Service) error {
	// Try to stop first
	_ = s.Stop()

	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}

	fmt.Println("✓ Service uninstalled successfully!")

	return nil
}

func startService(s service.Service) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Println("✓ Service started successfully!")
	fmt.Println("Check sync results with: inboxd status")

	return nil
}

func stopService(s service.Service) error {
	if err := s.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	fmt.Println("✓ Service stopped successfully!")

	return nil
}

func statusService(s service.Service) error {
	status, err := s.Status()
	if err != nil && !errors.Is(err, service.ErrNotInstalled) {
		return fmt.Errorf("failed to get service status: %w", err)
	}

	fmt.Printf("Service Status: ")

	switch {
	case errors.Is(err, service.ErrNotInstalled):
		fmt.Println("Not installed")
	case status == service.StatusRunning:
		fmt.Println("Running ✓")
	case status == service.StatusStopped:
		fmt.Println("Stopped")
	default:
		fmt.Println("Unknown")
	}

	return nil
}
