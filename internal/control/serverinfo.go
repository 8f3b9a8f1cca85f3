package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoDaemon is returned when no live daemon has published its address.
var ErrNoDaemon = errors.New("no running daemon")

// Info describes a running daemon's control endpoint.
type Info struct {
	Address   string    `json:"address"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// WriteInfo publishes address for the current process at path.
func WriteInfo(path, address string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create daemon info directory: %w", err)
	}

	info := Info{
		Address:   address,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal daemon info: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write daemon info: %w", err)
	}

	return nil
}

// ReadInfo reads the daemon info file. A missing file is ErrNoDaemon.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDaemon
		}

		return nil, fmt.Errorf("failed to read daemon info: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse daemon info: %w", err)
	}

	return &info, nil
}

// RemoveInfo deletes the daemon info file if it still belongs to this
// process.
func RemoveInfo(path string) {
	info, err := ReadInfo(path)
	if err != nil || info.PID != os.Getpid() {
		return
	}

	_ = os.Remove(path)
}

// Discover returns the published daemon info when its process is alive.
// A file left behind by a dead process is removed.
func Discover(path string, isRunning func(pid int) bool) (*Info, error) {
	info, err := ReadInfo(path)
	if err != nil {
		return nil, err
	}

	if info.PID <= 0 || !isRunning(info.PID) {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: pid %d is gone", ErrNoDaemon, info.PID)
	}

	return info, nil
}
