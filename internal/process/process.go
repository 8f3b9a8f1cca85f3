// Package process finds running inboxd processes.
package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/gops/goprocess"
)

// Process is a running Go program.
type Process struct {
	PID          int
	PPID         int
	Exec         string
	Path         string
	BuildVersion string
}

// Finder lists Go processes on the machine, excluding its own.
type Finder struct {
	findAll func() []goprocess.P
	self    int
}

func NewFinder() *Finder {
	return &Finder{
		findAll: goprocess.FindAll,
		self:    os.Getpid(),
	}
}

// List returns every Go process except the caller.
func (f *Finder) List() []Process {
	var procs []Process

	for _, p := range f.findAll() {
		if p.PID == f.self {
			continue
		}

		procs = append(procs, Process{
			PID:          p.PID,
			PPID:         p.PPID,
			Exec:         p.Exec,
			Path:         p.Path,
			BuildVersion: p.BuildVersion,
		})
	}

	return procs
}

// FindByName returns the processes whose executable is name, ignoring case
// and a .exe suffix.
func (f *Finder) FindByName(name string) []Process {
	name = strings.ToLower(name)

	var matches []Process

	for _, p := range f.List() {
		if executableName(p.Exec) == name || executableName(p.Path) == name {
			matches = append(matches, p)
		}
	}

	return matches
}

// IsRunning reports whether pid is among the listed processes.
func (f *Finder) IsRunning(pid int) bool {
	for _, p := range f.List() {
		if p.PID == pid {
			return true
		}
	}

	return false
}

func executableName(path string) string {
	if path == "" {
		return ""
	}

	base := strings.ToLower(filepath.Base(path))

	return strings.TrimSuffix(base, ".exe")
}
