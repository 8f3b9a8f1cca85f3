package application

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// AppName is the application name used for directories and identification
	AppName = "inboxd"

	// AppExeName is the executable name (without extension)
	AppExeName = "inboxd"

	// AppExeNameWindows is the executable name on Windows
	AppExeNameWindows = "inboxd.exe"

	// Version is reported in the User-Agent header and by --version.
	Version = "0.3.0"

	accountsFileName = "accounts.toml"
	configFileName   = "config.ini"
	statusDBFileName = "status.db"
	daemonFileName   = "daemon.json"
)

var (
	once   sync.Once
	appDir string
	errDir error
)

// GetApplicationDirectory returns the inboxd data directory path.
// Linux: ~/.config/inboxd (via os.UserConfigDir)
// Windows: C:\Users\{username}\AppData\Local\inboxd (via os.UserCacheDir)
//
// The directory is created on first use. INBOXD_HOME overrides the location.
func GetApplicationDirectory() (string, error) {
	once.Do(lazyLoad)

	if errDir != nil {
		return "", errDir
	}

	return appDir, nil
}

// AccountsFile returns the path of the encrypted accounts file.
func AccountsFile() (string, error) {
	return inAppDir(accountsFileName)
}

// ConfigFile returns the path of the ini configuration file.
func ConfigFile() (string, error) {
	return inAppDir(configFileName)
}

// StatusDBFile returns the path of the sync status database.
func StatusDBFile() (string, error) {
	return inAppDir(statusDBFileName)
}

// DaemonInfoFile returns the path where a running daemon publishes its
// control address.
func DaemonInfoFile() (string, error) {
	return inAppDir(daemonFileName)
}

func inAppDir(name string) (string, error) {
	dir, err := GetApplicationDirectory()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, name), nil
}

func lazyLoad() {
	if home := os.Getenv("INBOXD_HOME"); home != "" {
		appDir = home
		errDir = ensureDir(appDir)

		return
	}

	var (
		baseDir string
		err     error
	)

	switch runtime.GOOS {
	case "windows":
		baseDir, err = os.UserCacheDir()
	default:
		baseDir, err = os.UserConfigDir()
	}

	if err != nil {
		errDir = fmt.Errorf("failed to get config directory: %w", err)
		return
	}

	appDir = filepath.Join(baseDir, AppName)
	errDir = ensureDir(appDir)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create application directory: %w", err)
	}

	return nil
}
