//go:build !linux && !darwin && !windows

package machinekey

import (
	"fmt"
	"runtime"
)

func machineID() (string, error) {
	return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
}
