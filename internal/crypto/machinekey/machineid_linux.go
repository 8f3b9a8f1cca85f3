//go:build linux

package machinekey

import (
	"errors"
	"fmt"
	"os"
)

var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

func machineID() (string, error) {
	var errs []error

	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		return string(data), nil
	}

	return "", fmt.Errorf("read machine-id: %w", errors.Join(errs...))
}
