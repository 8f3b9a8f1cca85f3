//go:build darwin

package machinekey

import (
	"fmt"
	"os/exec"
	"strings"
)

func machineID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", fmt.Errorf("ioreg: %w", err)
	}

	return parseIOPlatformUUID(string(out))
}

// parseIOPlatformUUID extracts the value of `"IOPlatformUUID" = "..."`.
func parseIOPlatformUUID(out string) (string, error) {
	for line := range strings.SplitSeq(out, "\n") {
		if !strings.Contains(line, `"IOPlatformUUID"`) {
			continue
		}

		_, value, ok := strings.Cut(line, "=")
		if !ok {
			break
		}

		return strings.Trim(strings.TrimSpace(value), `"`), nil
	}

	return "", fmt.Errorf("IOPlatformUUID not found in ioreg output")
}
