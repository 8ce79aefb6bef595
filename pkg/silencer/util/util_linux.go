package util

import (
	"fmt"
	"os"
)

// GetProcessPath returns the full path to the executable for the given process ID.
// /proc/<pid>/exe is only readable for processes of the current user.
func GetProcessPath(pid int) (string, error) {
	exePath := fmt.Sprintf("/proc/%d/exe", pid)

	path, err := os.Readlink(exePath)
	if err != nil {
		return "", fmt.Errorf("read symlink %s: %w", exePath, err)
	}

	return path, nil
}
