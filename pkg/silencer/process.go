package silencer

import (
	"fmt"
	"strings"
)

// ProcessResolver maps process ids to something a human can recognize
type ProcessResolver interface {

	// ResolveName never fails: pid 0 is "System" and unresolvable processes get a placeholder
	ResolveName(pid uint32) string

	// WindowTitle returns the first non-empty title among the process' visible top-level
	// windows, or an empty string
	WindowTitle(pid uint32) string
}

func placeholderProcessName(pid uint32) string {
	return fmt.Sprintf("Process (%d)", pid)
}

// executableBaseName returns what follows the last path separator of an image path
func executableBaseName(imagePath string) string {
	return imagePath[strings.LastIndexAny(imagePath, `\/`)+1:]
}
