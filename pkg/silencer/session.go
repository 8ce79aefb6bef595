package silencer

import (
	"fmt"

	"go.uber.org/zap"
)

// Session represents a single per-process audio session on the default render endpoint
type Session interface {
	ProcessID() uint32

	GetMute() (bool, error)
	SetMute(v bool) error
}

// SessionInfo is one entry of a point-in-time session snapshot, meant for display
type SessionInfo struct {
	ProcessName string `json:"name"`
	PID         uint32 `json:"pid"`
	WindowTitle string `json:"title"`
	DisplayName string `json:"display_name"`
}

const (
	sessionCreationLogMessage = "Created audio session instance"

	// format this with the process id and the mute flag
	sessionStringFormat = "<session: pid %d, muted: %t>"

	// pid 0 belongs to the system sounds session, which is never governed
	systemSessionPID  = 0
	systemSessionName = "System"
)

type baseSession struct {
	logger *zap.SugaredLogger
	pid    uint32
}

func (s *baseSession) ProcessID() uint32 {
	return s.pid
}

func (s SessionInfo) String() string {
	return fmt.Sprintf("<%s (pid %d)>", s.DisplayName, s.PID)
}

// assignDisplayNames fills DisplayName for every entry. Names shared by several sessions get a
// " (n)" suffix, numbered from 1 in the order they appear; unique names are kept as they are.
func assignDisplayNames(sessions []SessionInfo) {
	totals := make(map[string]int, len(sessions))
	for _, s := range sessions {
		totals[s.ProcessName]++
	}

	seen := make(map[string]int, len(totals))
	for idx := range sessions {
		name := sessions[idx].ProcessName

		if totals[name] < 2 {
			sessions[idx].DisplayName = name
			continue
		}

		seen[name]++
		sessions[idx].DisplayName = fmt.Sprintf("%s (%d)", name, seen[name])
	}
}
