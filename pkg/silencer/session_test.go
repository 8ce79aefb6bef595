package silencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func displayNames(sessions []SessionInfo) []string {
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.DisplayName)
	}

	return names
}

func TestAssignDisplayNamesDuplicates(t *testing.T) {
	sessions := []SessionInfo{
		{ProcessName: "A", PID: 1},
		{ProcessName: "A", PID: 2},
		{ProcessName: "B", PID: 3},
	}

	assignDisplayNames(sessions)

	assert.Equal(t, []string{"A (1)", "A (2)", "B"}, displayNames(sessions))
}

func TestAssignDisplayNamesUnique(t *testing.T) {
	sessions := []SessionInfo{
		{ProcessName: "A", PID: 1},
		{ProcessName: "B", PID: 2},
		{ProcessName: "C", PID: 3},
	}

	assignDisplayNames(sessions)

	assert.Equal(t, []string{"A", "B", "C"}, displayNames(sessions))
}

func TestAssignDisplayNamesInterleaved(t *testing.T) {
	sessions := []SessionInfo{
		{ProcessName: "B", PID: 1},
		{ProcessName: "A", PID: 2},
		{ProcessName: "B", PID: 3},
		{ProcessName: "A", PID: 4},
		{ProcessName: "B", PID: 5},
	}

	assignDisplayNames(sessions)

	assert.Equal(t, []string{"B (1)", "A (1)", "B (2)", "A (2)", "B (3)"}, displayNames(sessions))
}

func TestExecutableBaseName(t *testing.T) {
	assert.Equal(t, "game.exe", executableBaseName(`C:\Games\Some Game\game.exe`))
	assert.Equal(t, "firefox", executableBaseName("/usr/lib/firefox/firefox"))
	assert.Equal(t, "plain.exe", executableBaseName("plain.exe"))
	assert.Equal(t, "mixed.exe", executableBaseName(`C:/tools\bin/mixed.exe`))
}

func TestPlaceholderProcessName(t *testing.T) {
	assert.Equal(t, "Process (4242)", placeholderProcessName(4242))
}
