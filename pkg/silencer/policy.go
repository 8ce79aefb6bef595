package silencer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thoas/go-funk"
)

// PolicyConfig is the input of a single enforcement decision: the managed
// list, the working mode and the global kill switch.
//
// List entries are either a bare process name, matched case-insensitively,
// or an instance entry "<name> [<pid>]", matched exactly.
type PolicyConfig struct {
	Whitelist bool
	Enabled   bool

	entries map[string]struct{}
	lowered map[string]struct{}
}

// NewPolicyConfig builds a PolicyConfig from raw list entries. Empty entries are dropped
func NewPolicyConfig(list []string, whitelist bool, enabled bool) PolicyConfig {
	cfg := PolicyConfig{
		Whitelist: whitelist,
		Enabled:   enabled,
		entries:   make(map[string]struct{}, len(list)),
		lowered:   make(map[string]struct{}, len(list)),
	}

	for _, entry := range funk.FilterString(list, func(s string) bool { return strings.TrimSpace(s) != "" }) {
		entry = strings.TrimSpace(entry)
		cfg.entries[entry] = struct{}{}
		cfg.lowered[strings.ToLower(entry)] = struct{}{}
	}

	return cfg
}

// InstanceEntry formats the list entry that targets exactly one running instance of a process
func InstanceEntry(processName string, pid uint32) string {
	return fmt.Sprintf("%s [%d]", processName, pid)
}

// WithEnabled returns a copy of the config with the kill switch set to enabled
func (c PolicyConfig) WithEnabled(enabled bool) PolicyConfig {
	c.Enabled = enabled
	return c
}

// List returns the configured entries in a stable order
func (c PolicyConfig) List() []string {
	list := make([]string, 0, len(c.entries))
	for entry := range c.entries {
		list = append(list, entry)
	}
	sort.Strings(list)

	return list
}

// Contains reports whether a session owned by processName/pid is covered by the list
func (c PolicyConfig) Contains(processName string, pid uint32) bool {
	if _, ok := c.lowered[strings.ToLower(processName)]; ok {
		return true
	}

	_, ok := c.entries[InstanceEntry(processName, pid)]
	return ok
}

func (c PolicyConfig) String() string {
	mode := "blacklist"
	if c.Whitelist {
		mode = "whitelist"
	}

	return fmt.Sprintf("<policy: %s, enabled: %t, %d entries>", mode, c.Enabled, len(c.entries))
}

// Decide reports whether the session owned by processName/pid should be muted right now.
// It is pure: the mute store is neither read nor written.
func Decide(processName string, pid uint32, cfg PolicyConfig, foregroundPid uint32) bool {
	if !cfg.Enabled {
		return false
	}

	// the focused process is never muted, whatever the list says
	if pid == foregroundPid {
		return false
	}

	inList := cfg.Contains(processName, pid)

	if cfg.Whitelist {
		return !inList
	}

	return inList
}
