package silencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testSession struct {
	name string
	pid  uint32
}

func decideAll(sessions []testSession, cfg PolicyConfig, foregroundPid uint32) map[uint32]bool {
	result := make(map[uint32]bool, len(sessions))
	for _, s := range sessions {
		result[s.pid] = Decide(s.name, s.pid, cfg, foregroundPid)
	}

	return result
}

func TestDecideKillSwitch(t *testing.T) {
	lists := [][]string{nil, {"game.exe"}, {"game.exe [200]", "other.exe"}}

	for _, list := range lists {
		for _, whitelist := range []bool{false, true} {
			cfg := NewPolicyConfig(list, whitelist, false)

			for _, pid := range []uint32{1, 100, 200, 300} {
				assert.False(t, Decide("game.exe", pid, cfg, 100), "list %v, whitelist %t, pid %d", list, whitelist, pid)
				assert.False(t, Decide("other.exe", pid, cfg, 0), "list %v, whitelist %t, pid %d", list, whitelist, pid)
			}
		}
	}
}

func TestDecideForegroundExemption(t *testing.T) {
	lists := [][]string{nil, {"game.exe"}, {"GAME.EXE"}, {"game.exe [100]"}, {"other.exe"}}

	for _, list := range lists {
		for _, whitelist := range []bool{false, true} {
			cfg := NewPolicyConfig(list, whitelist, true)
			assert.False(t, Decide("game.exe", 100, cfg, 100), "list %v, whitelist %t", list, whitelist)
		}
	}
}

func TestDecideBlacklist(t *testing.T) {
	sessions := []testSession{{"game.exe", 100}, {"game.exe", 200}, {"other.exe", 300}}
	cfg := NewPolicyConfig([]string{"game.exe"}, false, true)

	assert.Equal(t, map[uint32]bool{100: false, 200: true, 300: false}, decideAll(sessions, cfg, 100))
}

func TestDecideWhitelist(t *testing.T) {
	sessions := []testSession{{"game.exe", 100}, {"game.exe", 200}, {"other.exe", 300}}
	cfg := NewPolicyConfig([]string{"game.exe"}, true, true)

	assert.Equal(t, map[uint32]bool{100: false, 200: false, 300: true}, decideAll(sessions, cfg, 100))
}

func TestDecideInstanceEntry(t *testing.T) {
	sessions := []testSession{{"game.exe", 100}, {"game.exe", 200}, {"game.exe", 250}}
	cfg := NewPolicyConfig([]string{"game.exe [200]"}, false, true)

	assert.Equal(t, map[uint32]bool{100: false, 200: true, 250: false}, decideAll(sessions, cfg, 100))
}

func TestPolicyContains(t *testing.T) {
	cfg := NewPolicyConfig([]string{"Game.exe", "  spaced.exe  ", "", "   ", "chat.exe [42]"}, false, true)

	// bare names ignore case
	assert.True(t, cfg.Contains("game.exe", 1))
	assert.True(t, cfg.Contains("GAME.EXE", 1))
	assert.True(t, cfg.Contains("spaced.exe", 7))

	// instance entries are exact
	assert.True(t, cfg.Contains("chat.exe", 42))
	assert.False(t, cfg.Contains("chat.exe", 43))
	assert.False(t, cfg.Contains("Chat.exe", 43))

	assert.False(t, cfg.Contains("", 0))

	assert.Equal(t, []string{"Game.exe", "chat.exe [42]", "spaced.exe"}, cfg.List())
}

func TestPolicyWithEnabled(t *testing.T) {
	cfg := NewPolicyConfig([]string{"game.exe"}, false, true)
	disabled := cfg.WithEnabled(false)

	assert.True(t, cfg.Enabled, "original is left alone")
	assert.False(t, disabled.Enabled)
	assert.Equal(t, cfg.List(), disabled.List())
	assert.False(t, Decide("game.exe", 200, disabled, 100))
}

func TestInstanceEntry(t *testing.T) {
	assert.Equal(t, "game.exe [200]", InstanceEntry("game.exe", 200))
}
