package silencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, finder SessionFinder, names map[uint32]string) *Engine {
	return newEngine(zaptest.NewLogger(t).Sugar(), finder, &fakeResolver{names: names}, true)
}

func TestEngineEnforceBlacklist(t *testing.T) {
	finder := newFakeSessionFinder(
		&fakeSession{pid: 100},
		&fakeSession{pid: 200},
		&fakeSession{pid: 300},
	)
	engine := newTestEngine(t, finder, map[uint32]string{100: "game.exe", 200: "game.exe", 300: "other.exe"})

	result, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)

	assert.Equal(t, passResult{Sessions: 3, Muted: 1}, result)
	assert.Equal(t, map[uint32]bool{100: false, 200: true, 300: false}, finder.muted())
}

func TestEngineSkipsSystemSession(t *testing.T) {
	system := &fakeSession{pid: systemSessionPID}
	finder := newFakeSessionFinder(system, &fakeSession{pid: 300})
	engine := newTestEngine(t, finder, map[uint32]string{300: "other.exe"})

	// whitelist with an empty list would mute everything that isn't focused
	result, err := engine.Enforce(NewPolicyConfig(nil, true, true), 100, true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sessions)
	assert.Equal(t, 0, system.setCalls)
	assert.False(t, system.muted)

	_, recorded := engine.store.get(systemSessionPID)
	assert.False(t, recorded)
}

func TestEngineRecordsOriginalOnce(t *testing.T) {
	finder := newFakeSessionFinder(&fakeSession{pid: 200, muted: true})
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe"})
	cfg := NewPolicyConfig([]string{"game.exe"}, false, true)

	_, err := engine.Enforce(cfg, 100, true)
	require.NoError(t, err)

	original, ok := engine.store.get(200)
	require.True(t, ok)
	assert.True(t, original)

	// someone else unmutes it, the next pass mutes it again without re-recording
	finder.setExternally(200, false)

	_, err = engine.Enforce(cfg, 100, true)
	require.NoError(t, err)

	original, ok = engine.store.get(200)
	require.True(t, ok)
	assert.True(t, original, "the recorded original survives until a restore")
	assert.Equal(t, 1, engine.RecordedSessions())
}

func TestEngineUnrecordedPassLeavesStoreAlone(t *testing.T) {
	finder := newFakeSessionFinder(&fakeSession{pid: 200, muted: true})
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe"})

	cfg := NewPolicyConfig([]string{"game.exe"}, false, true).WithEnabled(false)

	_, err := engine.Enforce(cfg, 100, false)
	require.NoError(t, err)

	assert.Equal(t, 0, engine.RecordedSessions())
	assert.Equal(t, map[uint32]bool{200: false}, finder.muted())
}

func TestEngineGetMuteFailureSkipsSession(t *testing.T) {
	broken := &fakeSession{pid: 200, getMuteErr: errFakeSessionAPI}
	finder := newFakeSessionFinder(broken, &fakeSession{pid: 300})
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe", 300: "game.exe"})

	result, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Muted)
	assert.Equal(t, 0, broken.setCalls, "a session whose original can't be recorded isn't touched")
	assert.True(t, finder.muted()[300])
}

func TestEngineSetMuteFailureContinues(t *testing.T) {
	finder := newFakeSessionFinder(
		&fakeSession{pid: 200, setMuteErr: errFakeSessionAPI},
		&fakeSession{pid: 300},
	)
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe", 300: "game.exe"})

	result, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)

	assert.Equal(t, passResult{Sessions: 2, Muted: 1, Failed: 1}, result)
	assert.True(t, finder.muted()[300])
}

func TestEngineEnumerationFailure(t *testing.T) {
	finder := newFakeSessionFinder()
	finder.enumErr = errNoSessionManager
	engine := newTestEngine(t, finder, nil)

	_, err := engine.Enforce(NewPolicyConfig(nil, false, true), 0, true)
	assert.ErrorIs(t, err, errNoSessionManager)

	_, err = engine.ListSessions()
	assert.ErrorIs(t, err, errNoSessionManager)
}

func TestEngineRestoreAllClearsState(t *testing.T) {
	finder := newFakeSessionFinder(
		&fakeSession{pid: 200, muted: true},
		&fakeSession{pid: 300},
		&fakeSession{pid: 400, muted: true},
	)
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe", 300: "game.exe", 400: "other.exe"})

	// 400 is never listed, but still gets recorded as it is touched
	_, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)
	require.Equal(t, 3, engine.RecordedSessions())

	require.NoError(t, engine.RestoreAll())

	assert.Equal(t, 0, engine.RecordedSessions())
	assert.Equal(t, map[uint32]bool{200: false, 300: false, 400: false}, finder.muted(),
		"restore leaves nothing muted, whatever the recorded original")
}

func TestEngineRestoreAllEmptyIsNoop(t *testing.T) {
	finder := newFakeSessionFinder(&fakeSession{pid: 200, muted: true})
	engine := newTestEngine(t, finder, nil)

	require.NoError(t, engine.RestoreAll())

	assert.Equal(t, 0, finder.totalSetCalls())
	assert.True(t, finder.muted()[200])
}

func TestEngineRestoreAllAttemptsEverySession(t *testing.T) {
	first := &fakeSession{pid: 200}
	second := &fakeSession{pid: 300}
	third := &fakeSession{pid: 400}
	finder := newFakeSessionFinder(first, second, third)
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe", 300: "game.exe", 400: "game.exe"})

	_, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)

	first.setMuteErr = errFakeSessionAPI
	second.setMuteErr = errFakeSessionAPI

	err = engine.RestoreAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, errFakeSessionAPI)
	assert.Contains(t, err.Error(), "pid 200", "the first failure is reported")

	assert.False(t, third.muted, "a failure doesn't stop the sweep")
	assert.Equal(t, 0, engine.RecordedSessions())
}

func TestEngineRestoreAllSkipsDeadSessions(t *testing.T) {
	finder := newFakeSessionFinder(&fakeSession{pid: 200})
	engine := newTestEngine(t, finder, map[uint32]string{200: "game.exe"})

	_, err := engine.Enforce(NewPolicyConfig([]string{"game.exe"}, false, true), 100, true)
	require.NoError(t, err)

	// the process exits before the restore
	finder.lock.Lock()
	finder.sessions = nil
	finder.lock.Unlock()

	assert.NoError(t, engine.RestoreAll())
	assert.Equal(t, 0, engine.RecordedSessions())
}

func TestEngineListSessions(t *testing.T) {
	finder := newFakeSessionFinder(
		&fakeSession{pid: systemSessionPID},
		&fakeSession{pid: 10},
		&fakeSession{pid: 20},
		&fakeSession{pid: 30},
	)
	engine := newEngine(zaptest.NewLogger(t).Sugar(), finder, &fakeResolver{
		names:  map[uint32]string{10: "chrome.exe", 20: "chrome.exe", 30: "game.exe"},
		titles: map[uint32]string{30: "Some Game"},
	}, false)

	sessions, err := engine.ListSessions()
	require.NoError(t, err)

	assert.Equal(t, []SessionInfo{
		{ProcessName: "chrome.exe", PID: 10, DisplayName: "chrome.exe (1)"},
		{ProcessName: "chrome.exe", PID: 20, DisplayName: "chrome.exe (2)"},
		{ProcessName: "game.exe", PID: 30, WindowTitle: "Some Game", DisplayName: "game.exe"},
	}, sessions)

	assert.Equal(t, 0, finder.totalSetCalls(), "listing never touches mute flags")
}

func TestEngineRelease(t *testing.T) {
	finder := newFakeSessionFinder()
	engine := newTestEngine(t, finder, nil)

	require.NoError(t, engine.Release())
	assert.True(t, finder.released)
}
