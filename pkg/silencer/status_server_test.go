package silencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStatusSource struct {
	state    StatusState
	sessions []SessionInfo
}

func (f *fakeStatusSource) currentState() StatusState {
	return f.state
}

func (f *fakeStatusSource) currentSessions() []SessionInfo {
	return f.sessions
}

func TestStatusServerEvents(t *testing.T) {
	srv := NewStatusServer(&fakeStatusSource{}, zaptest.NewLogger(t).Sugar())

	state, err := srv.newEvent(statusEventState, StatusState{Active: true, Enabled: true, ForegroundPID: 4242})
	require.NoError(t, err)
	assert.Equal(t, "1", state.ID)
	assert.Equal(t, "state", state.Type)
	assert.JSONEq(t, `{"active":true,"enabled":true,"whitelist":false,"foreground_pid":4242}`, string(state.Data))

	sessions, err := srv.newEvent(statusEventSessions, []SessionInfo{
		{ProcessName: "game.exe", PID: 100, WindowTitle: "Some Game", DisplayName: "game.exe"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2", sessions.ID, "event ids keep counting up")
	assert.JSONEq(t, `[{"name":"game.exe","pid":100,"title":"Some Game","display_name":"game.exe"}]`, string(sessions.Data))

	_, err = srv.newEvent(statusEventPing, make(chan int))
	assert.Error(t, err)
}

func TestStatusServerDisabled(t *testing.T) {
	srv := NewStatusServer(&fakeStatusSource{}, zaptest.NewLogger(t).Sugar())

	require.NoError(t, srv.Start(0))
	assert.False(t, srv.IsRunning())
	assert.Equal(t, 0, srv.GetCurrentPort())

	// broadcasting without a server is a no-op
	srv.BroadcastState(StatusState{Active: true})
	srv.BroadcastSessions(nil)

	srv.Stop()
}
