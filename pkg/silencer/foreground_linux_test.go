package silencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActiveWindow(t *testing.T) {
	id, err := parseActiveWindow("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007\n")
	require.NoError(t, err)
	assert.Equal(t, "0x3a00007", id)

	id, err = parseActiveWindow("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007, 0x0\n")
	require.NoError(t, err)
	assert.Equal(t, "0x3a00007", id)

	_, err = parseActiveWindow("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x0\n")
	assert.ErrorIs(t, err, errForegroundUnavailable)

	_, err = parseActiveWindow("_NET_ACTIVE_WINDOW:  not found.\n")
	assert.Error(t, err)
}

func TestParseWindowPID(t *testing.T) {
	pid, err := parseWindowPID("_NET_WM_PID(CARDINAL) = 4242\n")
	require.NoError(t, err)
	assert.Equal(t, uint32(4242), pid)

	_, err = parseWindowPID("_NET_WM_PID:  not found.\n")
	assert.ErrorIs(t, err, errForegroundUnavailable)

	_, err = parseWindowPID("_NET_WM_PID(CARDINAL) = nope\n")
	assert.Error(t, err)
}
