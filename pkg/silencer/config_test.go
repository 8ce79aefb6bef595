package silencer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestConfig(t *testing.T) (*CanonicalConfig, *fakeNotifier) {
	notifier := &fakeNotifier{}

	cc, err := NewConfig(zaptest.NewLogger(t).Sugar(), notifier)
	require.NoError(t, err)

	return cc, notifier
}

// inTempDir runs the test from an empty directory, config paths are relative to it
func inTempDir(t *testing.T) string {
	dir := t.TempDir()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))

	t.Cleanup(func() {
		require.NoError(t, os.Chdir(wd))
	})

	return dir
}

func TestConfigDefaults(t *testing.T) {
	cc, _ := newTestConfig(t)

	require.NoError(t, cc.populateFromVipers())

	policy := cc.Policy()
	assert.True(t, policy.Enabled)
	assert.False(t, policy.Whitelist)
	assert.Empty(t, policy.List())

	assert.False(t, cc.ShouldAutostart())
	assert.Equal(t, 0, cc.StatusServerPort())
	assert.False(t, cc.ControlSettings().Configured())
}

func TestConfigPopulatesPolicy(t *testing.T) {
	cc, _ := newTestConfig(t)

	cc.userConfig.Set(configKey_List, []string{"game.exe", "", "chat.exe [42]"})
	cc.userConfig.Set(configKey_Whitelist, true)
	cc.userConfig.Set(configKey_Enabled, false)
	cc.userConfig.Set(configKey_Autostart, true)
	cc.userConfig.Set(configKey_StatusPort, 8090)
	cc.userConfig.Set(configKey_ControlSerialPort, "COM4")
	cc.userConfig.Set(configKey_ControlSerialBaud, 115200)
	cc.userConfig.Set(configKey_ControlSwitch, 3)

	require.NoError(t, cc.populateFromVipers())

	policy := cc.Policy()
	assert.True(t, policy.Whitelist)
	assert.False(t, policy.Enabled)
	assert.Equal(t, []string{"chat.exe [42]", "game.exe"}, policy.List())

	assert.True(t, cc.ShouldAutostart())
	assert.Equal(t, 8090, cc.StatusServerPort())
	assert.Equal(t, ControlConfig{SerialPort: "COM4", BaudRate: 115200, SwitchID: 3}, cc.ControlSettings())
	assert.True(t, cc.ControlSettings().Configured())
}

func TestConfigInternalPreferencesWin(t *testing.T) {
	cc, _ := newTestConfig(t)

	cc.userConfig.Set(configKey_List, []string{"game.exe"})
	cc.userConfig.Set(configKey_Whitelist, false)
	cc.internalConfig.Set(configKey_List, []string{"game.exe", "music.exe"})
	cc.internalConfig.Set(configKey_Whitelist, true)

	require.NoError(t, cc.populateFromVipers())

	assert.Equal(t, []string{"game.exe", "music.exe"}, cc.List)
	assert.True(t, cc.Policy().Whitelist)
}

func TestConfigRejectsBadStatusPort(t *testing.T) {
	cc, _ := newTestConfig(t)

	cc.userConfig.Set(configKey_StatusPort, 70000)
	require.NoError(t, cc.populateFromVipers())

	assert.Equal(t, 0, cc.StatusServerPort())
}

func TestConfigLoadMissingFile(t *testing.T) {
	inTempDir(t)
	cc, notifier := newTestConfig(t)

	assert.Error(t, cc.Load())
	assert.Equal(t, []string{"Can't find configuration!"}, notifier.titles)
}

func TestConfigLoadInvalidYAML(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilepath), []byte("list: [game.exe\n  whitelist: -"), 0o644))

	cc, notifier := newTestConfig(t)

	assert.Error(t, cc.Load())
	assert.Len(t, notifier.titles, 1)
}

func TestConfigSetWhitelistPersists(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilepath),
		[]byte("list:\n  - game.exe\nwhitelist: false\n"), 0o644))

	cc, _ := newTestConfig(t)
	require.NoError(t, cc.Load())
	require.False(t, cc.Policy().Whitelist)

	changes := cc.SubscribeToChanges()

	require.NoError(t, cc.SetWhitelist(true))
	assert.True(t, cc.Policy().Whitelist)
	assert.Equal(t, []string{"game.exe"}, cc.Policy().List())

	select {
	case <-changes:
	default:
		t.Fatal("subscribers hear about the mode change")
	}

	assert.FileExists(t, filepath.Join(dir, logDirectory, internalConfigName+"."+configType))

	// a fresh start picks the saved mode over the config file
	reloaded, _ := newTestConfig(t)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.Policy().Whitelist)
}

func TestMergeLists(t *testing.T) {
	assert.Equal(t,
		[]string{"game.exe", "chat.exe", "music.exe"},
		mergeLists([]string{"game.exe", "", "chat.exe", "game.exe"}, []string{"chat.exe", " ", "music.exe"}))

	assert.Empty(t, mergeLists(nil, nil))
}
