package silencer

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/stalexteam/silencer/pkg/silencer/util"
)

// ControlConfig describes the optional hardware toggle attached over serial
type ControlConfig struct {
	SerialPort string
	BaudRate   int
	SwitchID   int
}

// Configured reports whether a serial port and baud rate are both set
func (c ControlConfig) Configured() bool {
	return c.SerialPort != "" && c.BaudRate > 0
}

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for silencer's configuration file
type CanonicalConfig struct {
	List      []string
	Whitelist bool
	Enabled   bool
	Autostart bool

	StatusPort int

	Control ControlConfig

	// guards everything populated from the vipers, reload writes while other goroutines read
	lock   sync.RWMutex
	policy PolicyConfig

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	internalConfig *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName     = "config"
	internalConfigName = "preferences"

	userConfigPath = "."

	configType = "yaml"

	configKey_List      = "list"
	configKey_Whitelist = "whitelist"
	configKey_Enabled   = "enabled"
	configKey_Autostart = "autostart"

	configKey_StatusPort = "status_port"

	configKey_ControlSerialPort = "control_serial_port"
	configKey_ControlSerialBaud = "control_serial_baud"
	configKey_ControlSwitch     = "control_switch"

	default_Enabled = true
)

// has to be defined as a non-constant because we're using path.Join
var internalConfigPath = path.Join(".", logDirectory)

// NewConfig creates a config instance for the silencer object and sets up viper instances for its config files
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		policy:             NewPolicyConfig(nil, false, default_Enabled),
	}

	// distinguish between the user-provided config (config.yaml) and the internal config (logs/preferences.yaml)
	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	userConfig.SetDefault(configKey_List, []string{})
	userConfig.SetDefault(configKey_Whitelist, false)
	userConfig.SetDefault(configKey_Enabled, default_Enabled)
	userConfig.SetDefault(configKey_Autostart, false)
	userConfig.SetDefault(configKey_StatusPort, 0)
	userConfig.SetDefault(configKey_ControlSerialPort, "")
	userConfig.SetDefault(configKey_ControlSerialBaud, 0)
	userConfig.SetDefault(configKey_ControlSwitch, 0)

	internalConfig := viper.New()
	internalConfig.SetConfigName(internalConfigName)
	internalConfig.SetConfigType(configType)
	internalConfig.AddConfigPath(internalConfigPath)

	cc.userConfig = userConfig
	cc.internalConfig = internalConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads silencer's config files from disk and tries to parse them
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", userConfigFilepath)

	if !util.FileExists(userConfigFilepath) {
		cc.logger.Warnw("Config file not found", "path", userConfigFilepath)
		cc.notifier.Notify("Can't find configuration!",
			fmt.Sprintf("%s must be in the same directory as silencer. Please re-launch", userConfigFilepath))
		return fmt.Errorf("config file doesn't exist: %s", userConfigFilepath)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check silencer's logs for more details.")
		}
		return fmt.Errorf("read user config: %w", err)
	}

	if err := cc.internalConfig.ReadInConfig(); err != nil {
		cc.logger.Debugw("Viper failed to read internal config", "error", err, "reminder", "this is fine")
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"list", cc.List,
		"whitelist", cc.Whitelist,
		"enabled", cc.Enabled,
		"autostart", cc.Autostart,
		"statusPort", cc.StatusPort,
		"control", cc.Control,
	)

	return nil
}

// Policy returns the policy currently in effect
func (cc *CanonicalConfig) Policy() PolicyConfig {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.policy
}

// ControlSettings returns the hardware toggle settings currently in effect
func (cc *CanonicalConfig) ControlSettings() ControlConfig {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.Control
}

// StatusServerPort returns the status server port, 0 when it's turned off
func (cc *CanonicalConfig) StatusServerPort() int {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.StatusPort
}

// ShouldAutostart reports whether enforcement begins right after startup
func (cc *CanonicalConfig) ShouldAutostart() bool {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.Autostart
}

// SetWhitelist switches the working mode and remembers the choice in the internal preferences file
func (cc *CanonicalConfig) SetWhitelist(whitelist bool) error {
	cc.lock.Lock()
	cc.Whitelist = whitelist
	cc.policy = NewPolicyConfig(cc.List, cc.Whitelist, cc.Enabled)
	cc.lock.Unlock()

	cc.logger.Infow("Working mode changed", "whitelist", whitelist)

	cc.internalConfig.Set(configKey_Whitelist, whitelist)

	if err := util.EnsureDirExists(internalConfigPath); err != nil {
		cc.logger.Warnw("Failed to ensure internal config directory exists", "error", err)
		return fmt.Errorf("ensure internal config dir: %w", err)
	}

	internalConfigFilepath := filepath.Join(internalConfigPath, internalConfigName+"."+configType)
	if err := cc.internalConfig.WriteConfigAs(internalConfigFilepath); err != nil {
		cc.logger.Warnw("Failed to save preferences", "path", internalConfigFilepath, "error", err)
		return fmt.Errorf("write internal config: %w", err)
	}

	cc.onConfigReloaded()

	return nil
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {

		// when we get a write event...
		if event.Op&fsnotify.Write == fsnotify.Write {

			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true

	cc.closeReloadChannels()
}

// closeReloadChannels closes all reload consumer channels to signal goroutines to exit
func (cc *CanonicalConfig) closeReloadChannels() {
	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
	cc.logger.Debug("Closed all config reload channels")
}

func (cc *CanonicalConfig) populateFromVipers() error {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	// entries saved by the app itself are merged into the user's list
	cc.List = mergeLists(
		cc.userConfig.GetStringSlice(configKey_List),
		cc.internalConfig.GetStringSlice(configKey_List),
	)

	// a mode picked from the tray outlives the config file value
	cc.Whitelist = cc.userConfig.GetBool(configKey_Whitelist)
	if cc.internalConfig.IsSet(configKey_Whitelist) {
		cc.Whitelist = cc.internalConfig.GetBool(configKey_Whitelist)
	}

	cc.Enabled = cc.userConfig.GetBool(configKey_Enabled)
	cc.Autostart = cc.userConfig.GetBool(configKey_Autostart)

	cc.StatusPort = cc.userConfig.GetInt(configKey_StatusPort)
	if cc.StatusPort < 0 || cc.StatusPort > 65535 {
		cc.logger.Warnw("Status port out of range, disabling status server", "port", cc.StatusPort)
		cc.StatusPort = 0
	}

	cc.Control.SerialPort = cc.userConfig.GetString(configKey_ControlSerialPort)
	cc.Control.BaudRate = cc.userConfig.GetInt(configKey_ControlSerialBaud)
	cc.Control.SwitchID = cc.userConfig.GetInt(configKey_ControlSwitch)

	cc.policy = NewPolicyConfig(cc.List, cc.Whitelist, cc.Enabled)

	cc.logger.Debugw("Populated config fields from vipers", "policy", cc.policy)

	return nil
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		// Safely send to channel, handling closed channels
		func() {
			defer func() {
				if r := recover(); r != nil {
					cc.logger.Debugw("Config reload channel closed, skipping notification", "recover", r)
				}
			}()
			select {
			case consumer <- true:
			default:
				// Channel is full, skip
			}
		}()
	}
}

// mergeLists keeps the user's entries in order and appends internal ones it doesn't have yet
func mergeLists(userList []string, internalList []string) []string {
	result := funk.FilterString(userList, func(s string) bool {
		return strings.TrimSpace(s) != ""
	})

	for _, entry := range internalList {
		if strings.TrimSpace(entry) != "" && !funk.ContainsString(result, entry) {
			result = append(result, entry)
		}
	}

	return funk.UniqString(result)
}
