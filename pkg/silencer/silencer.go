// Package silencer mutes the audio sessions of applications that aren't in the foreground,
// guided by a user-maintained list and a blacklist/whitelist mode.
package silencer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/silencer/pkg/silencer/util"
)

const (

	// when this is set to anything, silencer won't use a tray icon
	envNoTray = "SILENCER_NO_TRAY_ICON"

	// how often the session snapshot shown to status clients is rebuilt
	sessionRefreshInterval = 2 * time.Second
)

// Silencer is the main entity managing access to all sub-components
type Silencer struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig

	engine     *Engine
	foreground ForegroundTracker
	scheduler  *Scheduler
	status     *StatusServer
	control    *SerialControl

	stopChannel chan bool
	version     string
	verbose     bool
	noTray      bool
	stopping    sync.Once

	refreshChannel chan struct{}
	refreshStop    chan struct{}

	snapshotLock sync.RWMutex
	sessions     []SessionInfo
}

// NewSilencer creates a Silencer instance
func NewSilencer(logger *zap.SugaredLogger, verbose bool) (*Silencer, error) {
	logger = logger.Named("silencer")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	s := &Silencer{
		logger:         logger,
		notifier:       notifier,
		config:         config,
		stopChannel:    make(chan bool, 1),
		verbose:        verbose,
		refreshChannel: make(chan struct{}, 1),
		refreshStop:    make(chan struct{}),
	}

	s.status = NewStatusServer(s, logger)
	s.control = NewSerialControl(config, notifier, s.setActive, logger, verbose)

	logger.Debug("Created silencer instance")

	return s, nil
}

// Initialize sets up components and starts to run in the background
func (s *Silencer) Initialize() error {
	s.logger.Debug("Initializing")

	// load the config for the first time
	if err := s.config.Load(); err != nil {
		s.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	engine, err := NewEngine(s.logger, s.verbose)
	if err != nil {
		s.logger.Errorw("Failed to create engine", "error", err)
		s.notifier.Notify("Can't reach your audio device!", "Make sure a default playback device is available, then re-launch.")
		return fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine

	foreground, err := newForegroundTracker(s.logger)
	if err != nil {
		s.logger.Errorw("Failed to create foreground tracker", "error", err)
		s.engine.Release()
		return fmt.Errorf("create foreground tracker: %w", err)
	}
	s.foreground = foreground

	s.scheduler = NewScheduler(s.logger, s.engine, s.foreground, s.config, s.verbose)

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet || s.noTray {

		s.logger.Debugw("Running without tray icon", "reason", "disabled by flag or envvar")

		// run in main thread while waiting on ctrl+C
		s.setupInterruptHandler()
		s.run()

	} else {
		s.setupInterruptHandler()
		s.initializeTray(s.run)
	}

	return nil
}

// SetVersion causes silencer to add a version string to its tray menu if called before Initialize
func (s *Silencer) SetVersion(version string) {
	s.version = version
}

// DisableTray makes Initialize block on the interrupt handler instead of running a tray icon
func (s *Silencer) DisableTray() {
	s.noTray = true
}

// Verbose returns a boolean indicating whether silencer is running in verbose mode
func (s *Silencer) Verbose() bool {
	return s.verbose
}

func (s *Silencer) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		s.logger.Debugw("Interrupted", "signal", signal)
		s.signalStop()
	}()
}

func (s *Silencer) run() {
	s.logger.Info("Run loop starting")

	go s.scheduler.Run()

	// the watchdog keeps enforcing without foreground events
	if err := s.foreground.Start(); err != nil {
		s.logger.Warnw("Failed to start foreground tracker, relying on the watchdog", "error", err)
	}

	// watch the config file for changes
	go s.config.WatchConfigFileChanges()
	s.setupOnConfigReload()

	go s.refreshLoop()

	if err := s.status.Start(s.config.StatusServerPort()); err != nil {
		s.logger.Warnw("Failed to start status server", "error", err)
	}

	s.control.Start()

	if s.config.ShouldAutostart() {
		s.logger.Info("Autostart enabled, starting enforcement")
		s.setActive(true)
	}

	// wait until stopped (gracefully)
	<-s.stopChannel
	s.logger.Debug("Stop channel signaled, terminating")

	if err := s.stop(); err != nil {
		s.logger.Warnw("Failed to stop silencer", "error", err)
		os.Exit(1)
	} else {
		// exit with 0
		os.Exit(0)
	}
}

func (s *Silencer) signalStop() {
	s.stopping.Do(func() {
		s.logger.Debug("Signalling stop channel")
		s.stopChannel <- true
	})
}

func (s *Silencer) stop() error {
	s.logger.Info("Stopping")

	s.config.StopWatchingConfigFile()

	s.control.Stop()

	// put every touched session back before anything else lets go of the audio subsystem
	restoreErr := s.scheduler.Shutdown()
	if restoreErr != nil {
		s.logger.Errorw("Failed to restore audio sessions", "error", restoreErr)
	}

	if err := s.foreground.Stop(); err != nil {
		s.logger.Warnw("Failed to stop foreground tracker", "error", err)
	}

	close(s.refreshStop)

	s.status.Stop()

	if err := s.engine.Release(); err != nil {
		s.logger.Errorw("Failed to release engine", "error", err)
		return fmt.Errorf("release engine: %w", err)
	}

	if !s.noTray {
		s.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	s.logger.Sync()

	if restoreErr != nil {
		return fmt.Errorf("restore audio sessions: %w", restoreErr)
	}

	return nil
}

// setActive starts or stops enforcement, used by the tray and the hardware switch
func (s *Silencer) setActive(active bool) {
	var err error
	if active {
		err = s.scheduler.Start()
	} else {
		err = s.scheduler.Stop()
	}

	if err != nil {
		s.logger.Warnw("Failed to change enforcement state", "active", active, "error", err)
	}
}

// requestRefresh asks the refresh loop to rebuild the session snapshot now
func (s *Silencer) requestRefresh() {
	select {
	case s.refreshChannel <- struct{}{}:
	default:
	}
}

func (s *Silencer) refreshLoop() {
	ticker := time.NewTicker(sessionRefreshInterval)
	defer ticker.Stop()

	stateChanges := s.scheduler.SubscribeToStateChanges()

	lastState := s.currentState()

	// first snapshot right away, the ticker only fires after an interval
	s.refreshSessions()

	for {
		select {
		case <-s.refreshStop:
			return

		case <-stateChanges:
			lastState = s.currentState()
			s.status.BroadcastState(lastState)

		case <-s.refreshChannel:
			s.refreshSessions()

		case <-ticker.C:
			s.refreshSessions()

			// the foreground pid moves between transitions too
			if state := s.currentState(); state != lastState {
				lastState = state
				s.status.BroadcastState(state)
			}
		}
	}
}

func (s *Silencer) refreshSessions() {
	sessions, err := s.engine.ListSessions()
	if err != nil {
		s.logger.Warnw("Failed to refresh session snapshot", "error", err)
		return
	}

	s.snapshotLock.Lock()
	s.sessions = sessions
	s.snapshotLock.Unlock()

	if s.verbose {
		s.logger.Debugw("Refreshed session snapshot", "sessions", sessions)
	}

	s.status.BroadcastSessions(sessions)
}

func (s *Silencer) currentState() StatusState {
	policy := s.config.Policy()

	return StatusState{
		Active:        s.scheduler.Active(),
		Enabled:       policy.Enabled,
		Whitelist:     policy.Whitelist,
		ForegroundPID: s.scheduler.LastForeground(),
	}
}

func (s *Silencer) currentSessions() []SessionInfo {
	s.snapshotLock.RLock()
	defer s.snapshotLock.RUnlock()

	sessions := make([]SessionInfo, len(s.sessions))
	copy(sessions, s.sessions)

	return sessions
}

// setupOnConfigReload applies a reloaded config to everything that depends on it
func (s *Silencer) setupOnConfigReload() {
	configReloadedChannel := s.config.SubscribeToChanges()

	go func() {
		for {
			if _, ok := <-configReloadedChannel; !ok {
				s.logger.Debug("Config reload channel closed, exiting handler")
				return
			}

			s.logger.Debugw("Applying reloaded config", "policy", s.config.Policy())

			// the scheduler reads the policy on every pass, a kick makes the change immediate
			s.scheduler.Kick()

			if err := s.status.Start(s.config.StatusServerPort()); err != nil {
				s.logger.Warnw("Failed to apply status server port", "error", err)
			}

			s.control.Reconfigure()

			s.status.BroadcastState(s.currentState())
		}
	}()
}
