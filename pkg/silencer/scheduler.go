package silencer

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (

	// minimum spacing between two signal-triggered passes
	enforcementDebounce = 50 * time.Millisecond

	// a pass runs at least this often while active, signals or not
	enforcementWatchdog = 200 * time.Millisecond
)

var errEngineShutdown = errors.New("engine shut down")

// PolicySource supplies the policy to enforce, read fresh on every pass
type PolicySource interface {
	Policy() PolicyConfig
}

type schedulerState int

const (
	stateIdle schedulerState = iota
	stateActive
	stateTerminated
)

func (s schedulerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	default:
		return "terminated"
	}
}

type schedulerCommandKind int

const (
	commandStart schedulerCommandKind = iota
	commandStop
	commandShutdown
)

type schedulerCommand struct {
	kind  schedulerCommandKind
	reply chan error
}

// Scheduler drives the engine: passes are triggered by foreground changes (debounced) and by a
// watchdog tick, and only while active. All passes run on the Run goroutine.
type Scheduler struct {
	logger  *zap.SugaredLogger
	verbose bool

	engine     *Engine
	foreground ForegroundTracker
	policy     PolicySource

	// evaluated on every loop iteration, so a signal registered after Run started is still seen
	wake func() <-chan struct{}

	kick     chan struct{}
	commands chan schedulerCommand
	done     chan struct{}

	debounce time.Duration
	watchdog time.Duration

	stateLock      sync.RWMutex
	state          schedulerState
	lastForeground uint32

	consumersLock  sync.Mutex
	stateConsumers []chan bool
}

// NewScheduler creates an idle scheduler fed by the process-wide foreground signal
func NewScheduler(logger *zap.SugaredLogger, engine *Engine, foreground ForegroundTracker, policy PolicySource, verbose bool) *Scheduler {
	return newScheduler(logger, engine, foreground, policy, foregroundChanged.channel,
		enforcementDebounce, enforcementWatchdog, verbose)
}

func newScheduler(
	logger *zap.SugaredLogger,
	engine *Engine,
	foreground ForegroundTracker,
	policy PolicySource,
	wake func() <-chan struct{},
	debounce time.Duration,
	watchdog time.Duration,
	verbose bool,
) *Scheduler {

	s := &Scheduler{
		logger:     logger.Named("scheduler"),
		verbose:    verbose,
		engine:     engine,
		foreground: foreground,
		policy:     policy,
		wake:       wake,
		kick:       make(chan struct{}, 1),
		commands:   make(chan schedulerCommand),
		done:       make(chan struct{}),
		debounce:   debounce,
		watchdog:   watchdog,
		state:      stateIdle,
	}

	s.logger.Debug("Created scheduler instance")

	return s
}

// Run is the enforcement loop. It returns after Shutdown.
func (s *Scheduler) Run() {
	defer close(s.done)

	s.logger.Debug("Enforcement loop starting")

	watchdog := time.NewTicker(s.watchdog)
	defer watchdog.Stop()

	var (
		lastPass time.Time
		deferred <-chan time.Time
	)

	// a signal inside the debounce window is deferred, not dropped
	signal := func() {
		if !s.Active() {
			return
		}

		since := time.Since(lastPass)
		if since >= s.debounce {
			deferred = nil
			s.enforce(&lastPass)
			return
		}

		if deferred == nil {
			deferred = time.After(s.debounce - since)
		}
	}

	for {
		select {
		case cmd := <-s.commands:
			if s.handleCommand(cmd, &lastPass) {
				s.logger.Debug("Enforcement loop exiting")
				return
			}

		case <-s.wake():
			signal()

		case <-s.kick:
			signal()

		case <-deferred:
			deferred = nil
			if s.Active() {
				s.enforce(&lastPass)
			}

		case <-watchdog.C:
			if s.Active() {
				s.enforce(&lastPass)
			}
		}
	}
}

// Start moves an idle scheduler to active and runs a pass right away
func (s *Scheduler) Start() error {
	return s.send(commandStart)
}

// Stop moves an active scheduler to idle, after one pass with the kill switch off
func (s *Scheduler) Stop() error {
	return s.send(commandStop)
}

// Shutdown restores every session the engine touched and ends the loop. The restore error,
// if any, is returned; the loop ends regardless.
func (s *Scheduler) Shutdown() error {
	return s.send(commandShutdown)
}

// Kick asks for a pass as if the foreground had changed, e.g. after the policy changed
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Active reports whether passes are currently being run
func (s *Scheduler) Active() bool {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	return s.state == stateActive
}

// LastForeground returns the foreground pid seen by the most recent pass
func (s *Scheduler) LastForeground() uint32 {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	return s.lastForeground
}

// SubscribeToStateChanges returns a channel that receives the new Active() value on every transition
func (s *Scheduler) SubscribeToStateChanges() chan bool {
	ch := make(chan bool, 1)

	s.consumersLock.Lock()
	s.stateConsumers = append(s.stateConsumers, ch)
	s.consumersLock.Unlock()

	return ch
}

func (s *Scheduler) send(kind schedulerCommandKind) error {
	cmd := schedulerCommand{
		kind:  kind,
		reply: make(chan error, 1),
	}

	select {
	case s.commands <- cmd:
		return <-cmd.reply
	case <-s.done:
		return errEngineShutdown
	}
}

// handleCommand returns true once the loop has to end
func (s *Scheduler) handleCommand(cmd schedulerCommand, lastPass *time.Time) bool {
	state := s.currentState()

	switch cmd.kind {
	case commandStart:
		if state == stateActive {
			cmd.reply <- nil
			return false
		}

		s.setState(stateActive)
		s.enforce(lastPass)
		cmd.reply <- nil

	case commandStop:
		if state != stateActive {
			cmd.reply <- nil
			return false
		}

		// unmute whatever the policy was muting; this is not a restore, the record stays
		s.pass(s.policy.Policy().WithEnabled(false), false)
		*lastPass = time.Now()

		s.setState(stateIdle)
		cmd.reply <- nil

	case commandShutdown:
		err := s.engine.RestoreAll()
		if err != nil {
			s.logger.Warnw("Failed to restore all audio sessions", "error", err)
		}

		s.setState(stateTerminated)
		cmd.reply <- err

		return true
	}

	return false
}

func (s *Scheduler) enforce(lastPass *time.Time) {
	s.pass(s.policy.Policy(), true)
	*lastPass = time.Now()
}

func (s *Scheduler) pass(cfg PolicyConfig, record bool) {
	foregroundPID, err := s.foreground.ForegroundPID()
	if err != nil {
		if s.verbose {
			s.logger.Debugw("Failed to query foreground process", "error", err)
		}
		foregroundPID = 0
	}

	s.stateLock.Lock()
	s.lastForeground = foregroundPID
	s.stateLock.Unlock()

	// failures are logged by the engine and retried by the next pass
	s.engine.Enforce(cfg, foregroundPID, record)
}

func (s *Scheduler) currentState() schedulerState {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	return s.state
}

func (s *Scheduler) setState(state schedulerState) {
	s.stateLock.Lock()
	previous := s.state
	s.state = state
	s.stateLock.Unlock()

	if previous == state {
		return
	}

	s.logger.Infow("Enforcement state changed", "from", previous, "to", state)

	active := state == stateActive

	s.consumersLock.Lock()
	defer s.consumersLock.Unlock()

	for _, ch := range s.stateConsumers {
		select {
		case ch <- active:
		default:
			// a notification is already pending, the consumer will read Active()
		}
	}
}
