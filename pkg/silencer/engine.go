package silencer

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine is the only component allowed to change session mute flags. It owns the
// session finder and the record of original mute flags.
type Engine struct {
	logger  *zap.SugaredLogger
	verbose bool

	finder   SessionFinder
	resolver ProcessResolver
	store    *muteStore
}

// passResult summarizes one enforcement pass
type passResult struct {
	Sessions int
	Muted    int
	Failed   int
}

// NewEngine reaches the default render endpoint of this machine. Failing to do so is fatal
// to the engine; the caller decides whether to retry.
func NewEngine(logger *zap.SugaredLogger, verbose bool) (*Engine, error) {
	logger = logger.Named("engine")

	finder, err := newSessionFinder(logger)
	if err != nil {
		logger.Errorw("Failed to create SessionFinder", "error", err)
		return nil, fmt.Errorf("create new SessionFinder: %w", err)
	}

	return newEngine(logger, finder, newProcessResolver(logger), verbose), nil
}

func newEngine(logger *zap.SugaredLogger, finder SessionFinder, resolver ProcessResolver, verbose bool) *Engine {
	e := &Engine{
		logger:   logger,
		verbose:  verbose,
		finder:   finder,
		resolver: resolver,
		store:    newMuteStore(),
	}

	logger.Debug("Created engine instance")

	return e
}

// ListSessions returns a point-in-time snapshot of the governed sessions with display names
func (e *Engine) ListSessions() ([]SessionInfo, error) {
	var pids []uint32

	// only collect pids while the collection is held, name and title lookups can be slow
	if err := e.finder.EachSession(func(session Session) {
		if pid := session.ProcessID(); pid != systemSessionPID {
			pids = append(pids, pid)
		}
	}); err != nil {
		e.logger.Warnw("Failed to enumerate audio sessions", "error", err)
		return nil, fmt.Errorf("enumerate audio sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(pids))
	for _, pid := range pids {
		sessions = append(sessions, SessionInfo{
			ProcessName: e.resolver.ResolveName(pid),
			PID:         pid,
			WindowTitle: e.resolver.WindowTitle(pid),
		})
	}

	assignDisplayNames(sessions)

	return sessions, nil
}

// Enforce applies cfg to every live session. With record set, each session's current flag is
// recorded before its first change; a session whose flag can't be read is then left alone
// until a later pass. Per-session failures are counted, not returned.
func (e *Engine) Enforce(cfg PolicyConfig, foregroundPID uint32, record bool) (passResult, error) {
	result := passResult{}

	err := e.finder.EachSession(func(session Session) {
		pid := session.ProcessID()
		if pid == systemSessionPID {
			return
		}

		result.Sessions++

		name := e.resolver.ResolveName(pid)
		mute := Decide(name, pid, cfg, foregroundPID)

		if record {
			current, err := session.GetMute()
			if err != nil {
				e.logger.Debugw("Failed to read mute state, skipping session this pass", "pid", pid, "name", name, "error", err)
				result.Failed++
				return
			}

			if e.store.recordIfAbsent(pid, current) && e.verbose {
				e.logger.Debugw("Recorded original mute state", "pid", pid, "name", name, "muted", current)
			}
		}

		if err := session.SetMute(mute); err != nil {
			result.Failed++
			return
		}

		if mute {
			result.Muted++
		}
	})

	if err != nil {
		e.logger.Warnw("Failed to enumerate audio sessions for enforcement", "error", err)
		return result, fmt.Errorf("enumerate audio sessions: %w", err)
	}

	if e.verbose {
		e.logger.Debugw("Enforcement pass done",
			"policy", cfg,
			"foreground", foregroundPID,
			"sessions", result.Sessions,
			"muted", result.Muted,
			"failed", result.Failed)
	}

	return result, nil
}

// RestoreAll takes the whole mute record and unmutes every live session it names. Every
// recorded session is attempted; the first failure, if any, is returned.
func (e *Engine) RestoreAll() error {
	taken := e.store.take()
	if len(taken) == 0 {
		e.logger.Debug("Nothing to restore")
		return nil
	}

	e.logger.Infow("Restoring audio sessions", "count", len(taken))

	var errs error

	if err := e.finder.EachSession(func(session Session) {
		pid := session.ProcessID()
		if _, ok := taken[pid]; !ok {
			return
		}

		// leave nothing muted, whatever the flag was before we came along
		if err := session.SetMute(false); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unmute session (pid %d): %w", pid, err))
		}
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("enumerate audio sessions for restore: %w", err))
	}

	if errs == nil {
		e.logger.Debug("Restored audio sessions successfully")
		return nil
	}

	failures := multierr.Errors(errs)
	for _, err := range failures {
		e.logger.Warnw("Failed to restore audio session", "error", err)
	}

	return failures[0]
}

// Release lets go of the audio subsystem. The engine is unusable afterwards.
func (e *Engine) Release() error {
	if err := e.finder.Release(); err != nil {
		e.logger.Warnw("Failed to release session finder", "error", err)
		return fmt.Errorf("release session finder: %w", err)
	}

	return nil
}

// RecordedSessions returns how many sessions currently have an original mute flag on record
func (e *Engine) RecordedSessions() int {
	return e.store.len()
}
