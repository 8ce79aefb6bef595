package silencer

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errForegroundUnavailable = errors.New("no foreground window")

// ForegroundTracker knows which process owns the focused window. Changes are pushed
// through the process-wide foreground wake signal, the current owner is pulled on demand.
type ForegroundTracker interface {

	// Start registers the wake signal and installs the change notification
	Start() error
	Stop() error

	ForegroundPID() (uint32, error)
}

// wakeSignal is a write-once, single-slot handoff between an OS callback context
// (which has no way to carry a pointer to us) and the enforcement loop.
// Bursts of posts collapse into one pending signal.
type wakeSignal struct {
	once sync.Once
	ch   atomic.Pointer[chan struct{}]
}

// foregroundChanged is posted to by the OS foreground-change callback and nothing else
var foregroundChanged = &wakeSignal{}

// register creates the channel on the first call; later calls return the same channel
func (w *wakeSignal) register() <-chan struct{} {
	w.once.Do(func() {
		ch := make(chan struct{}, 1)
		w.ch.Store(&ch)
	})

	return w.channel()
}

// post never blocks. It reports false when nothing is registered yet.
func (w *wakeSignal) post() bool {
	ch := w.ch.Load()
	if ch == nil {
		return false
	}

	select {
	case *ch <- struct{}{}:
	default:
		// a signal is already pending
	}

	return true
}

// channel returns nil before registration, and receiving from a nil channel in a
// select simply never fires, which is exactly "no signal yet"
func (w *wakeSignal) channel() <-chan struct{} {
	ch := w.ch.Load()
	if ch == nil {
		return nil
	}

	return *ch
}
