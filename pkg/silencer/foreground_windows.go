package silencer

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/lxn/win"
	"go.uber.org/zap"
)

const hookThreadStopTimeout = 500 * time.Millisecond

// runs on a thread Windows picks; it must stay limited to posting the wake signal
var foregroundEventCallback = syscall.NewCallback(func(hook, event, hwnd, idObject, idChild, eventThread, eventTime uintptr) uintptr {
	foregroundChanged.post()
	return 0
})

type winForegroundTracker struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	threadID uint32
	done     chan struct{}
}

func newForegroundTracker(logger *zap.SugaredLogger) (ForegroundTracker, error) {
	t := &winForegroundTracker{
		logger: logger.Named("foreground"),
	}

	t.logger.Debug("Created foreground tracker instance")

	return t, nil
}

// Start installs an out-of-context foreground event hook. Such hooks are delivered through the
// message queue of the installing thread, so the hook gets a locked thread with its own pump.
func (t *winForegroundTracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return nil
	}

	// the wake signal has to exist before the first callback can possibly fire
	foregroundChanged.register()

	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(done)

		hook, _, err := procSetWinEventHook.Call(
			EVENT_SYSTEM_FOREGROUND,
			EVENT_SYSTEM_FOREGROUND,
			0,
			foregroundEventCallback,
			0,
			0,
			WINEVENT_OUTOFCONTEXT,
		)
		if hook == 0 {
			ready <- fmt.Errorf("set foreground event hook: %w", err)
			return
		}

		t.threadID = currentThreadID()
		ready <- nil

		var msg win.MSG
		for win.GetMessage(&msg, 0, 0, 0) > 0 {
			win.TranslateMessage(&msg)
			win.DispatchMessage(&msg)
		}

		procUnhookWinEvent.Call(hook)
	}()

	if err := <-ready; err != nil {
		t.logger.Warnw("Failed to install foreground hook, relying on periodic checks only", "error", err)
		return err
	}

	t.done = done
	t.logger.Debugw("Installed foreground hook", "thread", t.threadID)

	return nil
}

func (t *winForegroundTracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		return nil
	}

	ret, _, err := procPostThreadMessage.Call(uintptr(t.threadID), win.WM_QUIT, 0, 0)
	if ret == 0 {
		t.logger.Warnw("Failed to post quit to hook thread", "error", err)
		return fmt.Errorf("post quit to hook thread: %w", err)
	}

	select {
	case <-t.done:
		t.logger.Debug("Removed foreground hook")
	case <-time.After(hookThreadStopTimeout):
		t.logger.Warn("Hook thread did not stop within timeout, proceeding anyway")
	}

	t.done = nil

	return nil
}

func (t *winForegroundTracker) ForegroundPID() (uint32, error) {
	hwnd := win.GetForegroundWindow()
	if hwnd == 0 {
		return 0, errForegroundUnavailable
	}

	var pid uint32
	win.GetWindowThreadProcessId(hwnd, &pid)

	return pid, nil
}
