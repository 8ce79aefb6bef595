package silencer

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// x11ForegroundTracker asks the X server through xprop. Pushes come from a long-running
// "xprop -spy" on the root window's active window property.
type x11ForegroundTracker struct {
	logger *zap.SugaredLogger

	mu  sync.Mutex
	spy *exec.Cmd
}

func newForegroundTracker(logger *zap.SugaredLogger) (ForegroundTracker, error) {
	t := &x11ForegroundTracker{
		logger: logger.Named("foreground"),
	}

	t.logger.Debug("Created foreground tracker instance")

	return t, nil
}

func (t *x11ForegroundTracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spy != nil {
		return nil
	}

	foregroundChanged.register()

	spy := exec.Command("xprop", "-spy", "-root", "_NET_ACTIVE_WINDOW")
	stdout, err := spy.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe xprop output: %w", err)
	}

	if err := spy.Start(); err != nil {
		t.logger.Warnw("Failed to watch active window, relying on periodic checks only", "error", err)
		return fmt.Errorf("start xprop: %w", err)
	}

	t.spy = spy

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			foregroundChanged.post()
		}

		t.logger.Debugw("Active window watcher exited", "error", spy.Wait())
	}()

	t.logger.Debug("Watching active window")

	return nil
}

func (t *x11ForegroundTracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spy == nil {
		return nil
	}

	if err := t.spy.Process.Kill(); err != nil {
		t.logger.Warnw("Failed to stop active window watcher", "error", err)
		return fmt.Errorf("kill xprop: %w", err)
	}

	t.spy = nil

	return nil
}

func (t *x11ForegroundTracker) ForegroundPID() (uint32, error) {
	out, err := exec.Command("xprop", "-root", "_NET_ACTIVE_WINDOW").Output()
	if err != nil {
		return 0, fmt.Errorf("query active window: %w", err)
	}

	windowID, err := parseActiveWindow(string(out))
	if err != nil {
		return 0, err
	}

	out, err = exec.Command("xprop", "-id", windowID, "_NET_WM_PID").Output()
	if err != nil {
		return 0, fmt.Errorf("query window pid: %w", err)
	}

	return parseWindowPID(string(out))
}

// parseActiveWindow reads "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007".
// Some xprop versions append ", 0x0" after the id.
func parseActiveWindow(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return "", errors.New("unexpected xprop output")
	}

	windowID := strings.TrimSuffix(fields[4], ",")
	if windowID == "0x0" {
		return "", errForegroundUnavailable
	}

	return windowID, nil
}

// parseWindowPID reads "_NET_WM_PID(CARDINAL) = 4242"
func parseWindowPID(out string) (uint32, error) {
	idx := strings.LastIndex(out, "=")
	if idx < 0 {
		return 0, errForegroundUnavailable
	}

	pid, err := strconv.ParseUint(strings.TrimSpace(out[idx+1:]), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse window pid: %w", err)
	}

	return uint32(pid), nil
}
