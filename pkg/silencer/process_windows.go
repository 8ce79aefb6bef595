package silencer

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/lxn/win"
	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const processNameBufferSize = 1024

// least privileged first, the broader mode is only needed for processes that refuse the limited one
var processAccessModes = []uint32{
	windows.PROCESS_QUERY_LIMITED_INFORMATION,
	windows.PROCESS_QUERY_INFORMATION | windows.PROCESS_VM_READ,
}

type winProcessResolver struct {
	logger *zap.SugaredLogger
}

// EnumWindows callbacks can't be freed, so a single one is shared by every title lookup
var (
	titleSearchLock   sync.Mutex
	titleSearchPID    uint32
	titleSearchResult string

	enumWindowsTitleCallback = syscall.NewCallback(func(hwnd win.HWND, _ uintptr) uintptr {
		var windowPID uint32
		win.GetWindowThreadProcessId(hwnd, &windowPID)

		if windowPID != titleSearchPID || !win.IsWindowVisible(hwnd) {
			return 1
		}

		if title := getWindowTitle(hwnd); title != "" {
			titleSearchResult = title
			return 0 // stop enumerating
		}

		return 1
	})
)

func newProcessResolver(logger *zap.SugaredLogger) ProcessResolver {
	return &winProcessResolver{
		logger: logger.Named("process"),
	}
}

func (r *winProcessResolver) ResolveName(pid uint32) string {
	if pid == systemSessionPID {
		return systemSessionName
	}

	for _, access := range processAccessModes {
		handle, err := windows.OpenProcess(access, false, pid)
		if err != nil {
			continue
		}

		name, err := queryProcessName(handle)
		windows.CloseHandle(handle)

		if err == nil {
			return name
		}

		r.logger.Debugw("Failed to query process name", "pid", pid, "access", access, "error", err)
	}

	// the toolhelp snapshot doesn't need a process handle at all
	if process, err := ps.FindProcess(int(pid)); err == nil && process != nil && process.Executable() != "" {
		return process.Executable()
	}

	return placeholderProcessName(pid)
}

func (r *winProcessResolver) WindowTitle(pid uint32) string {
	if pid == systemSessionPID {
		return ""
	}

	titleSearchLock.Lock()
	defer titleSearchLock.Unlock()

	titleSearchPID = pid
	titleSearchResult = ""

	procEnumWindows.Call(enumWindowsTitleCallback, 0)

	return titleSearchResult
}

// queryProcessName prefers the full image path and falls back to the module base name
func queryProcessName(handle windows.Handle) (string, error) {
	buf := make([]uint16, processNameBufferSize)
	size := uint32(len(buf))

	if err := windows.QueryFullProcessImageName(handle, 0, &buf[0], &size); err == nil {
		if name := executableBaseName(windows.UTF16ToString(buf[:size])); name != "" {
			return name, nil
		}
	}

	buf = make([]uint16, processNameBufferSize)
	if err := windows.GetModuleBaseName(handle, 0, &buf[0], uint32(len(buf))); err != nil {
		return "", fmt.Errorf("get module base name: %w", err)
	}

	name := windows.UTF16ToString(buf)
	if name == "" {
		return "", fmt.Errorf("empty module base name")
	}

	return name, nil
}
