package silencer

import (
	"syscall"
	"unsafe"

	"github.com/lxn/win"
)

var (
	moduser32   = syscall.NewLazyDLL("user32.dll")
	modkernel32 = syscall.NewLazyDLL("kernel32.dll")

	procSetWinEventHook     = moduser32.NewProc("SetWinEventHook")
	procUnhookWinEvent      = moduser32.NewProc("UnhookWinEvent")
	procEnumWindows         = moduser32.NewProc("EnumWindows")
	procGetWindowTextLength = moduser32.NewProc("GetWindowTextLengthW")
	procGetWindowText       = moduser32.NewProc("GetWindowTextW")
	procPostThreadMessage   = moduser32.NewProc("PostThreadMessageW")
	procGetCurrentThreadId  = modkernel32.NewProc("GetCurrentThreadId")
)

const (
	EVENT_SYSTEM_FOREGROUND = 0x0003
	WINEVENT_OUTOFCONTEXT   = 0x0000
)

// getWindowTitle retrieves the title of a window
func getWindowTitle(hwnd win.HWND) string {
	length, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if length == 0 {
		return ""
	}

	buf := make([]uint16, length+1)
	procGetWindowText.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return syscall.UTF16ToString(buf)
}

func currentThreadID() uint32 {
	id, _, _ := procGetCurrentThreadId.Call()
	return uint32(id)
}
