package silencer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/stalexteam/silencer/pkg/silencer/icon"
	"github.com/stalexteam/silencer/pkg/silencer/util"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications for Windows and desktop notifications for Linux
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

const notificationIconFilename = "silencer.ico"

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a toast notification (or falls back to other types of notification for older Windows versions)
func (tn *ToastNotifier) Notify(title string, message string) {

	// beeep wants an icon path, so the embedded icon is unpacked into the temp dir once
	appIconPath := filepath.Join(os.TempDir(), notificationIconFilename)

	// make sure it exists, otherwise write it
	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("Notification icon doesn't exist, writing it", "path", appIconPath)

		if err := os.WriteFile(appIconPath, icon.SilencerLogo, 0o644); err != nil {
			tn.logger.Errorw("Failed to write notification icon", "error", err)
		}
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	// send the actual notification
	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", fmt.Errorf("beeep notify: %w", err))
	}
}
