package silencer

import (
	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"

	"github.com/stalexteam/silencer/pkg/silencer/util"
)

type procfsProcessResolver struct {
	logger *zap.SugaredLogger
}

func newProcessResolver(logger *zap.SugaredLogger) ProcessResolver {
	return &procfsProcessResolver{
		logger: logger.Named("process"),
	}
}

func (r *procfsProcessResolver) ResolveName(pid uint32) string {
	if pid == systemSessionPID {
		return systemSessionName
	}

	// the exe link holds the untruncated name but is only readable for our own user's processes
	if processPath, err := util.GetProcessPath(int(pid)); err == nil {
		if name := executableBaseName(processPath); name != "" {
			return name
		}
	} else {
		r.logger.Debugw("Failed to get process path, falling back to process table", "pid", pid, "error", err)
	}

	if process, err := ps.FindProcess(int(pid)); err == nil && process != nil && process.Executable() != "" {
		return process.Executable()
	}

	return placeholderProcessName(pid)
}

// WindowTitle is not available without a window system binding
func (r *procfsProcessResolver) WindowTitle(pid uint32) string {
	return ""
}
