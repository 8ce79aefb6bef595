package silencer

import (
	"fmt"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

// identifies mute changes made by us in session notifications
const sessionEventContextGUID = "{3f1c6f58-8d0e-4b59-9a43-5f2b7c1e9d21}"

type wcaSessionFinder struct {
	logger        *zap.SugaredLogger
	sessionLogger *zap.SugaredLogger

	com      *comThread
	eventCtx *ole.GUID

	// the enumerator is a factory and outlives passes; endpoints and sessions never do
	mmDeviceEnumerator *wca.IMMDeviceEnumerator
}

func newSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	sf := &wcaSessionFinder{
		logger:        logger.Named("session_finder"),
		sessionLogger: logger.Named("sessions"),
		eventCtx:      ole.NewGUID(sessionEventContextGUID),
	}

	com, err := startCOMThread(sf.logger)
	if err != nil {
		return nil, fmt.Errorf("start COM thread: %w", err)
	}
	sf.com = com

	if err := com.call(sf.initialize); err != nil {
		sf.logger.Warnw("Failed to reach default render endpoint", "error", err)
		com.stop()

		return nil, fmt.Errorf("initialize session finder: %w", err)
	}

	sf.logger.Debug("Created WCA session finder instance")

	return sf, nil
}

// initialize runs on the COM thread
func (sf *wcaSessionFinder) initialize() error {
	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&sf.mmDeviceEnumerator,
	); err != nil {
		return fmt.Errorf("create device enumerator: %w", err)
	}

	// make sure there's something to govern before claiming success
	device, err := sf.defaultRenderEndpoint()
	if err != nil {
		sf.mmDeviceEnumerator.Release()
		sf.mmDeviceEnumerator = nil

		return err
	}
	device.Release()

	return nil
}

func (sf *wcaSessionFinder) EachSession(f func(session Session)) error {
	return sf.com.call(func() error {
		if sf.mmDeviceEnumerator == nil {
			return errNoSessionManager
		}

		device, err := sf.defaultRenderEndpoint()
		if err != nil {
			return err
		}
		defer device.Release()

		var manager *wca.IAudioSessionManager2
		if err := device.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &manager); err != nil {
			return fmt.Errorf("activate session manager: %w", err)
		}
		defer manager.Release()

		var enumerator *wca.IAudioSessionEnumerator
		if err := manager.GetSessionEnumerator(&enumerator); err != nil {
			return fmt.Errorf("get session enumerator: %w", err)
		}
		defer enumerator.Release()

		var count int
		if err := enumerator.GetCount(&count); err != nil {
			return fmt.Errorf("get session count: %w", err)
		}

		for idx := 0; idx < count; idx++ {
			session, err := sf.getSession(enumerator, idx)
			if err != nil {
				sf.logger.Debugw("Skipping unreachable audio session", "index", idx, "error", err)
				continue
			}

			// system sounds
			if session == nil {
				continue
			}

			f(session)
			session.release()
		}

		return nil
	})
}

func (sf *wcaSessionFinder) Release() error {
	err := sf.com.call(func() error {
		if sf.mmDeviceEnumerator != nil {
			sf.mmDeviceEnumerator.Release()
			sf.mmDeviceEnumerator = nil
		}
		return nil
	})

	sf.com.stop()

	if err != nil {
		sf.logger.Warnw("Failed to release device enumerator", "error", err)
		return fmt.Errorf("release device enumerator: %w", err)
	}

	sf.logger.Debug("Released WCA session finder instance")

	return nil
}

func (sf *wcaSessionFinder) defaultRenderEndpoint() (*wca.IMMDevice, error) {
	var device *wca.IMMDevice
	if err := sf.mmDeviceEnumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EMultimedia, &device); err != nil {
		return nil, fmt.Errorf("get default render endpoint: %w", err)
	}

	return device, nil
}

// getSession returns nil, nil for the system sounds session
func (sf *wcaSessionFinder) getSession(enumerator *wca.IAudioSessionEnumerator, idx int) (*wcaSession, error) {
	var control *wca.IAudioSessionControl
	if err := enumerator.GetSession(idx, &control); err != nil {
		return nil, fmt.Errorf("get session %d: %w", idx, err)
	}
	defer control.Release()

	dispatch, err := control.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return nil, fmt.Errorf("query session control2: %w", err)
	}

	control2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer control2.Release()

	// the system sounds session fails this with an undocumented AUDCLNT_S_NO_CURRENT_PROCESS
	var pid uint32
	if err := control2.GetProcessId(&pid); err != nil || pid == systemSessionPID {
		return nil, nil
	}

	dispatch, err = control2.QueryInterface(wca.IID_ISimpleAudioVolume)
	if err != nil {
		return nil, fmt.Errorf("query simple audio volume: %w", err)
	}

	volume := (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch))

	return newWCASession(sf.sessionLogger, volume, pid, sf.eventCtx), nil
}
