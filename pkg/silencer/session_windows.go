package silencer

import (
	"fmt"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

type wcaSession struct {
	baseSession

	volume *wca.ISimpleAudioVolume

	// passed along with every change so our own notifications can be told apart
	eventCtx *ole.GUID
}

func newWCASession(
	logger *zap.SugaredLogger,
	volume *wca.ISimpleAudioVolume,
	pid uint32,
	eventCtx *ole.GUID,
) *wcaSession {

	s := &wcaSession{
		volume:   volume,
		eventCtx: eventCtx,
	}

	s.pid = pid
	s.logger = logger.With("pid", pid)

	return s
}

func (s *wcaSession) GetMute() (bool, error) {
	var muted bool
	if err := s.volume.GetMute(&muted); err != nil {
		return false, fmt.Errorf("get session mute: %w", err)
	}

	return muted, nil
}

func (s *wcaSession) SetMute(v bool) error {
	if err := s.volume.SetMute(v, s.eventCtx); err != nil {
		s.logger.Warnw("Failed to set session mute state", "muted", v, "error", err)
		return fmt.Errorf("set session mute: %w", err)
	}

	return nil
}

func (s *wcaSession) release() {
	s.volume.Release()
}

func (s *wcaSession) String() string {
	muted, _ := s.GetMute()
	return fmt.Sprintf(sessionStringFormat, s.pid, muted)
}
