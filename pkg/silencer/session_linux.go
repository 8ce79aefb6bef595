package silencer

import (
	"fmt"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

type paSession struct {
	baseSession

	client *proto.Client

	sinkInputIndex uint32
}

func newPASession(
	logger *zap.SugaredLogger,
	client *proto.Client,
	sinkInputIndex uint32,
	pid uint32,
) *paSession {

	s := &paSession{
		client:         client,
		sinkInputIndex: sinkInputIndex,
	}

	s.pid = pid
	s.logger = logger.With("pid", pid, "sinkInput", sinkInputIndex)

	return s
}

func (s *paSession) GetMute() (bool, error) {
	request := proto.GetSinkInputInfo{
		SinkInputIndex: s.sinkInputIndex,
	}
	reply := proto.GetSinkInputInfoReply{}

	if err := s.client.Request(&request, &reply); err != nil {
		return false, fmt.Errorf("get sink input mute: %w", err)
	}

	return reply.Muted, nil
}

func (s *paSession) SetMute(v bool) error {
	request := proto.SetSinkInputMute{
		SinkInputIndex: s.sinkInputIndex,
		Mute:           v,
	}

	if err := s.client.Request(&request, nil); err != nil {
		s.logger.Warnw("Failed to set mute state", "muted", v, "error", err)
		return fmt.Errorf("set sink input mute: %w", err)
	}

	return nil
}

func (s *paSession) String() string {
	muted, _ := s.GetMute()
	return fmt.Sprintf(sessionStringFormat, s.pid, muted)
}
