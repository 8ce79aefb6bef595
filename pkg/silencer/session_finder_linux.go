package silencer

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

type paSessionFinder struct {
	logger        *zap.SugaredLogger
	sessionLogger *zap.SugaredLogger

	// sessions handed out by EachSession use the client too, so the lock spans the whole call
	mu     sync.Mutex
	client *proto.Client
	conn   net.Conn
}

func newSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("silencer"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	sf := &paSessionFinder{
		logger:        logger.Named("session_finder"),
		sessionLogger: logger.Named("sessions"),
		client:        client,
		conn:          conn,
	}

	if _, err := sf.defaultSinkIndex(); err != nil {
		conn.Close()
		return nil, err
	}

	sf.logger.Debug("Created PA session finder instance")

	return sf, nil
}

func (sf *paSessionFinder) EachSession(f func(session Session)) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sinkIndex, err := sf.defaultSinkIndex()
	if err != nil {
		return err
	}

	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := sf.client.Request(&request, &reply); err != nil {
		sf.logger.Warnw("Failed to get sink input list", "error", err)
		return fmt.Errorf("get sink input list: %w", err)
	}

	for _, info := range reply {
		if info == nil || info.SinkIndex != sinkIndex {
			continue
		}

		pidProp, ok := info.Properties["application.process.id"]
		if !ok {
			sf.logger.Debugw("Skipping sink input without process id", "sinkInputIndex", info.SinkInputIndex)
			continue
		}

		pid, err := strconv.ParseUint(pidProp.String(), 10, 32)
		if err != nil || pid == systemSessionPID {
			continue
		}

		f(newPASession(sf.sessionLogger, sf.client, info.SinkInputIndex, uint32(pid)))
	}

	return nil
}

func (sf *paSessionFinder) Release() error {
	if err := sf.conn.Close(); err != nil {
		sf.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	sf.logger.Debug("Released PA session finder instance")

	return nil
}

func (sf *paSessionFinder) defaultSinkIndex() (uint32, error) {
	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
	}
	reply := proto.GetSinkInfoReply{}

	if err := sf.client.Request(&request, &reply); err != nil {
		return 0, fmt.Errorf("%w: %v", errNoSessionManager, err)
	}

	return reply.SinkIndex, nil
}
