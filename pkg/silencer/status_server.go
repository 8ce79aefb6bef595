package silencer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	eventsource "github.com/stalexteam/eventsource_go"
	"go.uber.org/zap"
)

// StatusState is what status clients see of the enforcement state
type StatusState struct {
	Active        bool   `json:"active"`
	Enabled       bool   `json:"enabled"`
	Whitelist     bool   `json:"whitelist"`
	ForegroundPID uint32 `json:"foreground_pid"`
}

// statusSource supplies the current state and session snapshot to newly connected clients
type statusSource interface {
	currentState() StatusState
	currentSessions() []SessionInfo
}

// StatusServer streams enforcement state and the session snapshot to EventSource clients
type StatusServer struct {
	source statusSource
	logger *zap.SugaredLogger
	server *http.Server

	stopChannel chan bool
	running     int32

	manager *eventsource.ConnectionManager

	eventID int64

	currentPort int
	portMutex   sync.Mutex
}

const (
	statusRetryTimeout = 30000

	statusPingInterval = 10 * time.Second

	statusShutdownTimeout = 5 * time.Second

	statusEventPing     = "ping"
	statusEventState    = "state"
	statusEventSessions = "sessions"
)

// NewStatusServer creates a stopped status server
func NewStatusServer(source statusSource, logger *zap.SugaredLogger) *StatusServer {
	logger = logger.Named("status_server")

	manager := eventsource.NewConnectionManager()

	manager.SetOnConnect(func(encoder *eventsource.Encoder) {
		logger.Infow("New status client connected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	manager.SetOnDisconnect(func(encoder *eventsource.Encoder) {
		logger.Debugw("Status client disconnected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	srv := &StatusServer{
		source:  source,
		logger:  logger,
		manager: manager,
	}

	logger.Debug("Created status server instance")

	return srv
}

// Start serves the event stream on the given port. A port of 0 stops a running server,
// a different port restarts it.
func (srv *StatusServer) Start(port int) error {
	if port <= 0 {
		if srv.IsRunning() {
			srv.logger.Info("Status port unset, stopping status server")
			srv.Stop()
		}
		return nil
	}

	currentPort := srv.GetCurrentPort()

	if srv.IsRunning() && currentPort == port {
		srv.logger.Debugw("Status server already running on the same port", "port", port)
		return nil
	}

	if srv.IsRunning() {
		srv.logger.Infow("Status port changed, restarting", "old_port", currentPort, "new_port", port)
		srv.Stop()
	}

	stopChannel := make(chan bool)

	handler := eventsource.HandlerV2(func(
		info *eventsource.ConnectionInfo,
		encoder *eventsource.Encoder,
		stop <-chan bool,
	) {
		if err := encoder.SetRetry(statusRetryTimeout); err != nil {
			srv.logger.Debugw("Error sending retry field", "error", err, "closed", eventsource.IsConnectionError(err))
			return
		}

		if !srv.sendToEncoder(encoder, statusEventPing, srv.pingPayload()) {
			return
		}

		// new clients get the full picture right away
		if !srv.sendToEncoder(encoder, statusEventState, srv.source.currentState()) {
			return
		}

		if !srv.sendToEncoder(encoder, statusEventSessions, srv.source.currentSessions()) {
			return
		}

		select {
		case <-stop:
		case <-stopChannel:
		}
	})

	mux := http.NewServeMux()

	// every path serves the same stream
	mux.HandleFunc("/", eventsource.HandlerWithManager(srv.manager, handler).ServeHTTP)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	srv.portMutex.Lock()
	srv.server = server
	srv.stopChannel = stopChannel
	srv.currentPort = port
	srv.portMutex.Unlock()

	atomic.StoreInt32(&srv.running, 1)

	go func() {
		srv.logger.Infow("Starting status server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.logger.Errorw("Status server error", "error", err)
			atomic.StoreInt32(&srv.running, 0)
		}
	}()

	go srv.pingLoop(stopChannel)

	return nil
}

// Stop closes every client connection and shuts the HTTP server down
func (srv *StatusServer) Stop() {
	if !atomic.CompareAndSwapInt32(&srv.running, 1, 0) {
		return
	}

	srv.logger.Debug("Stopping status server")

	srv.portMutex.Lock()
	server := srv.server
	stopChannel := srv.stopChannel
	srv.server = nil
	srv.stopChannel = nil
	srv.currentPort = 0
	srv.portMutex.Unlock()

	if stopChannel != nil {
		close(stopChannel)
	}

	srv.manager.CloseAll()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			srv.logger.Warnw("Error during status server shutdown", "error", err)
			server.Close()
		}
	}

	srv.logger.Info("Status server stopped")
}

// GetCurrentPort returns the port the server is running on (0 if not running)
func (srv *StatusServer) GetCurrentPort() int {
	srv.portMutex.Lock()
	defer srv.portMutex.Unlock()

	return srv.currentPort
}

// IsRunning returns whether the server is currently running
func (srv *StatusServer) IsRunning() bool {
	return atomic.LoadInt32(&srv.running) == 1
}

// BroadcastState sends the enforcement state to every client
func (srv *StatusServer) BroadcastState(state StatusState) {
	srv.broadcast(statusEventState, state)
}

// BroadcastSessions sends a session snapshot to every client
func (srv *StatusServer) BroadcastSessions(sessions []SessionInfo) {
	srv.broadcast(statusEventSessions, sessions)
}

func (srv *StatusServer) broadcast(eventType string, payload interface{}) {
	if !srv.IsRunning() {
		return
	}

	event, err := srv.newEvent(eventType, payload)
	if err != nil {
		srv.logger.Warnw("Failed to build status event", "type", eventType, "error", err)
		return
	}

	// failed connections are dropped by the manager
	if err := srv.manager.Broadcast(event); err != nil && eventsource.IsConnectionError(err) {
		srv.logger.Debugw("Some connections failed during broadcast", "type", eventType, "error", err)
	}
}

func (srv *StatusServer) sendToEncoder(encoder *eventsource.Encoder, eventType string, payload interface{}) bool {
	event, err := srv.newEvent(eventType, payload)
	if err != nil {
		srv.logger.Warnw("Failed to build status event", "type", eventType, "error", err)
		return false
	}

	if err := encoder.Encode(event); err != nil {
		srv.logger.Debugw("Error sending status event",
			"type", eventType,
			"error", err,
			"closed", eventsource.IsConnectionError(err))
		return false
	}

	return true
}

func (srv *StatusServer) newEvent(eventType string, payload interface{}) (eventsource.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return eventsource.Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return eventsource.Event{
		ID:   fmt.Sprintf("%d", atomic.AddInt64(&srv.eventID, 1)),
		Type: eventType,
		Data: data,
	}, nil
}

func (srv *StatusServer) pingPayload() map[string]interface{} {
	return map[string]interface{}{
		"title": "Silencer",
		"lang":  "en",
	}
}

func (srv *StatusServer) pingLoop(stopChannel chan bool) {
	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChannel:
			return
		case <-ticker.C:
			srv.broadcast(statusEventPing, srv.pingPayload())
		}
	}
}
