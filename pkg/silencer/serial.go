package silencer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// SwitchEvent is a hardware switch changing position
type SwitchEvent struct {
	SwitchID int
	State    bool
}

// SerialControl listens to a microcontroller on a serial port and turns one of its
// switches into start/stop commands
type SerialControl struct {
	logger   *zap.SugaredLogger
	verbose  bool
	config   *CanonicalConfig
	notifier Notifier

	// called with true to start enforcement and false to stop it
	onSwitch func(active bool)

	mu          sync.Mutex
	running     bool
	stopChannel chan struct{}
	done        chan struct{}
	connOptions serial.OpenOptions
	conn        io.ReadWriteCloser
}

const (
	serialRetryDelay = 2 * time.Second

	// milliseconds between characters before a read returns
	serialInterCharacterTimeout = 50
)

var (
	ansiRegexp    = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	jsonLogRegexp = regexp.MustCompile(`\[[A-Z]\]\[json:\d+\]:\s*(\{.*\})`)
	swPattern     = regexp.MustCompile(`^binary_sensor-sw(\d+)$`)
)

func stripANSI(s string) string {
	return ansiRegexp.ReplaceAllString(s, "")
}

// NewSerialControl creates a stopped SerialControl
func NewSerialControl(
	config *CanonicalConfig,
	notifier Notifier,
	onSwitch func(active bool),
	logger *zap.SugaredLogger,
	verbose bool,
) *SerialControl {

	logger = logger.Named("control")

	sc := &SerialControl{
		logger:   logger,
		verbose:  verbose,
		config:   config,
		notifier: notifier,
		onSwitch: onSwitch,
	}

	logger.Debug("Created serial control instance")

	return sc
}

// Start begins connecting to the configured serial port, retrying in the background until
// Stop is called. Does nothing when no port is configured.
func (sc *SerialControl) Start() {
	settings := sc.config.ControlSettings()
	if !settings.Configured() {
		sc.logger.Debug("Serial control not configured, not starting")
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.running {
		return
	}

	sc.running = true
	sc.stopChannel = make(chan struct{})
	sc.done = make(chan struct{})

	go sc.loop(sc.stopChannel, sc.done)
}

// Stop disconnects and waits for the background loop to end
func (sc *SerialControl) Stop() {
	sc.mu.Lock()
	if !sc.running {
		sc.mu.Unlock()
		sc.logger.Debug("Not currently running, nothing to stop")
		return
	}

	sc.running = false
	stopChannel, done, conn := sc.stopChannel, sc.done, sc.conn
	sc.mu.Unlock()

	sc.logger.Debug("Shutting down serial connection")
	close(stopChannel)

	// unblocks a pending read
	if conn != nil {
		conn.Close()
	}

	<-done
}

// Reconfigure restarts the connection if the port or baud rate changed since it was opened
func (sc *SerialControl) Reconfigure() {
	settings := sc.config.ControlSettings()

	sc.mu.Lock()
	running := sc.running
	samePort := sc.connOptions.PortName == settings.SerialPort && sc.connOptions.BaudRate == uint(settings.BaudRate)
	sc.mu.Unlock()

	if running && samePort {
		return
	}

	if running {
		sc.logger.Infow("Serial control settings changed, reconnecting", "port", settings.SerialPort, "baud", settings.BaudRate)
		sc.Stop()
	}

	sc.Start()
}

// IsConnected returns whether the serial connection is currently open
func (sc *SerialControl) IsConnected() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.conn != nil
}

func (sc *SerialControl) loop(stopChannel chan struct{}, done chan struct{}) {
	defer close(done)

	notifiedBusy := false

	for {
		err := sc.connect()
		if err == nil {
			notifiedBusy = false

			if err := sc.run(stopChannel); err != nil {
				sc.logger.Warnw("Serial connection lost", "error", err)
			}

			sc.close()
		} else if errors.Is(err, errSerialPortBusy) && !notifiedBusy {
			settings := sc.config.ControlSettings()
			sc.notifier.Notify(fmt.Sprintf("Can't connect to %s!", settings.SerialPort),
				"This serial port is busy, make sure to close any serial monitor.")
			notifiedBusy = true
		}

		select {
		case <-stopChannel:
			return
		case <-time.After(serialRetryDelay):
		}

		if !sc.config.ControlSettings().Configured() {
			sc.logger.Info("Serial control removed from config, stopping")
			sc.mu.Lock()
			sc.running = false
			sc.mu.Unlock()
			return
		}
	}
}

var errSerialPortBusy = errors.New("serial port busy")

func (sc *SerialControl) connect() error {
	settings := sc.config.ControlSettings()

	options := serial.OpenOptions{
		PortName:              settings.SerialPort,
		BaudRate:              uint(settings.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: serialInterCharacterTimeout,
	}

	sc.logger.Debugw("Attempting serial connection", "port", options.PortName, "baud", options.BaudRate)

	conn, err := serial.Open(options)
	if err != nil {
		errMsg := strings.ToLower(err.Error())

		if strings.Contains(errMsg, "access is denied") || strings.Contains(errMsg, "permission denied") {
			sc.logger.Warnw("Serial port access denied, it may be in use by another application",
				"port", options.PortName, "error", err)
			return fmt.Errorf("%w: %s: %v", errSerialPortBusy, options.PortName, err)
		}

		sc.logger.Warnw("Failed to open serial port", "port", options.PortName, "error", err)
		return fmt.Errorf("open serial port %s: %w", options.PortName, err)
	}

	sc.mu.Lock()
	sc.conn = conn
	sc.connOptions = options
	sc.mu.Unlock()

	sc.logger.Infow("Connected to serial port", "port", options.PortName)

	return nil
}

func (sc *SerialControl) run(stopChannel chan struct{}) error {
	sc.mu.Lock()
	conn := sc.conn
	sc.mu.Unlock()

	if conn == nil {
		return errors.New("cannot run: connection is nil")
	}

	lineChannel := sc.readLine(bufio.NewReader(conn), stopChannel)

	for {
		select {
		case <-stopChannel:
			return nil

		case line, ok := <-lineChannel:
			if !ok {
				return errors.New("serial connection lost")
			}
			sc.handleLine(line)
		}
	}
}

func (sc *SerialControl) close() {
	sc.mu.Lock()
	conn := sc.conn
	portName := sc.connOptions.PortName
	sc.conn = nil
	sc.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Close(); err != nil {
		sc.logger.Debugw("Failed to close serial connection", "port", portName, "error", err)
	} else {
		sc.logger.Infow("Serial connection closed", "port", portName)
	}
}

func (sc *SerialControl) readLine(reader *bufio.Reader, stopChannel chan struct{}) chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					sc.logger.Infow("Serial read error, connection may be lost", "error", err)
				}
				return
			}

			if sc.verbose {
				sc.logger.Debugw("Read new line", "line", line)
			}

			select {
			case ch <- line:
			case <-stopChannel:
				return
			}
		}
	}()

	return ch
}

// handleLine accepts pure JSON lines as well as JSON embedded in ESPHome log output
func (sc *SerialControl) handleLine(line string) {
	clean := strings.TrimSpace(stripANSI(line))

	payload := clean
	if len(clean) == 0 || clean[0] != '{' || clean[len(clean)-1] != '}' {
		m := jsonLogRegexp.FindStringSubmatch(clean)
		if m == nil {
			return
		}

		payload = m[1]
	}

	event, ok := parseSwitchEvent([]byte(payload))
	if !ok {
		if sc.verbose {
			sc.logger.Debugw("Ignoring serial payload", "json", payload)
		}
		return
	}

	if event.SwitchID != sc.config.ControlSettings().SwitchID {
		return
	}

	sc.logger.Infow("Control switch changed", "event", event)

	sc.onSwitch(event.State)
}

// parseSwitchEvent understands {"id":"binary_sensor-swN","value":bool} and {"id":...,"state":"ON"|"OFF"}
func parseSwitchEvent(data []byte) (SwitchEvent, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return SwitchEvent{}, false
	}

	id, _ := raw["id"].(string)

	m := swPattern.FindStringSubmatch(id)
	if len(m) != 2 {
		return SwitchEvent{}, false
	}

	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return SwitchEvent{}, false
	}

	var state bool
	if v, ok := raw["value"].(bool); ok {
		state = v
	} else if s, ok := raw["state"].(string); ok {
		state = strings.EqualFold(s, "ON")
	} else {
		return SwitchEvent{}, false
	}

	return SwitchEvent{SwitchID: idx, State: state}, true
}
