package silencer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	ole "github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

var errCOMThreadStopped = errors.New("com thread stopped")

// comThread owns a single-threaded COM apartment. Audio session objects are only
// touched from inside call, which runs on the apartment's locked OS thread.
type comThread struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	calls   chan func()
	done    chan struct{}
}

func startCOMThread(logger *zap.SugaredLogger) (*comThread, error) {
	t := &comThread{
		logger: logger,
		calls:  make(chan func()),
		done:   make(chan struct{}),
	}

	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(t.done)

		if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {

			// S_FALSE: this thread already has an apartment, which is fine
			const eFalse = 1
			oleError := &ole.OleError{}

			if !errors.As(err, &oleError) || oleError.Code() != eFalse {
				ready <- fmt.Errorf("initialize COM: %w", err)
				return
			}
		}
		defer ole.CoUninitialize()

		ready <- nil

		for call := range t.calls {
			call()
		}
	}()

	if err := <-ready; err != nil {
		logger.Warnw("Failed to start COM thread", "error", err)
		return nil, err
	}

	logger.Debug("Started COM thread")

	return t, nil
}

// call runs f on the apartment thread and waits for it
func (t *comThread) call(f func() error) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return errCOMThreadStopped
	}

	result := make(chan error, 1)
	t.calls <- func() { result <- f() }
	t.mu.Unlock()

	return <-result
}

func (t *comThread) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.calls)
	t.mu.Unlock()

	<-t.done
	t.logger.Debug("Stopped COM thread")
}
