package silencer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWakeSignalBeforeRegistration(t *testing.T) {
	w := &wakeSignal{}

	assert.Nil(t, w.channel())
	assert.False(t, w.post(), "posting early is a no-op")

	select {
	case <-w.channel():
		t.Fatal("a nil channel never delivers")
	default:
	}
}

func TestWakeSignalRegistersOnce(t *testing.T) {
	w := &wakeSignal{}

	first := w.register()
	second := w.register()

	assert.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, first, w.channel())
}

func TestWakeSignalCoalescesBursts(t *testing.T) {
	w := &wakeSignal{}
	ch := w.register()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, w.post())
		}()
	}
	wg.Wait()

	<-ch

	select {
	case <-ch:
		t.Fatal("a burst leaves a single pending signal")
	default:
	}
}
