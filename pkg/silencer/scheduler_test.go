package silencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testWaitFor = time.Second
	testTick    = 5 * time.Millisecond

	// long enough to never fire during a test
	testNever = time.Hour
)

type schedulerFixture struct {
	finder     *fakeSessionFinder
	engine     *Engine
	foreground *fakeForeground
	policy     *fakePolicySource
	wake       chan struct{}
	scheduler  *Scheduler
}

// newSchedulerFixture runs a scheduler over game.exe (pid 100) and other.exe (pid 200),
// blacklisting game.exe while other.exe is focused
func newSchedulerFixture(t *testing.T, debounce time.Duration, watchdog time.Duration) *schedulerFixture {
	f := &schedulerFixture{
		finder:     newFakeSessionFinder(&fakeSession{pid: 100}, &fakeSession{pid: 200}),
		foreground: &fakeForeground{pid: 200},
		policy:     &fakePolicySource{policy: NewPolicyConfig([]string{"game.exe"}, false, true)},
		wake:       make(chan struct{}, 1),
	}

	f.engine = newTestEngine(t, f.finder, map[uint32]string{100: "game.exe", 200: "other.exe"})
	f.scheduler = newScheduler(zaptest.NewLogger(t).Sugar(), f.engine, f.foreground, f.policy,
		func() <-chan struct{} { return f.wake }, debounce, watchdog, true)

	go f.scheduler.Run()

	t.Cleanup(func() {
		_ = f.scheduler.Shutdown()
		<-f.scheduler.done
	})

	return f
}

func (f *schedulerFixture) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *schedulerFixture) muted(pid uint32) bool {
	return f.finder.muted()[pid]
}

func TestSchedulerIdleDoesNothing(t *testing.T) {
	f := newSchedulerFixture(t, 0, 10*time.Millisecond)

	f.signal()
	f.scheduler.Kick()
	time.Sleep(50 * time.Millisecond)

	assert.False(t, f.scheduler.Active())
	assert.Equal(t, 0, f.finder.totalSetCalls())
	assert.Equal(t, 0, f.engine.RecordedSessions())
}

func TestSchedulerStartRunsImmediatePass(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)

	require.NoError(t, f.scheduler.Start())

	assert.True(t, f.scheduler.Active())
	assert.True(t, f.muted(100))
	assert.False(t, f.muted(200))
	assert.Equal(t, uint32(200), f.scheduler.LastForeground())
	assert.Equal(t, 2, f.engine.RecordedSessions())

	// starting twice is harmless
	require.NoError(t, f.scheduler.Start())
	assert.True(t, f.scheduler.Active())
}

func TestSchedulerWatchdogCorrectsDrift(t *testing.T) {
	f := newSchedulerFixture(t, 0, 20*time.Millisecond)

	require.NoError(t, f.scheduler.Start())
	require.True(t, f.muted(100))

	// another application unmutes the session behind our back, no signal arrives
	f.finder.setExternally(100, false)

	assert.Eventually(t, func() bool { return f.muted(100) }, testWaitFor, testTick)
}

func TestSchedulerForegroundSignal(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)

	require.NoError(t, f.scheduler.Start())
	require.True(t, f.muted(100))

	// the game takes focus
	f.foreground.set(100)
	f.signal()

	assert.Eventually(t, func() bool { return !f.muted(100) }, testWaitFor, testTick)
	assert.Equal(t, uint32(100), f.scheduler.LastForeground())
}

func TestSchedulerDebounceDefersSignals(t *testing.T) {
	f := newSchedulerFixture(t, 100*time.Millisecond, testNever)

	require.NoError(t, f.scheduler.Start())
	passCalls := f.finder.totalSetCalls()
	require.Equal(t, 2, passCalls, "one pass sets both sessions")

	f.foreground.set(100)
	for i := 0; i < 10; i++ {
		f.signal()
		f.scheduler.Kick()
	}

	// the burst lands inside the debounce window, so it's deferred into exactly one pass
	assert.Eventually(t, func() bool { return !f.muted(100) }, testWaitFor, testTick)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 2*passCalls, f.finder.totalSetCalls())
}

func TestSchedulerKick(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)

	require.NoError(t, f.scheduler.Start())
	require.True(t, f.muted(100))

	f.policy.set(NewPolicyConfig(nil, false, true))
	f.scheduler.Kick()

	assert.Eventually(t, func() bool { return !f.muted(100) }, testWaitFor, testTick)
}

func TestSchedulerStopUnmutesWithoutRestoring(t *testing.T) {
	f := newSchedulerFixture(t, 0, 20*time.Millisecond)

	f.finder.setExternally(100, true)

	require.NoError(t, f.scheduler.Start())
	require.True(t, f.muted(100))

	require.NoError(t, f.scheduler.Stop())

	assert.False(t, f.scheduler.Active())
	assert.False(t, f.muted(100), "the stop pass runs with the kill switch off")
	assert.Equal(t, 2, f.engine.RecordedSessions(), "the record outlives a stop")

	original, ok := f.engine.store.get(100)
	require.True(t, ok)
	assert.True(t, original)

	// no passes while idle, even with the watchdog running
	f.finder.setExternally(100, true)
	time.Sleep(80 * time.Millisecond)
	assert.True(t, f.muted(100))

	// stopping an idle scheduler is a no-op
	require.NoError(t, f.scheduler.Stop())
}

func TestSchedulerShutdownRestores(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)

	require.NoError(t, f.scheduler.Start())
	require.True(t, f.muted(100))

	require.NoError(t, f.scheduler.Shutdown())

	<-f.scheduler.done
	assert.False(t, f.scheduler.Active())
	assert.False(t, f.muted(100))
	assert.Equal(t, 0, f.engine.RecordedSessions())

	assert.ErrorIs(t, f.scheduler.Start(), errEngineShutdown)
	assert.ErrorIs(t, f.scheduler.Stop(), errEngineShutdown)
	assert.ErrorIs(t, f.scheduler.Shutdown(), errEngineShutdown)
}

func TestSchedulerShutdownReportsRestoreFailure(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)

	require.NoError(t, f.scheduler.Start())

	f.finder.lock.Lock()
	f.finder.sessions[0].setMuteErr = errFakeSessionAPI
	f.finder.lock.Unlock()

	assert.ErrorIs(t, f.scheduler.Shutdown(), errFakeSessionAPI)

	<-f.scheduler.done
	assert.False(t, f.scheduler.Active(), "the loop ends regardless")
}

func TestSchedulerForegroundFailureFallsBackToNoForeground(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)
	f.policy.set(NewPolicyConfig([]string{"other.exe"}, false, true))

	f.foreground.lock.Lock()
	f.foreground.err = errForegroundUnavailable
	f.foreground.lock.Unlock()

	require.NoError(t, f.scheduler.Start())

	// nothing is focused, so the listed app loses its exemption
	assert.True(t, f.muted(200))
	assert.Equal(t, uint32(0), f.scheduler.LastForeground())
}

func TestSchedulerStateSubscription(t *testing.T) {
	f := newSchedulerFixture(t, 0, testNever)
	changes := f.scheduler.SubscribeToStateChanges()

	require.NoError(t, f.scheduler.Start())
	assert.True(t, <-changes)

	require.NoError(t, f.scheduler.Stop())
	assert.False(t, <-changes)
}

func TestSchedulerWakeSignalRegisteredLate(t *testing.T) {
	signal := &wakeSignal{}
	finder := newFakeSessionFinder(&fakeSession{pid: 100}, &fakeSession{pid: 200})
	foreground := &fakeForeground{pid: 200}
	policy := &fakePolicySource{policy: NewPolicyConfig([]string{"game.exe"}, false, true)}
	engine := newTestEngine(t, finder, map[uint32]string{100: "game.exe", 200: "other.exe"})

	scheduler := newScheduler(zaptest.NewLogger(t).Sugar(), engine, foreground, policy,
		signal.channel, 0, 20*time.Millisecond, true)

	go scheduler.Run()
	t.Cleanup(func() {
		_ = scheduler.Shutdown()
		<-scheduler.done
	})

	// nothing registered yet: the loop runs off the watchdog alone
	require.NoError(t, scheduler.Start())
	assert.False(t, signal.post())

	signal.register()
	foreground.set(100)
	assert.True(t, signal.post())

	assert.Eventually(t, func() bool { return !finder.muted()[100] }, testWaitFor, testTick)
}
