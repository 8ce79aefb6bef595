package silencer

import (
	"errors"
	"sync"
)

var errFakeSessionAPI = errors.New("session api failure")

type fakeSession struct {
	pid uint32

	// guarded by the owning finder's lock
	muted      bool
	getMuteErr error
	setMuteErr error
	setCalls   int
}

func (s *fakeSession) ProcessID() uint32 {
	return s.pid
}

func (s *fakeSession) GetMute() (bool, error) {
	if s.getMuteErr != nil {
		return false, s.getMuteErr
	}

	return s.muted, nil
}

func (s *fakeSession) SetMute(v bool) error {
	s.setCalls++

	if s.setMuteErr != nil {
		return s.setMuteErr
	}

	s.muted = v
	return nil
}

type fakeSessionFinder struct {
	lock     sync.Mutex
	sessions []*fakeSession
	enumErr  error
	released bool
}

func newFakeSessionFinder(sessions ...*fakeSession) *fakeSessionFinder {
	return &fakeSessionFinder{sessions: sessions}
}

func (f *fakeSessionFinder) EachSession(fn func(session Session)) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.enumErr != nil {
		return f.enumErr
	}

	for _, s := range f.sessions {
		fn(s)
	}

	return nil
}

func (f *fakeSessionFinder) Release() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.released = true
	return nil
}

// muted returns every session's current flag keyed by pid
func (f *fakeSessionFinder) muted() map[uint32]bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	result := make(map[uint32]bool, len(f.sessions))
	for _, s := range f.sessions {
		result[s.pid] = s.muted
	}

	return result
}

// setExternally changes a session's flag the way another application would
func (f *fakeSessionFinder) setExternally(pid uint32, muted bool) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, s := range f.sessions {
		if s.pid == pid {
			s.muted = muted
		}
	}
}

func (f *fakeSessionFinder) totalSetCalls() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	total := 0
	for _, s := range f.sessions {
		total += s.setCalls
	}

	return total
}

type fakeResolver struct {
	names  map[uint32]string
	titles map[uint32]string
}

func (r *fakeResolver) ResolveName(pid uint32) string {
	if pid == systemSessionPID {
		return systemSessionName
	}

	if name, ok := r.names[pid]; ok {
		return name
	}

	return placeholderProcessName(pid)
}

func (r *fakeResolver) WindowTitle(pid uint32) string {
	return r.titles[pid]
}

type fakeForeground struct {
	lock sync.Mutex
	pid  uint32
	err  error
}

func (f *fakeForeground) Start() error { return nil }
func (f *fakeForeground) Stop() error  { return nil }

func (f *fakeForeground) ForegroundPID() (uint32, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.pid, f.err
}

func (f *fakeForeground) set(pid uint32) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.pid = pid
}

type fakePolicySource struct {
	lock   sync.Mutex
	policy PolicyConfig
}

func (p *fakePolicySource) Policy() PolicyConfig {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.policy
}

func (p *fakePolicySource) set(policy PolicyConfig) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.policy = policy
}

type fakeNotifier struct {
	lock   sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title string, message string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.titles = append(n.titles, title)
}
