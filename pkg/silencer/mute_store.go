package silencer

import (
	"fmt"
	"sync"
)

// muteStore remembers the mute flag a session had before the engine first overrode it.
// A pid is recorded at most once between two takes.
type muteStore struct {
	lock     sync.Mutex
	original map[uint32]bool
}

func newMuteStore() *muteStore {
	return &muteStore{
		original: make(map[uint32]bool),
	}
}

// recordIfAbsent stores current as pid's original flag unless one is already held.
// Returns true when a new record was created.
func (s *muteStore) recordIfAbsent(pid uint32, current bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.original[pid]; ok {
		return false
	}

	s.original[pid] = current
	return true
}

// take hands the whole record to the caller and leaves the store empty
func (s *muteStore) take() map[uint32]bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	taken := s.original
	s.original = make(map[uint32]bool)

	return taken
}

func (s *muteStore) get(pid uint32) (bool, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.original[pid]
	return v, ok
}

func (s *muteStore) len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.original)
}

func (s *muteStore) String() string {
	return fmt.Sprintf("<mute store: %d recorded sessions>", s.len())
}
