package silencer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMuteStoreRecordsOnce(t *testing.T) {
	store := newMuteStore()

	assert.True(t, store.recordIfAbsent(10, true))
	assert.False(t, store.recordIfAbsent(10, false))

	original, ok := store.get(10)
	assert.True(t, ok)
	assert.True(t, original, "the first recorded flag wins")

	_, ok = store.get(11)
	assert.False(t, ok)
}

func TestMuteStoreTake(t *testing.T) {
	store := newMuteStore()
	store.recordIfAbsent(10, true)
	store.recordIfAbsent(20, false)

	taken := store.take()

	assert.Equal(t, map[uint32]bool{10: true, 20: false}, taken)
	assert.Equal(t, 0, store.len())

	// a new lifetime records afresh
	assert.True(t, store.recordIfAbsent(10, false))
	assert.Empty(t, newMuteStore().take())
}

func TestMuteStoreConcurrentRecord(t *testing.T) {
	store := newMuteStore()

	var wg sync.WaitGroup
	created := make(chan bool, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created <- store.recordIfAbsent(7, i%2 == 0)
		}(i)
	}

	wg.Wait()
	close(created)

	count := 0
	for c := range created {
		if c {
			count++
		}
	}

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, store.len())
}
