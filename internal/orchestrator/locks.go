package orchestrator

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// keyedMutex serializes all writes to a single transaction. Entries are
// refcounted and removed once the last holder unlocks, so the map does not
// grow with transaction volume.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[snowflake.ID]*lockEntry{}}
}

// Lock acquires the per-transaction lock and returns its release func.
func (k *keyedMutex) Lock(id snowflake.ID) func() {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
