package orchestrator

import (
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()
	id := snowflake.ID(1)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Lock(id)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := newKeyedMutex()

	releaseA := locks.Lock(snowflake.ID(1))
	// A held lock on one transaction must not block another.
	releaseB := locks.Lock(snowflake.ID(2))
	releaseB()
	releaseA()
}

func TestKeyedMutexRemovesIdleEntries(t *testing.T) {
	locks := newKeyedMutex()

	release := locks.Lock(snowflake.ID(7))
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
