package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex()

	// Basic lock/unlock should not deadlock
	m.Lock("partner-1")
	m.Unlock("partner-1")

	// Empty key should work (defaults to shard 0)
	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("same-key")
			defer m.Unlock("same-key")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_WithRunsUnderLock(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.With("exchange-9", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestShardedMutex_DifferentKeysNoDeadlock(t *testing.T) {
	m := NewShardedMutex()
	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			m.Lock(key)
			defer m.Unlock(key)
		}("key" + string(rune('A'+i%26)))
	}
	wg.Wait()
}
