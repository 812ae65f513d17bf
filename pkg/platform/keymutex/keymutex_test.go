package keymutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeySerializes(t *testing.T) {
	km := New()
	var counter int

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("item-a")
			defer km.Unlock("item-a")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	km := New()
	km.Lock("item-a")
	defer km.Unlock("item-a")

	done := make(chan struct{})
	go func() {
		km.Lock("item-b")
		km.Unlock("item-b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on unrelated key blocked")
	}
}

func TestEntriesReclaimedAfterUnlock(t *testing.T) {
	km := New()
	km.Lock("item-a")
	km.Unlock("item-a")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}

func TestWithLockPropagatesError(t *testing.T) {
	km := New()
	err := km.WithLock("item-a", func() error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// The key must be released even when fn fails.
	done := make(chan struct{})
	go func() {
		km.Lock("item-a")
		km.Unlock("item-a")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key still held after WithLock returned")
	}
}
