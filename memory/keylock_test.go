package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLock_MutualExclusion(t *testing.T) {
	kl := newKeyLock()
	key := dedupKey("agents", "hash-1")

	kl.Lock(key)

	acquired := make(chan struct{})
	go func() {
		kl.Lock(key)
		close(acquired)
		kl.Unlock(key)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while key was held")
	case <-time.After(50 * time.Millisecond):
	}

	kl.Unlock(key)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
}

func TestKeyLock_IndependentKeys(t *testing.T) {
	kl := newKeyLock()

	kl.Lock(dedupKey("agents", "hash-1"))
	defer kl.Unlock(dedupKey("agents", "hash-1"))

	acquired := make(chan struct{})
	go func() {
		kl.Lock(dedupKey("notes", "hash-1"))
		defer kl.Unlock(dedupKey("notes", "hash-1"))
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different key blocked by unrelated holder")
	}
}

func TestKeyLock_EntriesCleanedUp(t *testing.T) {
	kl := newKeyLock()

	for i := 0; i < 3; i++ {
		key := dedupKey("agents", "hash-1")
		kl.Lock(key)
		kl.Unlock(key)
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()
	assert.Empty(t, kl.entries)
}

func TestKeyLock_UnlockUnheldPanics(t *testing.T) {
	kl := newKeyLock()
	require.Panics(t, func() { kl.Unlock("never-locked") })
}

func TestDedupKey(t *testing.T) {
	assert.NotEqual(t, dedupKey("a", "bc"), dedupKey("ab", "c"))
	assert.Equal(t, dedupKey("agents", "h1"), dedupKey("agents", "h1"))
	assert.NotEqual(t, dedupKey("agents", "h1"), dedupKey("agents", "h2"))
	assert.NotEqual(t, dedupKey("agents", "h1"), dedupKey("notes", "h1"))
}
