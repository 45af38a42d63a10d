package rpc

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCommand creates a command with the given ID for direct cache manipulation in tests.
func newTestCommand(t *testing.T, id int64, method string) *Command {
	cmd, err := NewCommand(method)
	require.NoError(t, err)
	cmd.ID = id
	return cmd
}

// TestPeerCacheFIFOOrder ensures commands come off the head of the queue in enqueue order.
func TestPeerCacheFIFOOrder(t *testing.T) {
	cache, err := NewPeerCache("", 10, 100)
	require.NoError(t, err)

	// Enqueue a few commands and verify the head advances through them in order.
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, cache.Enqueue(newTestCommand(t, i, "Method")))
	}
	for i := int64(1); i <= 3; i++ {
		head := cache.GetCurrentCommand(0)
		require.NotNil(t, head)
		assert.EqualValues(t, i, head.ID)

		// The head must stay stable until it is explicitly finished.
		assert.Same(t, head, cache.GetCurrentCommand(0))
		cache.FinishCurrentCommand(head)
	}
	assert.Nil(t, cache.GetCurrentCommand(0))
}

// TestPeerCacheQueueOverflow ensures Enqueue fails with a queue-overflow failure once the queue is
// at its bound.
func TestPeerCacheQueueOverflow(t *testing.T) {
	cache, err := NewPeerCache("", 2, 100)
	require.NoError(t, err)

	require.NoError(t, cache.Enqueue(newTestCommand(t, 1, "Method")))
	require.NoError(t, cache.Enqueue(newTestCommand(t, 2, "Method")))

	err = cache.Enqueue(newTestCommand(t, 3, "Method"))
	require.Error(t, err)
	assert.Equal(t, FailureQueueOverflow, FailureTypeOf(err))
	assert.Equal(t, 2, cache.PendingCount())

	// Finishing the head frees a slot again.
	cache.FinishCurrentCommand(cache.GetCurrentCommand(0))
	assert.NoError(t, cache.Enqueue(newTestCommand(t, 3, "Method")))
}

// TestPeerCacheBlockingRead ensures GetCurrentCommand blocks until an enqueue wakes it, and that
// a timed-out wait returns nothing.
func TestPeerCacheBlockingRead(t *testing.T) {
	cache, err := NewPeerCache("", 10, 100)
	require.NoError(t, err)

	// A bounded wait on an empty queue returns nil after the timeout.
	start := time.Now()
	assert.Nil(t, cache.GetCurrentCommand(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// A waiter is woken by a concurrent enqueue.
	received := make(chan *Command, 1)
	go func() {
		received <- cache.GetCurrentCommand(-1)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cache.Enqueue(newTestCommand(t, 7, "Method")))

	select {
	case head := <-received:
		require.NotNil(t, head)
		assert.EqualValues(t, 7, head.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by enqueue")
	}
}

// TestPeerCacheFinishDefensive ensures finishing a command that is no longer the head is a no-op.
func TestPeerCacheFinishDefensive(t *testing.T) {
	cache, err := NewPeerCache("", 10, 100)
	require.NoError(t, err)

	first := newTestCommand(t, 1, "Method")
	second := newTestCommand(t, 2, "Method")
	require.NoError(t, cache.Enqueue(first))
	require.NoError(t, cache.Enqueue(second))

	cache.FinishCurrentCommand(first)

	// A repeated finish for the already-popped head must not pop its successor.
	cache.FinishCurrentCommand(first)
	head := cache.GetCurrentCommand(0)
	require.NotNil(t, head)
	assert.EqualValues(t, 2, head.ID)
}

// TestPeerCacheResultEviction ensures the result cache retains the most recent results only.
func TestPeerCacheResultEviction(t *testing.T) {
	cache, err := NewPeerCache("", 2, 2)
	require.NoError(t, err)

	cache.CacheResult(NewSuccessResult(1, nil))
	cache.CacheResult(NewSuccessResult(2, nil))
	cache.CacheResult(NewSuccessResult(3, nil))

	_, ok := cache.GetCachedResult(1)
	assert.False(t, ok)
	_, ok = cache.GetCachedResult(2)
	assert.True(t, ok)
	_, ok = cache.GetCachedResult(3)
	assert.True(t, ok)
}

// TestPeerCacheClose ensures closing the cache releases blocked waiters and fails the queued
// commands' awaiting callers.
func TestPeerCacheClose(t *testing.T) {
	cache, err := NewPeerCache("", 10, 100)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		cache.GetCurrentCommand(-1)
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)
	cache.Close()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by close")
	}

	// A command still queued when its cache closes fails its awaiting caller with shutdown.
	closing, err := NewPeerCache("", 10, 100)
	require.NoError(t, err)
	pending := newTestCommand(t, 1, "Method")
	require.NoError(t, closing.Enqueue(pending))
	closing.Close()

	_, err = pending.WaitForResult(time.Second, nil)
	require.Error(t, err)
	assert.Equal(t, FailureOther, FailureTypeOf(err))
}

// TestPeerCacheConcurrentAccess tests for race conditions between concurrent producers, consumers
// and result readers.
func TestPeerCacheConcurrentAccess(t *testing.T) {
	cache, err := NewPeerCache("", 1000, 100)
	require.NoError(t, err)

	writers := 5
	numWrites := 2_000
	readers := 5
	numReads := 2_000

	var wg sync.WaitGroup
	wg.Add(writers + readers + 1)

	write := func(r *rand.Rand, writesRem int) {
		for writesRem > 0 {
			id := int64(r.Uint32())
			_ = cache.Enqueue(&Command{ID: id, MethodName: fmt.Sprintf("Method%d", id%7)})
			cache.CacheResult(NewSuccessResult(id, nil))
			writesRem--
		}
		wg.Add(-1)
	}

	read := func(r *rand.Rand, readsRem int) {
		for readsRem > 0 {
			_, _ = cache.GetCachedResult(int64(r.Uint32()))
			readsRem--
		}
		wg.Add(-1)
	}

	// One consumer drains heads while the producers and readers hammer the cache.
	go func() {
		for i := 0; i < writers*numWrites/2; i++ {
			if head := cache.GetCurrentCommand(0); head != nil {
				cache.FinishCurrentCommand(head)
			}
		}
		wg.Add(-1)
	}()

	for i := 0; i < readers; i++ {
		go read(rand.New(rand.NewSource(int64(i))), numReads)
	}
	for i := 0; i < writers; i++ {
		go write(rand.New(rand.NewSource(int64(i))), numWrites)
	}
	wg.Wait()
}
