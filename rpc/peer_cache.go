package rpc

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PeerCache buffers one peer's outbound commands and remembers the results recently produced for
// that peer's inbound commands. The queue is strictly FIFO and exposes a blocking head-of-queue
// read: the head is returned without being dequeued so it stays visible to retried transmissions
// that lost their response to a network failure. The result cache is an LRU keyed by command ID,
// used solely to make command execution at-most-once under retries.
type PeerCache struct {
	// peerID identifies the remote peer this cache belongs to. The empty string denotes "the
	// server" (the view a client engine has of its single peer).
	peerID string

	// lock guards the queue and closed flag; waiters block on cond.
	lock sync.Mutex
	cond *sync.Cond

	// queue holds pending outbound commands in enqueue order. queue[0] is the current command.
	queue []*Command

	// queueBound is the maximum number of commands the queue buffers.
	queueBound int

	// results caches recently produced results by command ID for deduplication of retries.
	results *lru.Cache[int64, *CommandResult]

	// closed indicates the cache was shut down; blocked waiters are released.
	closed bool
}

// NewPeerCache creates a cache for the given peer with the provided queue bound and result cache
// capacity.
func NewPeerCache(peerID string, queueBound int, resultCapacity int) (*PeerCache, error) {
	results, err := lru.New[int64, *CommandResult](resultCapacity)
	if err != nil {
		return nil, err
	}
	cache := &PeerCache{
		peerID:     peerID,
		queue:      make([]*Command, 0, queueBound),
		queueBound: queueBound,
		results:    results,
	}
	cache.cond = sync.NewCond(&cache.lock)
	return cache, nil
}

// PeerID returns the identifier of the peer this cache belongs to.
func (c *PeerCache) PeerID() string {
	return c.peerID
}

// Enqueue appends a command to the queue and wakes any waiter blocked in GetCurrentCommand.
// Returns a queue-overflow error if the queue is at its bound.
func (c *PeerCache) Enqueue(cmd *Command) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return NewError(FailureOther, "peer cache is closed")
	}
	if len(c.queue) >= c.queueBound {
		return NewError(FailureQueueOverflow, fmt.Sprintf("peer queue is over its bound of %d commands", c.queueBound))
	}

	c.queue = append(c.queue, cmd)
	c.cond.Broadcast()
	return nil
}

// GetCurrentCommand returns the head of the queue without dequeuing it, blocking until a command
// is available, the timeout elapses, or the cache is closed. A negative timeout blocks forever.
// Returns nil when no command became available.
func (c *PeerCache) GetCurrentCommand(timeout time.Duration) *Command {
	c.lock.Lock()
	defer c.lock.Unlock()

	// A timer wakes all waiters when the deadline passes; each waiter rechecks its own expiry
	// flag, so unrelated waiters simply go back to sleep.
	var expired bool
	if timeout >= 0 {
		timer := time.AfterFunc(timeout, func() {
			c.lock.Lock()
			expired = true
			c.lock.Unlock()
			c.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for len(c.queue) == 0 && !expired && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

// FinishCurrentCommand pops the given command off the head of the queue. If the head has changed
// since the command was handed out, this is a no-op.
func (c *PeerCache) FinishCurrentCommand(cmd *Command) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if len(c.queue) == 0 || c.queue[0] != cmd {
		return
	}
	c.queue = c.queue[1:]
}

// PendingCount returns the number of commands currently buffered in the queue.
func (c *PeerCache) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.queue)
}

// CacheResult inserts a result into the dedup cache under its command ID, evicting the oldest
// entry past capacity.
func (c *PeerCache) CacheResult(result *CommandResult) {
	c.results.Add(result.ID, result)
}

// GetCachedResult returns the cached result for the given command ID, if it is still retained.
func (c *PeerCache) GetCachedResult(id int64) (*CommandResult, bool) {
	return c.results.Get(id)
}

// Close releases any waiters blocked in GetCurrentCommand. Commands still queued are completed
// with a shutdown failure so their awaiting callers do not hang.
func (c *PeerCache) Close() {
	c.lock.Lock()
	pending := c.queue
	c.queue = nil
	c.closed = true
	c.lock.Unlock()

	for _, cmd := range pending {
		cmd.Finish(NewFailureResult(cmd.ID, FailureOther, "shutdown"))
	}
	c.cond.Broadcast()
}
