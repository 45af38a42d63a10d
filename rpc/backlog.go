package rpc

import "sync"

// Backlog is a pluggable store of commands awaiting retry. The engine consults it on Start to
// repopulate pending work, and hands it commands whose failure was an RPC problem and whose retry
// strategy allows re-execution. Implementations must preserve per-peer enqueue order, tolerate
// concurrent Enqueue calls, and serialise their own durability writes.
type Backlog interface {
	// Enqueue stores a command for later retry. For commands with the RetryWhenOnline strategy, a
	// pending command for the same method is replaced rather than appended (latest-writer-wins).
	Enqueue(peerID string, cmd *Command) error

	// PeekAll returns the stored commands for a peer in enqueue order, without removing them.
	PeekAll(peerID string) ([]*Command, error)

	// Remove deletes the stored command with the given ID, if present.
	Remove(peerID string, commandID int64) error
}

// MemoryBacklog is an in-process Backlog. Its contents do not survive a restart; it serves hosts
// that want retry behavior without durability, and it is the default when no store is configured.
type MemoryBacklog struct {
	lock    sync.Mutex
	entries map[string][]*Command
}

// NewMemoryBacklog creates an empty in-process backlog.
func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{entries: make(map[string][]*Command)}
}

// Enqueue stores a command for later retry, applying latest-writer-wins per method for the
// RetryWhenOnline strategy.
func (b *MemoryBacklog) Enqueue(peerID string, cmd *Command) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	pending := b.entries[peerID]
	if cmd.RetryStrategy == RetryWhenOnline {
		kept := pending[:0]
		for _, existing := range pending {
			if existing.MethodName != cmd.MethodName {
				kept = append(kept, existing)
			}
		}
		pending = kept
	}
	b.entries[peerID] = append(pending, cmd)
	return nil
}

// PeekAll returns the stored commands for a peer in enqueue order.
func (b *MemoryBacklog) PeekAll(peerID string) ([]*Command, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	pending := b.entries[peerID]
	out := make([]*Command, len(pending))
	copy(out, pending)
	return out, nil
}

// Remove deletes the stored command with the given ID, if present.
func (b *MemoryBacklog) Remove(peerID string, commandID int64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	pending := b.entries[peerID]
	for i, cmd := range pending {
		if cmd.ID == commandID {
			b.entries[peerID] = append(pending[:i], pending[i+1:]...)
			return nil
		}
	}
	return nil
}
