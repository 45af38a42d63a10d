package rpc

import "github.com/duplexrpc/duplex/events"

// CommandEnqueuedEvent describes an event where a command was appended to a peer's outbound queue.
type CommandEnqueuedEvent struct {
	// PeerID identifies the peer the command is directed at. Empty means "the server".
	PeerID string

	// Command is the enqueued command.
	Command *Command
}

// CommandCompletedEvent describes an event where a command reached a terminal state and its result
// was recorded.
type CommandCompletedEvent struct {
	// PeerID identifies the peer the command was directed at. Empty means "the server".
	PeerID string

	// Command is the completed command.
	Command *Command

	// Result is the result the command completed with.
	Result *CommandResult
}

// CommandBackloggedEvent describes an event where a command was handed to the retry backlog after
// an RPC-problem failure.
type CommandBackloggedEvent struct {
	// PeerID identifies the peer the command is directed at. Empty means "the server".
	PeerID string

	// Command is the backlogged command.
	Command *Command
}

// EngineEvents defines event emitters for all events that can be emitted by an engine half.
type EngineEvents struct {
	// CommandEnqueued emits events when a command is appended to a peer's outbound queue.
	CommandEnqueued events.EventEmitter[CommandEnqueuedEvent]

	// CommandCompleted emits events when a command reaches a terminal state.
	CommandCompleted events.EventEmitter[CommandCompletedEvent]

	// CommandBacklogged emits events when a command is handed to the retry backlog.
	CommandBacklogged events.EventEmitter[CommandBackloggedEvent]
}
