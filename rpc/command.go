package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// RetryStrategy determines what the engine does with a command whose failure was an RPC problem
// (timeout, network problem, queue overflow). Failures raised by the remote handler itself are
// never retried under any strategy.
type RetryStrategy string

const (
	// RetryNone indicates the command is not retried after any failure.
	RetryNone RetryStrategy = "None"

	// Retry indicates the command is re-enqueued after an RPC-problem failure, preserving its
	// order relative to other retried commands.
	Retry RetryStrategy = "Retry"

	// RetryWhenOnline behaves like Retry, except a fresh command replaces any pending command for
	// the same method (latest-writer-wins). Intended for heartbeat-style state updates where only
	// the last value matters.
	RetryWhenOnline RetryStrategy = "RetryWhenOnline"
)

// CommandState describes where a command currently is in its lifecycle.
type CommandState int

const (
	// CommandStateEnqueued indicates the command sits in a peer queue awaiting its first send.
	CommandStateEnqueued CommandState = iota

	// CommandStateSent indicates at least one transmission attempt was made. The command stays in
	// this state across transport failures until a result arrives or its timeout forces a failure.
	CommandStateSent

	// CommandStateSuccessful is a terminal state: the command produced a return value.
	CommandStateSuccessful

	// CommandStateFailed is a terminal state: the command produced a failure.
	CommandStateFailed
)

// Command describes a single request for a remote method invocation. Commands are identified by a
// monotonically-increasing ID assigned by their originating engine; arguments are immutable once
// the command is enqueued.
type Command struct {
	// ID uniquely identifies the command within its originator.
	ID int64 `json:"ID"`

	// MethodName names the remote method to invoke.
	MethodName string `json:"MethodName"`

	// MethodParameters holds the ordered, JSON-encoded positional arguments of the method. Each
	// element is an opaque blob the dispatcher pulls by index.
	MethodParameters []json.RawMessage `json:"MethodParameters"`

	// RetryStrategy determines retry behavior after RPC-problem failures.
	RetryStrategy RetryStrategy `json:"RetryStrategy"`

	// TimeoutMs is the individual deadline for this command's waiter, in milliseconds.
	TimeoutMs int `json:"TimeoutMs"`

	// stateLock guards state transitions and lazy initialization of the result channel.
	stateLock sync.Mutex

	// state tracks the command through its lifecycle. Terminal states are absorbing.
	state CommandState

	// resultChan delivers the result to the (at most one) awaiting caller. It is nil for commands
	// decoded off the wire, which have no local waiter.
	resultChan chan *CommandResult
}

// NewCommand constructs a command for the given method, JSON-encoding each positional parameter.
// The caller is expected to assign an ID before enqueuing; engines do this via their own counters.
func NewCommand(methodName string, params ...any) (*Command, error) {
	encoded := make([]json.RawMessage, len(params))
	for i, param := range params {
		data, err := json.Marshal(param)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		encoded[i] = data
	}
	return &Command{
		MethodName:       methodName,
		MethodParameters: encoded,
		RetryStrategy:    RetryNone,
		resultChan:       make(chan *CommandResult, 1),
	}, nil
}

// Param decodes the positional parameter at the given index into v.
func (c *Command) Param(index int, v any) error {
	if index < 0 || index >= len(c.MethodParameters) {
		return NewError(FailureOther, fmt.Sprintf("method '%s' has no parameter at index %d", c.MethodName, index))
	}
	if err := json.Unmarshal(c.MethodParameters[index], v); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// State returns the command's current lifecycle state.
func (c *Command) State() CommandState {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	return c.state
}

// MarkSent transitions the command from Enqueued to Sent on its first transmission attempt.
// Repeated transmissions of the same command leave the state untouched, as do calls on commands
// that already reached a terminal state.
func (c *Command) MarkSent() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.state == CommandStateEnqueued {
		c.state = CommandStateSent
	}
}

// Finish records the command's result, transitioning it to its terminal state and waking any
// awaiting caller. Terminal states are absorbing: once a result has been recorded, later calls
// are no-ops, so a late remote result cannot overwrite a locally-raised timeout.
func (c *Command) Finish(result *CommandResult) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.state == CommandStateSuccessful || c.state == CommandStateFailed {
		return
	}
	if result.Success {
		c.state = CommandStateSuccessful
	} else {
		c.state = CommandStateFailed
	}

	// The channel is buffered for exactly one result, so delivery never blocks. Commands decoded
	// off the wire carry no channel at all.
	if c.resultChan != nil {
		select {
		case c.resultChan <- result:
		default:
		}
	}
}

// WaitForResult blocks until the command's result arrives, the timeout elapses, or cancel is
// closed. On success it returns the JSON-encoded return value; all other outcomes surface as an
// *Error carrying the failure classification. The local timeout is the one transition to Failed
// that needs no response from the peer: the command is finished with a timeout failure, and a
// late remote result is absorbed. A timed-out command stays in the peer queue and may still
// execute remotely; the engine cannot cancel a remote execution.
func (c *Command) WaitForResult(timeout time.Duration, cancel <-chan struct{}) (json.RawMessage, error) {
	if c.resultChan == nil {
		return nil, NewError(FailureOther, "command has no awaitable result")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-c.resultChan:
		if err := result.Err(); err != nil {
			return nil, err
		}
		return result.ReturnValue, nil
	case <-timer.C:
		message := fmt.Sprintf("no result for method '%s' within %s", c.MethodName, timeout)
		c.Finish(NewFailureResult(c.ID, FailureTimeout, message))
		return nil, NewError(FailureTimeout, message)
	case <-cancel:
		return nil, NewError(FailureOther, "shutdown")
	}
}

// ensureAwaitable (re)arms the command's result channel. Commands restored from a backlog have
// been decoded from storage and need a fresh channel and a reset state before re-enqueueing.
func (c *Command) ensureAwaitable() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	c.state = CommandStateEnqueued
	if c.resultChan == nil {
		c.resultChan = make(chan *CommandResult, 1)
	}
}

// Timeout returns the command's deadline as a duration, falling back to the provided default when
// the command does not carry one.
func (c *Command) Timeout(defaultMs int) time.Duration {
	ms := c.TimeoutMs
	if ms <= 0 {
		ms = defaultMs
	}
	return time.Duration(ms) * time.Millisecond
}
