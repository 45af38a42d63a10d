package rpc

import (
	"encoding/json"
	"time"
)

// FailureType classifies why a command did not produce a return value. The type drives retry
// eligibility: only RPC problems (timeouts, transport errors, local queue exhaustion) may be
// retried, since they are attributed to delivery rather than to the remote handler.
type FailureType string

const (
	// FailureTimeout indicates the waiter's deadline elapsed before a result arrived.
	FailureTimeout FailureType = "Timeout"

	// FailureQueueOverflow indicates the peer's command queue was over its bound.
	FailureQueueOverflow FailureType = "QueueOverflow"

	// FailureRemoteException indicates the remote handler executed the command and raised an error.
	// Commands that failed this way are never retried, as re-running them is unsafe.
	FailureRemoteException FailureType = "RemoteException"

	// FailureNetworkProblem indicates the transport could not reach the peer.
	FailureNetworkProblem FailureType = "NetworkProblem"

	// FailureObsolete indicates a result fell out of the dedup cache before the waiter consumed it.
	FailureObsolete FailureType = "Obsolete"

	// FailureOther covers everything else (malformed bodies, shutdown, unknown methods).
	FailureOther FailureType = "Other"
)

// IsRPCProblem returns true if the failure type is attributed to transport or local resource
// exhaustion rather than to the remote handler. Only these failures are retry eligible.
func (t FailureType) IsRPCProblem() bool {
	return t == FailureTimeout || t == FailureNetworkProblem || t == FailureQueueOverflow
}

// Failure describes why a command failed, carried inside a CommandResult.
type Failure struct {
	// Type classifies the failure.
	Type FailureType `json:"Type"`

	// Message is a human-readable description of the failure.
	Message string `json:"Message"`
}

// CommandResult describes the outcome of a single Command execution. Exactly one of ReturnValue
// and Failure is set, discriminated by Success.
type CommandResult struct {
	// ID is the identifier of the command this result belongs to.
	ID int64 `json:"ID"`

	// Success indicates whether the command produced a return value.
	Success bool `json:"Success"`

	// ReturnValue holds the JSON-encoded return value of the method, if it succeeded.
	ReturnValue json.RawMessage `json:"ReturnValue"`

	// Failure holds the failure description, if the command did not succeed.
	Failure *Failure `json:"Failure"`

	// completedAt records when the result was produced.
	completedAt time.Time
}

// NewSuccessResult creates a successful CommandResult for the given command ID, carrying the
// provided JSON-encoded return value.
func NewSuccessResult(id int64, returnValue json.RawMessage) *CommandResult {
	return &CommandResult{
		ID:          id,
		Success:     true,
		ReturnValue: returnValue,
		completedAt: time.Now(),
	}
}

// NewFailureResult creates a failed CommandResult for the given command ID with the provided
// failure type and message.
func NewFailureResult(id int64, failureType FailureType, message string) *CommandResult {
	return &CommandResult{
		ID:          id,
		Success:     false,
		Failure:     &Failure{Type: failureType, Message: message},
		completedAt: time.Now(),
	}
}

// CompletedAt returns when the result was produced. Results decoded off the wire carry no
// completion time of their own.
func (r *CommandResult) CompletedAt() time.Time {
	return r.completedAt
}

// Err returns nil for a successful result, or an *Error carrying the result's failure type and
// message otherwise.
func (r *CommandResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Failure == nil {
		return NewError(FailureOther, "command failed without a failure description")
	}
	return NewError(r.Failure.Type, r.Failure.Message)
}
