package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCommandStateMachine ensures a command moves Enqueued -> Sent -> terminal exactly once and
// that terminal states absorb later transitions.
func TestCommandStateMachine(t *testing.T) {
	cmd, err := NewCommand("Method", 1, "two")
	require.NoError(t, err)
	cmd.ID = 1
	assert.Equal(t, CommandStateEnqueued, cmd.State())

	cmd.MarkSent()
	assert.Equal(t, CommandStateSent, cmd.State())

	// A retransmission does not change the state.
	cmd.MarkSent()
	assert.Equal(t, CommandStateSent, cmd.State())

	cmd.Finish(NewSuccessResult(1, []byte(`5`)))
	assert.Equal(t, CommandStateSuccessful, cmd.State())

	// Terminal states are absorbing: a late failure cannot overwrite the recorded result.
	cmd.Finish(NewFailureResult(1, FailureTimeout, "late"))
	assert.Equal(t, CommandStateSuccessful, cmd.State())

	returnValue, err := cmd.WaitForResult(time.Second, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `5`, string(returnValue))
}

// TestCommandFailureResult ensures a failed result surfaces as a typed error carrying the failure
// classification.
func TestCommandFailureResult(t *testing.T) {
	cmd, err := NewCommand("Method")
	require.NoError(t, err)
	cmd.ID = 2

	cmd.MarkSent()
	cmd.Finish(NewFailureResult(2, FailureRemoteException, "handler blew up"))
	assert.Equal(t, CommandStateFailed, cmd.State())

	_, err = cmd.WaitForResult(time.Second, nil)
	require.Error(t, err)
	assert.Equal(t, FailureRemoteException, FailureTypeOf(err))
	assert.Contains(t, err.Error(), "handler blew up")
}

// TestCommandWaitTimeout ensures an absent result times the waiter out and forces the command to
// Failed; it is the one transition to a terminal state that needs no response from the peer.
func TestCommandWaitTimeout(t *testing.T) {
	cmd, err := NewCommand("Method")
	require.NoError(t, err)
	cmd.ID = 3
	cmd.MarkSent()

	_, err = cmd.WaitForResult(30*time.Millisecond, nil)
	require.Error(t, err)
	assert.Equal(t, FailureTimeout, FailureTypeOf(err))
	assert.Equal(t, CommandStateFailed, cmd.State())

	// The command may still execute remotely, but its late result is absorbed by the terminal
	// state rather than resurrecting the command.
	cmd.Finish(NewSuccessResult(3, nil))
	assert.Equal(t, CommandStateFailed, cmd.State())
}

// TestCommandWaitCancel ensures a closed cancel channel completes the waiter with a shutdown
// failure.
func TestCommandWaitCancel(t *testing.T) {
	cmd, err := NewCommand("Method")
	require.NoError(t, err)
	cmd.ID = 4

	cancel := make(chan struct{})
	close(cancel)

	_, err = cmd.WaitForResult(time.Second, cancel)
	require.Error(t, err)
	assert.Equal(t, FailureOther, FailureTypeOf(err))
	assert.Contains(t, err.Error(), "shutdown")
}

// TestCommandParams ensures positional parameters decode by index and out-of-range indexes fail.
func TestCommandParams(t *testing.T) {
	cmd, err := NewCommand("Method", "text", 42)
	require.NoError(t, err)

	var text string
	require.NoError(t, cmd.Param(0, &text))
	assert.Equal(t, "text", text)

	var number int
	require.NoError(t, cmd.Param(1, &number))
	assert.Equal(t, 42, number)

	var missing string
	assert.Error(t, cmd.Param(2, &missing))
}

// TestCommandTimeoutFallback ensures commands without their own deadline fall back to the engine
// default.
func TestCommandTimeoutFallback(t *testing.T) {
	cmd, err := NewCommand("Method")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cmd.Timeout(30_000))
	cmd.TimeoutMs = 1_000
	assert.Equal(t, time.Second, cmd.Timeout(30_000))
}
