package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandler records how many times each method was invoked. It is safe for concurrent use,
// as engine tests execute it on HTTP handler goroutines while assertions poll the counts.
type countingHandler struct {
	lock        sync.Mutex
	methods     map[string]func(cmd *Command) (json.RawMessage, error)
	invocations map[string]int
}

func newCountingHandler() *countingHandler {
	return &countingHandler{
		methods:     make(map[string]func(cmd *Command) (json.RawMessage, error)),
		invocations: make(map[string]int),
	}
}

func (h *countingHandler) on(method string, fn func(cmd *Command) (json.RawMessage, error)) *countingHandler {
	h.methods[method] = fn
	return h
}

func (h *countingHandler) count(method string) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.invocations[method]
}

func (h *countingHandler) Execute(cmd *Command) (json.RawMessage, bool, error) {
	fn, ok := h.methods[cmd.MethodName]
	if !ok {
		return nil, false, nil
	}
	h.lock.Lock()
	h.invocations[cmd.MethodName]++
	h.lock.Unlock()
	returnValue, err := fn(cmd)
	return returnValue, true, err
}

// TestRunnerDispatch ensures the runner dispatches to the first handler recognizing the method, in
// registration order.
func TestRunnerDispatch(t *testing.T) {
	first := newCountingHandler().on("Shared", func(*Command) (json.RawMessage, error) {
		return []byte(`"first"`), nil
	})
	second := newCountingHandler().
		on("Shared", func(*Command) (json.RawMessage, error) {
			return []byte(`"second"`), nil
		}).
		on("OnlySecond", func(*Command) (json.RawMessage, error) {
			return []byte(`"second only"`), nil
		})

	runner := NewRunner([]Handler{first, second}, nil)
	cache, err := NewPeerCache("c1", 10, 100)
	require.NoError(t, err)

	result := runner.Execute(cache, newTestCommand(t, 1, "Shared"))
	require.True(t, result.Success)
	assert.JSONEq(t, `"first"`, string(result.ReturnValue))
	assert.Equal(t, 1, first.count("Shared"))
	assert.Equal(t, 0, second.count("Shared"))

	// Dispatch falls through to the next handler for methods the first does not know.
	result = runner.Execute(cache, newTestCommand(t, 2, "OnlySecond"))
	require.True(t, result.Success)
	assert.JSONEq(t, `"second only"`, string(result.ReturnValue))
}

// TestRunnerUnknownMethod ensures unknown methods fail as Other with a descriptive message.
func TestRunnerUnknownMethod(t *testing.T) {
	runner := NewRunner(nil, nil)
	cache, err := NewPeerCache("c1", 10, 100)
	require.NoError(t, err)

	result := runner.Execute(cache, newTestCommand(t, 1, "Nope"))
	require.False(t, result.Success)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureOther, result.Failure.Type)
	assert.Contains(t, result.Failure.Message, "method not found")
}

// TestRunnerRemoteException ensures handler errors and panics both become remote-exception
// failures.
func TestRunnerRemoteException(t *testing.T) {
	handler := newCountingHandler().
		on("Erroring", func(*Command) (json.RawMessage, error) {
			return nil, fmt.Errorf("cannot divide 1 by zero")
		}).
		on("Panicking", func(*Command) (json.RawMessage, error) {
			panic("boom")
		})

	runner := NewRunner([]Handler{handler}, nil)
	cache, err := NewPeerCache("c1", 10, 100)
	require.NoError(t, err)

	result := runner.Execute(cache, newTestCommand(t, 1, "Erroring"))
	require.False(t, result.Success)
	assert.Equal(t, FailureRemoteException, result.Failure.Type)
	assert.Contains(t, result.Failure.Message, "divide")

	result = runner.Execute(cache, newTestCommand(t, 2, "Panicking"))
	require.False(t, result.Success)
	assert.Equal(t, FailureRemoteException, result.Failure.Type)
	assert.Contains(t, result.Failure.Message, "boom")
}

// TestRunnerDeduplicatesRetries ensures a duplicate transmission of an already-executed command
// returns the cached result verbatim without invoking user code again.
func TestRunnerDeduplicatesRetries(t *testing.T) {
	handler := newCountingHandler().on("AddNumbers", func(cmd *Command) (json.RawMessage, error) {
		var a, b float64
		if err := cmd.Param(0, &a); err != nil {
			return nil, err
		}
		if err := cmd.Param(1, &b); err != nil {
			return nil, err
		}
		return json.Marshal(a + b)
	})

	runner := NewRunner([]Handler{handler}, nil)
	cache, err := NewPeerCache("c1", 10, 100)
	require.NoError(t, err)

	cmd, err := NewCommand("AddNumbers", 2, 3)
	require.NoError(t, err)
	cmd.ID = 3

	first := runner.Execute(cache, cmd)
	second := runner.Execute(cache, cmd)

	assert.Equal(t, 1, handler.count("AddNumbers"))
	assert.Same(t, first, second)
	assert.JSONEq(t, `5`, string(second.ReturnValue))

	// Failed executions are deduplicated the same way; the handler does not run again for a
	// replayed command that already failed.
	failing := newCountingHandler().on("Failing", func(*Command) (json.RawMessage, error) {
		return nil, fmt.Errorf("no")
	})
	runner = NewRunner([]Handler{failing}, nil)
	failCmd := newTestCommand(t, 4, "Failing")
	runner.Execute(cache, failCmd)
	runner.Execute(cache, failCmd)
	assert.Equal(t, 1, failing.count("Failing"))
}
