package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/duplexrpc/duplex/logging"
)

// Handler describes an object exposing methods callable by the remote peer. Execute dispatches on
// the command's method name: it returns handled=false when the handler does not know the method,
// letting dispatch fall through to the next registered handler. A non-nil error marks the command
// as failed with a remote exception.
type Handler interface {
	Execute(cmd *Command) (returnValue json.RawMessage, handled bool, err error)
}

// Runner executes inbound commands against a set of registered handlers, consulting the peer's
// result cache first so that duplicate transmissions of the same command invoke user code at most
// once.
type Runner struct {
	// handlers holds the registered handlers; dispatch is first-match in registration order.
	handlers []Handler

	// logger describes the Runner's log output.
	logger *logging.Logger
}

// NewRunner creates a Runner dispatching to the provided handlers in order.
func NewRunner(handlers []Handler, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.GlobalLogger
	}
	return &Runner{
		handlers: handlers,
		logger:   logger.NewSubLogger("module", "runner"),
	}
}

// Execute runs the given inbound command and returns its result. If the peer cache still holds a
// result under the same command ID, that result is returned verbatim and no handler runs. This is
// what makes execution at-most-once under retried transmissions. The produced result is cached
// before it is returned.
func (r *Runner) Execute(cache *PeerCache, cmd *Command) *CommandResult {
	if cached, ok := cache.GetCachedResult(cmd.ID); ok {
		r.logger.Debug("Returning cached result for duplicate command ", cmd.ID)
		return cached
	}

	result := r.dispatch(cmd)
	cache.CacheResult(result)
	return result
}

// dispatch invokes the first handler that recognizes the command's method name. Handler errors
// and panics both become remote-exception failures; unknown methods fail as Other.
func (r *Runner) dispatch(cmd *Command) (result *CommandResult) {
	// User code runs on this task; a panicking handler must not take the engine loop down with it.
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("Handler panicked while executing method ", cmd.MethodName)
			result = NewFailureResult(cmd.ID, FailureRemoteException, fmt.Sprintf("handler panic: %v", recovered))
		}
	}()

	for _, handler := range r.handlers {
		returnValue, handled, err := handler.Execute(cmd)
		if !handled {
			continue
		}
		if err != nil {
			return NewFailureResult(cmd.ID, FailureRemoteException, err.Error())
		}
		return NewSuccessResult(cmd.ID, returnValue)
	}

	return NewFailureResult(cmd.ID, FailureOther, fmt.Sprintf("method not found: %s", cmd.MethodName))
}
