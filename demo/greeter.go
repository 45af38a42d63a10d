package demo

import (
	"encoding/json"
	"fmt"

	"github.com/duplexrpc/duplex/rpc"
)

// Greeter exposes greeting methods to the remote peer. It can be registered on either engine
// half; a server greets calling clients, a client greets a server calling back over the long poll.
type Greeter struct{}

// NewGreeter creates a Greeter handler.
func NewGreeter() *Greeter {
	return &Greeter{}
}

// Execute dispatches greeting methods by name.
func (g *Greeter) Execute(cmd *rpc.Command) (json.RawMessage, bool, error) {
	switch cmd.MethodName {
	case "SayHello":
		var name string
		if err := cmd.Param(0, &name); err != nil {
			return nil, true, err
		}
		greeting, err := json.Marshal(fmt.Sprintf("Hello, %s!", name))
		return greeting, true, err
	case "SayGoodbye":
		var name string
		if err := cmd.Param(0, &name); err != nil {
			return nil, true, err
		}
		farewell, err := json.Marshal(fmt.Sprintf("Goodbye, %s.", name))
		return farewell, true, err
	default:
		return nil, false, nil
	}
}
