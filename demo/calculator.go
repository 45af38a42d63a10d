package demo

import (
	"encoding/json"
	"fmt"

	"github.com/duplexrpc/duplex/rpc"
)

// Calculator exposes basic arithmetic to the remote peer.
type Calculator struct{}

// NewCalculator creates a Calculator handler.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Execute dispatches arithmetic methods by name.
func (c *Calculator) Execute(cmd *rpc.Command) (json.RawMessage, bool, error) {
	switch cmd.MethodName {
	case "AddNumbers":
		var a, b float64
		if err := cmd.Param(0, &a); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(1, &b); err != nil {
			return nil, true, err
		}
		sum, err := json.Marshal(a + b)
		return sum, true, err
	case "DivideNumbers":
		var dividend, divisor float64
		if err := cmd.Param(0, &dividend); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(1, &divisor); err != nil {
			return nil, true, err
		}
		if divisor == 0 {
			return nil, true, fmt.Errorf("cannot divide %v by zero", dividend)
		}
		quotient, err := json.Marshal(dividend / divisor)
		return quotient, true, err
	default:
		return nil, false, nil
	}
}
