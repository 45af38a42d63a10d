package demo

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/duplexrpc/duplex/rpc"
)

// Bank exposes a small account ledger to the remote peer. Amounts are decimals so they round-trip
// exactly through the JSON arguments. The Heartbeat method is the intended target for clients
// pushing their state with the RetryWhenOnline strategy: only the latest heartbeat matters, so a
// reconnecting client replays exactly one.
type Bank struct {
	// lock guards accounts and heartbeats.
	lock sync.Mutex

	// accounts maps account names to their balances.
	accounts map[string]decimal.Decimal

	// heartbeats maps client IDs to the status they last reported.
	heartbeats map[string]string
}

// NewBank creates a Bank handler with an empty ledger.
func NewBank() *Bank {
	return &Bank{
		accounts:   make(map[string]decimal.Decimal),
		heartbeats: make(map[string]string),
	}
}

// Execute dispatches ledger methods by name.
func (b *Bank) Execute(cmd *rpc.Command) (json.RawMessage, bool, error) {
	switch cmd.MethodName {
	case "GetBalance":
		var account string
		if err := cmd.Param(0, &account); err != nil {
			return nil, true, err
		}
		b.lock.Lock()
		balance := b.accounts[account]
		b.lock.Unlock()
		encoded, err := json.Marshal(balance)
		return encoded, true, err

	case "Deposit":
		var account string
		var amount decimal.Decimal
		if err := cmd.Param(0, &account); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(1, &amount); err != nil {
			return nil, true, err
		}
		if amount.IsNegative() {
			return nil, true, fmt.Errorf("cannot deposit a negative amount (%s)", amount)
		}
		b.lock.Lock()
		b.accounts[account] = b.accounts[account].Add(amount)
		balance := b.accounts[account]
		b.lock.Unlock()
		encoded, err := json.Marshal(balance)
		return encoded, true, err

	case "Transfer":
		var from, to string
		var amount decimal.Decimal
		if err := cmd.Param(0, &from); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(1, &to); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(2, &amount); err != nil {
			return nil, true, err
		}
		b.lock.Lock()
		defer b.lock.Unlock()
		if b.accounts[from].LessThan(amount) {
			return nil, true, fmt.Errorf("insufficient funds: account '%s' holds %s", from, b.accounts[from])
		}
		b.accounts[from] = b.accounts[from].Sub(amount)
		b.accounts[to] = b.accounts[to].Add(amount)
		encoded, err := json.Marshal(b.accounts[from])
		return encoded, true, err

	case "Heartbeat":
		var clientID, status string
		if err := cmd.Param(0, &clientID); err != nil {
			return nil, true, err
		}
		if err := cmd.Param(1, &status); err != nil {
			return nil, true, err
		}
		b.lock.Lock()
		b.heartbeats[clientID] = status
		b.lock.Unlock()
		return nil, true, nil

	default:
		return nil, false, nil
	}
}

// Heartbeat returns the status last reported by the given client.
func (b *Bank) Heartbeat(clientID string) (string, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	status, ok := b.heartbeats[clientID]
	return status, ok
}
