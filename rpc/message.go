package rpc

// Message is the transient frame a pull exchange is built from: the result of the previously
// executed command travels up in the request, and the next command to execute travels back down in
// the response. Either side may be empty: a first pull carries no result, and an idle long poll
// returns no command.
type Message struct {
	// NextCommand is the next command the remote peer should execute, if any.
	NextCommand *Command `json:"NextCommand,omitempty"`

	// LastResult is the result of the previously delivered command, if any.
	LastResult *CommandResult `json:"LastResult,omitempty"`
}
