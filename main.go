package main

import (
	"os"

	"github.com/duplexrpc/duplex/cmd"
	"github.com/duplexrpc/duplex/cmd/exitcodes"
)

func main() {
	// Run our root CLI command, which contains all underlying command logic and will handle
	// parsing/invocation.
	err := cmd.Execute()

	// Determine the exit code from the error and exit with it
	innerErr, exitCode := exitcodes.GetInnerErrorAndExitCode(err)
	if innerErr != nil {
		os.Stderr.WriteString(innerErr.Error() + "\n")
	}
	os.Exit(exitCode)
}
