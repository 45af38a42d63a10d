package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duplexrpc/duplex/logging"
	"github.com/duplexrpc/duplex/version"
)

// rootCmd represents the root CLI command object which all other commands stem from.
var rootCmd = &cobra.Command{
	Use:     "duplex",
	Version: version.GetInfo().Short(),
	Short:   "A bidirectional RPC engine for firewall-bound clients",
	Long:    "duplex lets a server and its firewall-bound clients invoke each other's methods over plain HTTP long polling",
}

// cmdLogger is the logger that will be used for the cmd package
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true, make([]io.Writer, 0)...)

// Execute provides an exportable function to invoke the CLI.
// Returns an error if one was encountered.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}
