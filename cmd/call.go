package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/duplexrpc/duplex/cmd/exitcodes"
	"github.com/duplexrpc/duplex/demo"
	"github.com/duplexrpc/duplex/rpc"
)

// callCmd represents the command provider for invoking a method on the demo server
var callCmd = &cobra.Command{
	Use:               "call <method> [arg]...",
	Short:             "Invokes a method on the demo server",
	Long:              `Starts a client engine, invokes the given method on the server and prints its return value. Arguments are parsed as JSON, falling back to strings.`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: cmdValidCallArgs,
	RunE:              cmdRunCall,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// cmdValidCallArgs will return which flags are valid for dynamic completion for the call command
func cmdValidCallArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// Gather a list of flags that are available to be used in the current command but have not
	// been used yet
	var unusedFlags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	// Add all the flags allowed for the call command
	addCallFlags()

	// Add the call command and its associated flags to the root command
	rootCmd.AddCommand(callCmd)
}

// cmdRunCall executes the CLI call command: it starts a client engine against the configured
// server, invokes the requested method and prints the JSON return value.
func cmdRunCall(cmd *cobra.Command, args []string) error {
	serverURL, err := cmd.Flags().GetString("server")
	if err != nil {
		return err
	}
	clientID, err := cmd.Flags().GetString("client-id")
	if err != nil {
		return err
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}
	backlogDir, err := cmd.Flags().GetString("backlog-dir")
	if err != nil {
		return err
	}
	strategy, err := cmd.Flags().GetString("retry")
	if err != nil {
		return err
	}
	timeoutMs, err := cmd.Flags().GetInt("timeout")
	if err != nil {
		return err
	}

	cfg := rpc.DefaultClientConfig(serverURL)
	if clientID != "" {
		cfg.ClientID = clientID
	}

	client, err := rpc.NewClient(cfg, cmdLogger)
	if err != nil {
		return err
	}

	// The client exposes the demo handlers too, so the server may call back over the long poll
	// while the command is in flight.
	var backlog rpc.Backlog
	if backlogDir != "" {
		boltBacklog, err := rpc.NewBoltBacklog(backlogDir)
		if err != nil {
			return err
		}
		defer boltBacklog.Close()
		backlog = boltBacklog
	}
	handlers := []rpc.Handler{demo.NewGreeter(), demo.NewCalculator()}
	if err := client.Start(handlers, rpc.TokenAuthInstaller(cfg.ClientID, token), backlog); err != nil {
		return err
	}
	defer client.Stop()

	command, err := client.NewCommand(args[0], parseCallArgs(args[1:])...)
	if err != nil {
		return err
	}
	command.RetryStrategy = rpc.RetryStrategy(strategy)
	if timeoutMs > 0 {
		command.TimeoutMs = timeoutMs
	}

	returnValue, err := client.ExecuteOnServer(command)
	if err != nil {
		if rpc.FailureTypeOf(err).IsRPCProblem() {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeDeliveryFailure)
		}
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeRemoteFailure)
	}

	if len(returnValue) > 0 {
		fmt.Println(string(returnValue))
	}
	return nil
}

// parseCallArgs interprets each positional argument as JSON, falling back to a plain string for
// anything that does not parse.
func parseCallArgs(args []string) []any {
	parsed := make([]any, len(args))
	for i, arg := range args {
		var value any
		if err := json.Unmarshal([]byte(arg), &value); err != nil {
			value = arg
		}
		parsed[i] = value
	}
	return parsed
}
