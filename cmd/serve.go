package cmd

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duplexrpc/duplex/cmd/exitcodes"
	"github.com/duplexrpc/duplex/demo"
	"github.com/duplexrpc/duplex/logging"
	"github.com/duplexrpc/duplex/rpc"
	"github.com/duplexrpc/duplex/utils"
)

// serveCmd represents the command provider for hosting the demo server
var serveCmd = &cobra.Command{
	Use:           "serve",
	Short:         "Hosts the demo RPC server",
	Long:          `Hosts the greeter, calculator and bank demo handlers behind the /push and /pull endpoints`,
	Args:          cobra.NoArgs,
	RunE:          cmdRunServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add all the flags allowed for the serve command
	addServeFlags()

	// Add the serve command and its associated flags to the root command
	rootCmd.AddCommand(serveCmd)
}

// cmdRunServe executes the CLI serve command: it creates a server engine hosting the demo
// handlers, attaches its endpoints to a router and serves it until interrupted.
func cmdRunServe(cmd *cobra.Command, args []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return err
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}
	logFile, err := cmd.Flags().GetString("log-file")
	if err != nil {
		return err
	}

	logger := logging.NewLogger(zerolog.InfoLevel, true)
	if logFile != "" {
		file, err := utils.CreateFile("", logFile)
		if err != nil {
			return err
		}
		defer file.Close()
		logger.AddWriter(file, logging.UNSTRUCTURED)
	}

	handlers := []rpc.Handler{demo.NewGreeter(), demo.NewCalculator(), demo.NewBank()}
	server, err := rpc.NewServer(rpc.DefaultServerConfig(), handlers, rpc.TokenAuthenticator(token), logger)
	if err != nil {
		return err
	}
	defer server.Stop()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeGeneralError)
	}
	cmdLogger.Info("Server listening on port ", port)

	// Serve until a server error or an interrupt, whichever comes first
	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- http.Serve(listener, rpc.NewRouter(server))
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		cmdLogger.Info("Shutting down")
		return listener.Close()
	case err := <-serverErrChan:
		return err
	}
}
