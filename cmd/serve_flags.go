package cmd

// addServeFlags adds all the flags allowed for the serve command
func addServeFlags() {
	serveCmd.Flags().Int("port", 8080, "port to serve the /push and /pull endpoints on")
	serveCmd.Flags().String("token", "duplex-dev-token", "shared token clients must present")
	serveCmd.Flags().String("log-file", "", "file to additionally write logs to")
}
