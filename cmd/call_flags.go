package cmd

// addCallFlags adds all the flags allowed for the call command
func addCallFlags() {
	callCmd.Flags().String("server", "http://localhost:8080", "base URL of the server")
	callCmd.Flags().String("client-id", "", "client identifier (generated when empty)")
	callCmd.Flags().String("token", "duplex-dev-token", "shared token to present to the server")
	callCmd.Flags().String("backlog-dir", "", "directory for the durable retry backlog (in-memory when empty)")
	callCmd.Flags().String("retry", "None", "retry strategy: None, Retry or RetryWhenOnline")
	callCmd.Flags().Int("timeout", 0, "command timeout in milliseconds (engine default when 0)")
}
