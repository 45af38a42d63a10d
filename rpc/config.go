package rpc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EngineConfig describes the tunables shared by both halves of the engine. A config value travels
// into the engine constructors (NewClient, NewServer); there is no process-wide mutable state.
type EngineConfig struct {
	// LongPollMs describes how long a /pull request is held open waiting for a command before the
	// server responds empty and the client re-arms its poll.
	LongPollMs int `json:"longPollMs"`

	// QueueBound describes the maximum number of commands a peer queue buffers before Enqueue
	// fails with a queue overflow.
	QueueBound int `json:"queueBound"`

	// ResultCacheCapacity describes how many recent results are retained per peer to deduplicate
	// retried commands. It must be at least QueueBound so no pending command's result can be
	// evicted while the command is still outstanding.
	ResultCacheCapacity int `json:"resultCacheCapacity"`

	// DefaultTimeoutMs describes the deadline applied to commands that do not carry their own.
	DefaultTimeoutMs int `json:"defaultTimeoutMs"`

	// RetryBackoffMs describes how long a loop sleeps after a transport failure before retrying.
	RetryBackoffMs int `json:"retryBackoffMs"`
}

// DefaultEngineConfig obtains the default engine tunables: a 90 second long-poll window, a queue
// bound of 10 commands, a result cache of 100 entries, a 30 second command timeout and a 1 second
// transport backoff.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LongPollMs:          90_000,
		QueueBound:          10,
		ResultCacheCapacity: 100,
		DefaultTimeoutMs:    30_000,
		RetryBackoffMs:      1_000,
	}
}

// Validate ensures the engine tunables are coherent. Returns an error describing the first
// violated constraint, if any.
func (c *EngineConfig) Validate() error {
	if c.LongPollMs <= 0 {
		return fmt.Errorf("long-poll window must be positive, got %d ms", c.LongPollMs)
	}
	if c.QueueBound <= 0 {
		return fmt.Errorf("queue bound must be positive, got %d", c.QueueBound)
	}
	if c.ResultCacheCapacity < c.QueueBound {
		return fmt.Errorf("result cache capacity (%d) must be at least the queue bound (%d)", c.ResultCacheCapacity, c.QueueBound)
	}
	if c.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("default command timeout must be positive, got %d ms", c.DefaultTimeoutMs)
	}
	if c.RetryBackoffMs <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %d ms", c.RetryBackoffMs)
	}
	return nil
}

// LongPoll returns the long-poll window as a duration.
func (c *EngineConfig) LongPoll() time.Duration {
	return time.Duration(c.LongPollMs) * time.Millisecond
}

// DefaultTimeout returns the default command deadline as a duration.
func (c *EngineConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// RetryBackoff returns the transport-failure backoff as a duration.
func (c *EngineConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// ClientConfig describes the configuration of a client engine. It is immutable after Start.
type ClientConfig struct {
	// ClientID uniquely identifies this client within the deployment.
	ClientID string `json:"clientID"`

	// ServerURL is the base URL of the server hosting the /push and /pull endpoints.
	ServerURL string `json:"serverURL"`

	// Engine holds the shared engine tunables.
	Engine EngineConfig `json:"engine"`
}

// DefaultClientConfig obtains a client configuration for the given server URL with default engine
// tunables and a freshly generated client ID.
func DefaultClientConfig(serverURL string) *ClientConfig {
	return &ClientConfig{
		ClientID:  uuid.New().String(),
		ServerURL: serverURL,
		Engine:    DefaultEngineConfig(),
	}
}

// Validate ensures the client configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID must not be empty")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server URL must not be empty")
	}
	return c.Engine.Validate()
}

// ServerConfig describes the configuration of a server engine.
type ServerConfig struct {
	// Engine holds the shared engine tunables.
	Engine EngineConfig `json:"engine"`
}

// DefaultServerConfig obtains a server configuration with default engine tunables.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Engine: DefaultEngineConfig()}
}

// Validate ensures the server configuration is usable.
func (c *ServerConfig) Validate() error {
	return c.Engine.Validate()
}
