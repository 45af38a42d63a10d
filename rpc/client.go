package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duplexrpc/duplex/logging"
)

// Client is the firewall-bound half of the engine. It owns the single server-directed PeerCache
// and runs two persistent loops: a push loop delivering locally originated commands over POST
// /push, and a pull loop long-polling POST /pull for the server's next command while reporting the
// previous result on the way back. The client initiates every TCP connection; the server never
// dials it.
type Client struct {
	// cfg holds the client's configuration. It is immutable after Start.
	cfg *ClientConfig

	// logger describes the client engine's log output.
	logger *logging.Logger

	// Events describes the event system for lifecycle events emitted by this engine half.
	Events EngineEvents

	// httpClient issues /push and /pull requests. Shared by both loops; its transport is safe for
	// concurrent use.
	httpClient *http.Client

	// server is the peer cache for the single remote peer, identified by the empty peer ID.
	server *PeerCache

	// runner executes commands the server directs at this client.
	runner *Runner

	// backlog stores commands awaiting retry across failures and restarts.
	backlog Backlog

	// installAuth applies credentials to every outgoing request.
	installAuth AuthInstaller

	// nextID assigns monotonically-increasing command IDs. Seeded from wall-clock milliseconds so
	// IDs stay monotonic across process restarts.
	nextID atomic.Int64

	// started indicates Start has run; Start is idempotent.
	started atomic.Bool

	// stopped indicates Stop has run.
	stopped atomic.Bool

	// ctx is cancelled on Stop, aborting in-flight HTTP requests and backoff sleeps.
	ctx    context.Context
	cancel context.CancelFunc

	// group supervises the push and pull loops.
	group errgroup.Group
}

// NewClient creates a client engine for the given configuration. Call Start to open the HTTP
// client and spawn the loops.
func NewClient(cfg *ClientConfig, logger *logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GlobalLogger
	}

	server, err := NewPeerCache("", cfg.Engine.QueueBound, cfg.Engine.ResultCacheCapacity)
	if err != nil {
		return nil, err
	}

	client := &Client{
		cfg:    cfg,
		logger: logger.NewSubLogger("module", "client"),
		server: server,
	}
	client.nextID.Store(time.Now().UnixMilli())
	return client, nil
}

// Start opens the HTTP client, applies the auth installer to future requests, restores pending
// commands from the backlog into the server-directed queue, and spawns the push and pull loops.
// Start is idempotent: calls after the first are no-ops. A nil backlog gets an in-process one; a
// nil authInstaller leaves requests bare.
func (c *Client) Start(handlers []Handler, authInstaller AuthInstaller, backlog Backlog) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	if backlog == nil {
		backlog = NewMemoryBacklog()
	}
	if authInstaller == nil {
		authInstaller = func(*http.Request) {}
	}

	c.runner = NewRunner(handlers, c.logger)
	c.backlog = backlog
	c.installAuth = authInstaller
	c.ctx, c.cancel = context.WithCancel(context.Background())

	// The HTTP client must outlast a full long-poll window, plus headroom for the exchange itself.
	c.httpClient = &http.Client{Timeout: c.cfg.Engine.LongPoll() + 10*time.Second}

	c.restoreBacklog()

	c.group.Go(c.pushLoop)
	c.group.Go(c.pullLoop)

	c.logger.Info("Client engine started for server ", c.cfg.ServerURL)
	return nil
}

// Stop sets the shutdown flag and waits for both loops to exit at their next iteration boundary.
// In-flight waiters complete with a shutdown failure.
func (c *Client) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.server.Close()
	err := c.group.Wait()
	c.logger.Info("Client engine stopped")
	return err
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// NewCommand constructs a command addressed to the server, assigning it the next command ID and
// the engine's default timeout.
func (c *Client) NewCommand(methodName string, params ...any) (*Command, error) {
	cmd, err := NewCommand(methodName, params...)
	if err != nil {
		return nil, err
	}
	cmd.ID = c.nextID.Add(1)
	cmd.TimeoutMs = c.cfg.Engine.DefaultTimeoutMs
	return cmd, nil
}

// ExecuteOnServer enqueues the command for delivery and blocks until its result arrives or its
// timeout elapses. Failures classified as RPC problems are handed to the backlog first (for
// strategies other than None) and then returned, so the caller learns immediately while the
// command continues in the background.
func (c *Client) ExecuteOnServer(cmd *Command) (json.RawMessage, error) {
	if !c.started.Load() {
		return nil, NewError(FailureOther, "client engine is not started")
	}

	if err := c.server.Enqueue(cmd); err != nil {
		c.maybeBacklog(cmd, err)
		return nil, err
	}
	_ = c.Events.CommandEnqueued.Publish(CommandEnqueuedEvent{PeerID: "", Command: cmd})

	returnValue, err := cmd.WaitForResult(cmd.Timeout(c.cfg.Engine.DefaultTimeoutMs), c.ctx.Done())
	if err != nil {
		c.maybeBacklog(cmd, err)
		return nil, err
	}
	return returnValue, nil
}

// CallServer invokes a method on the server and decodes its return value into out (which may be
// nil for methods without a return value).
func (c *Client) CallServer(methodName string, out any, params ...any) error {
	cmd, err := c.NewCommand(methodName, params...)
	if err != nil {
		return err
	}
	returnValue, err := c.ExecuteOnServer(cmd)
	if err != nil {
		return err
	}
	if out != nil && len(returnValue) > 0 {
		return json.Unmarshal(returnValue, out)
	}
	return nil
}

// ExecuteLocallyNow runs a command the server directed at this client and returns its result. The
// server-directed peer cache provides the dedup of retried deliveries.
func (c *Client) ExecuteLocallyNow(cmd *Command) *CommandResult {
	return c.runner.Execute(c.server, cmd)
}

// maybeBacklog hands a command to the backlog when its failure was an RPC problem and its retry
// strategy allows re-execution.
func (c *Client) maybeBacklog(cmd *Command, err error) {
	if cmd.RetryStrategy == RetryNone || !FailureTypeOf(err).IsRPCProblem() {
		return
	}
	if backlogErr := c.backlog.Enqueue("", cmd); backlogErr != nil {
		c.logger.Error("Failed to backlog command ", cmd.ID, backlogErr)
		return
	}
	_ = c.Events.CommandBacklogged.Publish(CommandBackloggedEvent{PeerID: "", Command: cmd})
}

// restoreBacklog repopulates the outbound queue with commands stored before the last shutdown,
// preserving their order. Commands the queue cannot take stay in the backlog for the next start.
func (c *Client) restoreBacklog() {
	pending, err := c.backlog.PeekAll("")
	if err != nil {
		c.logger.Error("Failed to read the retry backlog", err)
		return
	}
	for _, cmd := range pending {
		cmd.ensureAwaitable()
		if err := c.server.Enqueue(cmd); err != nil {
			c.logger.Warn("Backlogged command ", cmd.ID, " does not fit the queue, leaving it stored")
			break
		}
	}
	if len(pending) > 0 {
		c.logger.Info("Restored ", len(pending), " commands from the retry backlog")
	}
}

// pushLoop delivers the head of the outbound queue over POST /push until shutdown. A transport
// failure leaves the head in place and retries it after a backoff; the server deduplicates the
// replay by command ID.
func (c *Client) pushLoop() error {
	for {
		cmd := c.server.GetCurrentCommand(-1)
		if cmd == nil || c.ctx.Err() != nil {
			return nil
		}

		cmd.MarkSent()
		result, err := c.doPush(cmd)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("Push of command ", cmd.ID, " failed, retrying: ", err)
			if !c.sleepBackoff() {
				return nil
			}
			continue
		}

		cmd.Finish(result)
		c.server.FinishCurrentCommand(cmd)
		c.settleBacklog(cmd, result)
		_ = c.Events.CommandCompleted.Publish(CommandCompletedEvent{PeerID: "", Command: cmd, Result: result})
	}
}

// pullLoop long-polls POST /pull for the server's next command, reporting the previous command's
// result on the way back. A transport failure replays the same result after a backoff; the
// server deduplicates the replay by command ID.
func (c *Client) pullLoop() error {
	var lastResult *CommandResult
	for {
		if c.ctx.Err() != nil {
			return nil
		}

		reply, err := c.doPull(Message{LastResult: lastResult})
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("Pull failed, retrying: ", err)
			if !c.sleepBackoff() {
				return nil
			}
			continue
		}

		if reply.NextCommand == nil {
			// The long-poll window elapsed with nothing to do; re-arm immediately.
			lastResult = nil
			continue
		}
		lastResult = c.ExecuteLocallyNow(reply.NextCommand)
	}
}

// settleBacklog reconciles the backlog after a command completed. A result in hand means the
// exchange finished, so the stored copy is dropped unless the failure is retry eligible.
func (c *Client) settleBacklog(cmd *Command, result *CommandResult) {
	retryEligible := cmd.RetryStrategy != RetryNone &&
		!result.Success && result.Failure != nil && result.Failure.Type.IsRPCProblem()
	if retryEligible {
		return
	}
	if err := c.backlog.Remove("", cmd.ID); err != nil {
		c.logger.Error("Failed to remove command ", cmd.ID, " from the retry backlog", err)
	}
}

// doPush performs one POST /push exchange, returning the server's result for the command.
func (c *Client) doPush(cmd *Command) (*CommandResult, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	data, err := c.doRequest("/push", body)
	if err != nil {
		return nil, err
	}

	var result CommandResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, NewError(FailureNetworkProblem, fmt.Sprintf("malformed push response: %v", err))
	}
	return &result, nil
}

// doPull performs one POST /pull exchange: the request carries the previous result (empty body if
// none), the response carries the next command (empty body if the long-poll window elapsed idle).
func (c *Client) doPull(msg Message) (Message, error) {
	var body []byte
	if msg.LastResult != nil {
		var err error
		if body, err = json.Marshal(msg.LastResult); err != nil {
			return Message{}, err
		}
	}

	data, err := c.doRequest("/pull", body)
	if err != nil {
		return Message{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Message{}, nil
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Message{}, NewError(FailureNetworkProblem, fmt.Sprintf("malformed pull response: %v", err))
	}
	return Message{NextCommand: &cmd}, nil
}

// doRequest issues one authenticated POST to the given endpoint and returns the response body.
// Any transport error, or a non-2xx status, classifies as a network problem.
func (c *Client) doRequest(endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.cfg.ServerURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.installAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(FailureNetworkProblem, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(FailureNetworkProblem, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewError(FailureNetworkProblem, fmt.Sprintf("server responded with status %d", resp.StatusCode))
	}
	return data, nil
}

// sleepBackoff waits out the transport-failure backoff. Returns false if shutdown interrupted the
// wait.
func (c *Client) sleepBackoff() bool {
	select {
	case <-time.After(c.cfg.Engine.RetryBackoff()):
		return true
	case <-c.ctx.Done():
		return false
	}
}
