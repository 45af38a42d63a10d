package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duplexrpc/duplex/logging"
)

// Server is the reachable half of the engine. It keeps one PeerCache per client, lazily created
// on that client's first contact, and exposes the two wire endpoints: /push executes a client's
// command and responds with its result, /pull reports a previous server-command result and long-
// polls for the next one. Server-originated calls go through ExecuteOnClient and ride the long
// poll, since the server cannot dial its clients.
type Server struct {
	// cfg holds the server's configuration.
	cfg *ServerConfig

	// logger describes the server engine's log output.
	logger *logging.Logger

	// Events describes the event system for lifecycle events emitted by this engine half.
	Events EngineEvents

	// runner executes commands clients push to this server.
	runner *Runner

	// auth resolves requests to client identifiers.
	auth Authenticator

	// peersLock guards peers.
	peersLock sync.Mutex

	// peers maps client IDs to their caches.
	peers map[string]*PeerCache

	// nextID assigns monotonically-increasing command IDs for server-originated commands. Seeded
	// from wall-clock milliseconds so IDs stay monotonic across process restarts.
	nextID atomic.Int64

	// done is closed on Stop, releasing waiters and pending long polls.
	done chan struct{}

	// stopped indicates Stop has run.
	stopped atomic.Bool
}

// NewServer creates a server engine dispatching inbound commands to the provided handlers and
// authenticating requests with the provided authenticator.
func NewServer(cfg *ServerConfig, handlers []Handler, auth Authenticator, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GlobalLogger
	}

	server := &Server{
		cfg:    cfg,
		logger: logger.NewSubLogger("module", "server"),
		auth:   auth,
		peers:  make(map[string]*PeerCache),
		done:   make(chan struct{}),
	}
	server.runner = NewRunner(handlers, logger)
	server.nextID.Store(time.Now().UnixMilli())
	return server, nil
}

// Stop releases all pending long polls and completes in-flight waiters with a shutdown failure.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	s.peersLock.Lock()
	defer s.peersLock.Unlock()
	for _, cache := range s.peers {
		cache.Close()
	}
	s.logger.Info("Server engine stopped")
}

// peer returns the cache for the given client, creating it on first contact.
func (s *Server) peer(clientID string) (*PeerCache, error) {
	s.peersLock.Lock()
	defer s.peersLock.Unlock()

	if cache, ok := s.peers[clientID]; ok {
		return cache, nil
	}
	cache, err := NewPeerCache(clientID, s.cfg.Engine.QueueBound, s.cfg.Engine.ResultCacheCapacity)
	if err != nil {
		return nil, err
	}
	s.peers[clientID] = cache
	s.logger.Debug("Created peer cache for client ", clientID)
	return cache, nil
}

// NewCommand constructs a command addressed to a client, assigning it the next command ID and the
// engine's default timeout.
func (s *Server) NewCommand(methodName string, params ...any) (*Command, error) {
	cmd, err := NewCommand(methodName, params...)
	if err != nil {
		return nil, err
	}
	cmd.ID = s.nextID.Add(1)
	cmd.TimeoutMs = s.cfg.Engine.DefaultTimeoutMs
	return cmd, nil
}

// ExecuteOnClient enqueues the command for the given client and blocks until the client reports
// its result over /pull or the command's timeout elapses. The command is delivered on the
// client's next pull; a client that never polls times the command out.
func (s *Server) ExecuteOnClient(clientID string, cmd *Command) (json.RawMessage, error) {
	cache, err := s.peer(clientID)
	if err != nil {
		return nil, err
	}

	if err := cache.Enqueue(cmd); err != nil {
		return nil, err
	}
	_ = s.Events.CommandEnqueued.Publish(CommandEnqueuedEvent{PeerID: clientID, Command: cmd})

	return cmd.WaitForResult(cmd.Timeout(s.cfg.Engine.DefaultTimeoutMs), s.done)
}

// CallClient invokes a method on the given client and decodes its return value into out (which
// may be nil for methods without a return value).
func (s *Server) CallClient(clientID string, methodName string, out any, params ...any) error {
	cmd, err := s.NewCommand(methodName, params...)
	if err != nil {
		return err
	}
	returnValue, err := s.ExecuteOnClient(clientID, cmd)
	if err != nil {
		return err
	}
	if out != nil && len(returnValue) > 0 {
		return json.Unmarshal(returnValue, out)
	}
	return nil
}

// HandlePush serves POST /push: authenticate, decode one command, execute it through the runner
// scoped to the calling client, and respond with the serialized result. Replayed commands get
// their cached result back without re-executing user code.
func (s *Server) HandlePush(w http.ResponseWriter, r *http.Request) {
	clientID := s.auth(r)
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}

	cache, err := s.peer(clientID)
	if err != nil {
		s.logger.Error("Failed to create peer cache for client ", clientID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	result := s.runner.Execute(cache, &cmd)
	s.writeJSON(w, result)
}

// HandlePull serves POST /pull: authenticate, record the reported result against the currently
// sent head (if the body carries one), then block up to the long-poll window for the next command
// and respond with its JSON, or an empty 2xx when the window elapses idle.
func (s *Server) HandlePull(w http.ResponseWriter, r *http.Request) {
	clientID := s.auth(r)
	if clientID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	cache, err := s.peer(clientID)
	if err != nil {
		s.logger.Error("Failed to create peer cache for client ", clientID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var result CommandResult
		if err := json.Unmarshal(body, &result); err != nil {
			http.Error(w, "malformed result", http.StatusBadRequest)
			return
		}
		// A replayed pull can report a result for a command that already completed; the head
		// comparison makes the replay harmless.
		if current := cache.GetCurrentCommand(0); current != nil && current.ID == result.ID {
			current.Finish(&result)
			cache.FinishCurrentCommand(current)
			_ = s.Events.CommandCompleted.Publish(CommandCompletedEvent{PeerID: clientID, Command: current, Result: &result})
		}
	}

	cmd := cache.GetCurrentCommand(s.cfg.Engine.LongPoll())
	if cmd == nil {
		// Nothing within the window; the empty response tells the client to re-arm its poll.
		w.WriteHeader(http.StatusOK)
		return
	}
	cmd.MarkSent()
	s.writeJSON(w, cmd)
}

// writeJSON serializes v into the response, flagging encode failures as internal errors.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
