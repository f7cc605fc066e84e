// Package control provides the relayd control plane: a newline-delimited
// JSON RPC protocol over a unix socket, with server-initiated event pushes
// for streaming chat output.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/beamline/relay/internal/logging"
)

// Request is an incoming API request.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
	// Token authenticates the owner when the daemon has an auth secret.
	Token string `json:"token,omitempty"`
	// Owner names the requesting owner directly when auth is disabled.
	Owner string `json:"owner,omitempty"`
}

// Response is an outgoing API response.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Event is a server-initiated push to a client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// HandlerFunc is the signature for API method handlers. The connection is
// provided so handlers can push events back to the submitting client.
type HandlerFunc func(conn *ClientConn, req *Request) (any, error)

// ClientConn is the server side of one client connection.
type ClientConn struct {
	ID string

	conn    net.Conn
	writeMu sync.Mutex

	ownersMu sync.Mutex
	owners   map[string]struct{}
}

// Push sends an event to this client. Pushing to a closed connection is a
// silent failure: the client is gone and nobody is listening.
func (c *ClientConn) Push(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		logging.Debug("failed to push event", "type", event.Type, "client", c.ID, "error", err)
	}
}

// BindOwner associates an owner identity with this connection so disconnect
// cleanup can find it.
func (c *ClientConn) BindOwner(owner string) {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	c.owners[owner] = struct{}{}
}

// Owners returns the owner identities bound to this connection.
func (c *ClientConn) Owners() []string {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()

	out := make([]string, 0, len(c.owners))
	for owner := range c.owners {
		out = append(out, owner)
	}
	return out
}

func (c *ClientConn) respond(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error("failed to marshal response", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		logging.Debug("failed to write response", "client", c.ID, "error", err)
	}
}

// Server handles incoming connections on the unix socket.
type Server struct {
	socketPath   string
	listener     net.Listener
	handlers     map[string]HandlerFunc
	onDisconnect func(*ClientConn)

	mu      sync.RWMutex
	clients map[*ClientConn]struct{}
	done    chan struct{}
}

// NewServer creates a new control server.
func NewServer(socketPath string) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*ClientConn]struct{}),
		done:       make(chan struct{}),
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// OnDisconnect registers a callback invoked when a client connection closes.
func (s *Server) OnDisconnect(fn func(*ClientConn)) {
	s.onDisconnect = fn
}

// Start begins listening for connections.
func (s *Server) Start() error {
	// Remove stale socket from a previous run
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	os.Chmod(s.socketPath, 0700)

	go s.acceptLoop()
	return nil
}

// Stop closes the server and all client connections.
func (s *Server) Stop() error {
	close(s.done)

	s.mu.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)
	return nil
}

// ClientCount returns the number of live client connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to every connected client.
func (s *Server) Broadcast(event Event) {
	s.mu.RLock()
	clients := make([]*ClientConn, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		client.Push(event)
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				logging.Warn("accept failed", "error", err)
				continue
			}
		}

		client := &ClientConn{
			ID:     uuid.NewString(),
			conn:   conn,
			owners: make(map[string]struct{}),
		}

		s.mu.Lock()
		s.clients[client] = struct{}{}
		s.mu.Unlock()

		go s.serveClient(client)
	}
}

func (s *Server) serveClient(client *ClientConn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()

		client.conn.Close()
		if s.onDisconnect != nil {
			s.onDisconnect(client)
		}
	}()

	scanner := bufio.NewScanner(client.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			client.respond(Response{Error: "malformed request"})
			continue
		}

		s.mu.RLock()
		handler, ok := s.handlers[req.Method]
		s.mu.RUnlock()

		if !ok {
			client.respond(Response{Error: fmt.Sprintf("unknown method: %s", req.Method), ID: req.ID})
			continue
		}

		data, err := handler(client, &req)
		if err != nil {
			client.respond(Response{Error: err.Error(), ID: req.ID})
			continue
		}
		client.respond(Response{Data: data, ID: req.ID})
	}
}
