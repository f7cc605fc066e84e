package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

// RawEvent is a pushed event as received by a client, payload undecoded.
type RawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wireFrame is any single line read off the socket. Responses carry an ID or
// Data/Error; pushes carry a Type.
type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	ID      string          `json:"id"`
}

// Client is a connection to the relayd control socket.
type Client struct {
	conn  net.Conn
	token string
	owner string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan wireFrame

	events chan RawEvent
	closed chan struct{}
	once   sync.Once
}

// Dial connects to the daemon's control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon (is relayd running?): %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan wireFrame),
		events:  make(chan RawEvent, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SetToken attaches an owner token to every subsequent request.
func (c *Client) SetToken(token string) { c.token = token }

// SetOwner names the owner directly for daemons running without auth.
func (c *Client) SetOwner(owner string) { c.owner = owner }

// Events returns the stream of server pushes. The channel closes when the
// connection does.
func (c *Client) Events() <-chan RawEvent { return c.events }

// Close tears down the connection.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.once.Do(func() { close(c.closed) })
		close(c.events)

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var frame wireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}

		if frame.Type != "" {
			select {
			case c.events <- RawEvent{Type: frame.Type, Payload: frame.Payload}:
			case <-c.closed:
				return
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

// Call performs one request and decodes the response data into result, which
// may be nil when the caller only cares about success.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	req := Request{
		Method: method,
		ID:     uuid.NewString(),
		Token:  c.token,
		Owner:  c.owner,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}

	ch := make(chan wireFrame, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return errors.New("connection closed")
		}
		if frame.Error != "" {
			return errors.New(frame.Error)
		}
		if result != nil && len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return ctx.Err()
	}
}

// SendChat submits a prompt. Output arrives as chat.* events.
func (c *Client) SendChat(ctx context.Context, prompt string) error {
	var ack ChatAck
	return c.Call(ctx, MethodChatSend, ChatSendParams{Prompt: prompt}, &ack)
}

// NewConversation starts a fresh conversation on the next prompt.
func (c *Client) NewConversation(ctx context.Context) error {
	return c.Call(ctx, MethodChatNew, nil, nil)
}

// ListSessions returns the caller's conversation summaries, newest first.
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	var list SessionList
	if err := c.Call(ctx, MethodSessionsList, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Resume makes an existing conversation current again.
func (c *Client) Resume(ctx context.Context, sessionID string) error {
	return c.Call(ctx, MethodResume, SessionParams{SessionID: sessionID}, nil)
}

// Delete removes a conversation from the caller's history listing.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	return c.Call(ctx, MethodDelete, SessionParams{SessionID: sessionID}, nil)
}

// History returns the reconstructed messages of one conversation.
func (c *Client) History(ctx context.Context, sessionID string) (*HistoryResult, error) {
	var result HistoryResult
	if err := c.Call(ctx, MethodChatHistory, SessionParams{SessionID: sessionID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status returns daemon health information.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.Call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
