package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmaretti/crewdeck/internal/protocol"
)

// Client keeps a live Cache synced over the dashboard websocket and
// sends decision requests. Requests are fire-and-forget: Approve and
// Reject return once the frame is written, and the mirror moves when the
// broadcast comes back.
type Client struct {
	conn  *websocket.Conn
	cache *Cache

	writeMu sync.Mutex

	notify chan struct{}
	done   chan struct{}

	errMu   sync.Mutex
	readErr error
}

// Dial connects to a dashboard websocket endpoint (ws:// or wss://).
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:   conn,
		cache:  NewCache(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		msg, err := protocol.ParseServerMessage(raw)
		if err != nil {
			continue
		}
		c.cache.Apply(msg)
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

// Cache returns the live mirror.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Approve requests approval for a task. The local mirror is not touched;
// it converges when the broadcast event arrives.
func (c *Client) Approve(taskID string) error {
	return c.send(protocol.TaskDecision{Type: protocol.TypeTaskApprove, TaskID: taskID})
}

// Reject requests rejection for a task.
func (c *Client) Reject(taskID string) error {
	return c.send(protocol.TaskDecision{Type: protocol.TypeTaskReject, TaskID: taskID})
}

// SendChat submits a prompt to the agent conversation loop.
func (c *Client) SendChat(text string) error {
	return c.send(protocol.ChatSend{Type: protocol.TypeChatSend, Text: text})
}

func (c *Client) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// WaitFor blocks until the predicate holds against the mirror or the
// context expires.
func (c *Client) WaitFor(ctx context.Context, pred func(*Cache) bool) error {
	for {
		if pred(c.cache) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			if pred(c.cache) {
				return nil
			}
			return errors.New("connection closed before condition held")
		case <-c.notify:
		}
	}
}

// Close tears the connection down.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Err reports the read-loop error after the connection ends.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}
