package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Client is the viewer side of the RPC channel. Calls are correlated by id
// and may run concurrently; pushed events arrive on a buffered channel and
// are dropped with a warning when the consumer falls behind.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response

	events chan Event

	closed    chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial connects to a bridge node's signalling endpoint.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger.With("component", "signal-client"),
		pending: make(map[uint64]chan Response),
		events:  make(chan Event, 32),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	// The read loop is the only sender on events, so it alone closes the
	// channel once no further pushes can arrive.
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed message", "error", err)
			continue
		}
		if msg.Event != "" {
			select {
			case c.events <- Event{Event: msg.Event, Data: msg.Data}:
			default:
				c.logger.Warn("event dropped, consumer too slow", "event", msg.Event)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("response for unknown call", "id", msg.ID)
			continue
		}
		ch <- Response{ID: msg.ID, OK: msg.OK, Error: msg.Error, Data: msg.Data}
	}
}

// shutdown fails all pending calls.
func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.readErr = err
		close(c.closed)
		c.mu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.mu.Unlock()
	})
}

// Call performs one request/response exchange. in is marshalled as the
// request payload (nil for parameterless methods); a non-nil out receives the
// response payload.
func (c *Client) Call(ctx context.Context, method string, in, out any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection closed: %w", c.readErr)
	default:
	}

	var payload json.RawMessage
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", method, err)
		}
		payload = data
	}

	id := c.nextID.Add(1)
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(Request{ID: id, Method: method, Data: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("connection closed: %w", c.readErr)
		}
		if !resp.OK {
			return fmt.Errorf("%s: %s", method, resp.Error)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Events returns the push stream. The channel closes when the connection
// drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(fmt.Errorf("client closed"))
	return err
}
