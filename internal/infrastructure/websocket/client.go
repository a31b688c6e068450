package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lorepa/pkg/errors"
	"lorepa/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxBackoff = 30 * time.Second
)

// Client maintains the push connection to the Lorepa backend. It
// reconnects on its own with capped exponential backoff and reports
// connectivity changes as synthetic connected/disconnected events on
// the same channel as wire events, so the consumer sees one ordered
// stream.
type Client struct {
	endpoint string
	token    string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	events chan Event
	send   chan Event
	done   chan struct{}
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		events:   make(chan Event, 64),
		send:     make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read/write pumps. The
// first dial failing is an error; later drops are handled internally.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Emit queues an event for delivery. Fails fast while disconnected;
// nothing is buffered across reconnects (the resync policy repairs
// state instead).
func (c *Client) Emit(ev Event) error {
	c.mu.Lock()
	ok := c.connected && !c.closed
	c.mu.Unlock()
	if !ok {
		return errors.TransportDisconnected("push channel is down", nil)
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return errors.TransportDisconnected("push send buffer full", nil)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return errors.TransportDisconnected("failed to dial push endpoint", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.deliver(Event{Type: EventTypeConnected, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}

func (c *Client) run(ctx context.Context) {
	for {
		stop := make(chan struct{})
		go c.writePump(stop)
		c.readPump()
		close(stop)

		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed || ctx.Err() != nil {
			return
		}

		c.deliver(Event{Type: EventTypeDisconnected, Timestamp: time.Now().UTC().Format(time.RFC3339)})

		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(backoff):
			}

			if err := c.dial(ctx); err == nil {
				break
			} else {
				logger.Warn("websocket: reconnect failed, retrying in %s: %v", backoff, err)
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
}

// readPump blocks until the current connection drops.
func (c *Client) readPump() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket: read error: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Warn("websocket: dropping malformed event: %v", err)
			continue
		}
		c.deliver(ev)
	}
}

func (c *Client) writePump(stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				logger.Warn("websocket: write failed for %s: %v", ev.Type, err)
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.TransportDisconnected("push channel is down", nil)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.Warn("websocket: event buffer full, dropping %s", ev.Type)
	}
}
