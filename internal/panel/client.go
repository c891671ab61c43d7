package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-cheer/internal/protocol"
	"github.com/lexiqai/voice-cheer/internal/resilience"
)

// ErrClientClosed is returned once the connection has gone away.
var ErrClientClosed = errors.New("panel connection closed")

// Client is a panel connection used by tools such as cheerctl.
type Client struct {
	conn   *websocket.Conn
	events chan protocol.Event

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

// Dial connects to a /ws endpoint, retrying transient dial failures.
func Dial(ctx context.Context, url string, retry *resilience.RetryConfig) (*Client, error) {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}

	var conn *websocket.Conn
	_, err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resilience.IsRetryableNetworkError(err) {
				return resilience.NewRetryableError(err)
			}
			return err
		}
		conn = c
		return nil
	}, retry, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan protocol.Event, sendBuffer),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		e, err := protocol.DecodeEvent(data)
		if err != nil {
			continue
		}
		select {
		case c.events <- e:
		default:
			// Nobody is listening; keep reading so close frames are seen.
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return ErrClientClosed
	}
	return fmt.Errorf("%w: %v", ErrClientClosed, c.err)
}

// Send writes one command.
func (c *Client) Send(cmd protocol.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(cmd)
}

// Events returns the stream of incoming events. It is closed when the
// connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Await returns the next event of one of the given types, skipping others.
// An error event from the server is returned as an error.
func (c *Client) Await(ctx context.Context, types ...protocol.EventType) (protocol.Event, error) {
	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				return protocol.Event{}, c.closedErr()
			}
			if e.Type == protocol.EventError {
				return e, fmt.Errorf("server: %s", e.Text)
			}
			for _, t := range types {
				if e.Type == t {
					return e, nil
				}
			}
		case <-ctx.Done():
			return protocol.Event{}, ctx.Err()
		}
	}
}

// Request sends cmd and waits for the first event of the given types.
func (c *Client) Request(ctx context.Context, cmd protocol.Command, types ...protocol.EventType) (protocol.Event, error) {
	if err := c.Send(cmd); err != nil {
		return protocol.Event{}, err
	}
	return c.Await(ctx, types...)
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
