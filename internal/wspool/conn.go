// Package wspool maintains at most one live WebSocket connection per URL and
// fans inbound frames out to any number of attached listeners.
package wspool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a pooled connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener receives raw inbound frames in arrival order.
type Listener func(data []byte)

// CloseListener receives the close code (or -1 when unknown) and the error
// that ended the connection, nil on a clean close.
type CloseListener func(code int, err error)

// Conn is a shared WebSocket connection. Any component may attach and detach
// listeners; only the run lifecycle controller calls Close.
type Conn struct {
	URL string

	writeTimeout time.Duration

	mu        sync.Mutex
	ws        *websocket.Conn
	state     State
	dialErr   error
	ready     chan struct{}
	listeners []listenerEntry
	onClose   []closeEntry
	nextID    int
	closing   bool
	closeCode int
}

type listenerEntry struct {
	id int
	fn Listener
}

type closeEntry struct {
	id int
	fn CloseListener
}

func newConn(url string, writeTimeout time.Duration) *Conn {
	return &Conn{
		URL:          url,
		writeTimeout: writeTimeout,
		state:        StateConnecting,
		ready:        make(chan struct{}),
	}
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitOpen blocks until the dial completes or the context ends.
func (c *Conn) WaitOpen(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialErr
}

// Subscribe attaches a frame listener and returns its detach func. Listeners
// attached while connecting start receiving from the first frame after open.
func (c *Conn) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnClose registers a close listener, also called on dial failure.
func (c *Conn) OnClose(fn CloseListener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onClose = append(c.onClose, closeEntry{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.onClose {
			if e.id == id {
				c.onClose = append(c.onClose[:i], c.onClose[i+1:]...)
				return
			}
		}
	}
}

// Send writes a text frame, waiting for the dial to finish first. Writes are
// serialized; gorilla allows only one concurrent writer.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := c.WaitOpen(ctx); err != nil {
		return fmt.Errorf("connection not open: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return fmt.Errorf("connection %s is %s", c.URL, c.state)
	}
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close performs a clean shutdown with the given close code. Safe to call on
// a connection that already closed.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.closeCode = code
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		c.finish(code, nil)
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if c.writeTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := ws.WriteMessage(websocket.CloseMessage, msg); err != nil {
		log.Printf("WARN: write close frame to %s: %v", c.URL, err)
	}
	return ws.Close()
}

// dialDone transitions out of connecting after the dial attempt.
func (c *Conn) dialDone(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if err != nil {
		c.dialErr = err
		c.mu.Unlock()
		close(c.ready)
		c.finish(-1, err)
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()
	close(c.ready)
	go c.readPump()
}

// readPump reads frames until the connection dies and dispatches them to the
// listeners in arrival order.
func (c *Conn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			code := -1
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WARN: websocket %s closed: %v", c.URL, err)
			}
			if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
				err = nil
			}
			c.finish(code, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	c.mu.Lock()
	entries := make([]listenerEntry, len(c.listeners))
	copy(entries, c.listeners)
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(data)
	}
}

// finish marks the connection closed and fires close listeners exactly once.
// A close we initiated ourselves reports the requested code and no error; the
// read loop's failure after a local ws.Close is expected, not a transport
// fault.
func (c *Conn) finish(code int, err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.closing {
		code = c.closeCode
		err = nil
	}
	c.state = StateClosed
	hooks := make([]closeEntry, len(c.onClose))
	copy(hooks, c.onClose)
	c.mu.Unlock()
	for _, h := range hooks {
		h.fn(code, err)
	}
}
