// Package run drives the lifecycle of a vulnerability-testing run: starting
// it against the backend, attaching the WebSocket stream, folding messages
// into session state, and tearing everything down on cancel or shutdown.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/graph"
	"github.com/shepherdsec/console/internal/protocol"
	"github.com/shepherdsec/console/internal/runid"
	"github.com/shepherdsec/console/internal/session"
	"github.com/shepherdsec/console/internal/wspool"
)

// Notifier receives user-facing events the controller cannot resolve itself.
type Notifier interface {
	// ConnectionLost fires when the socket dies without a clean close.
	ConnectionLost(code int, err error)
	// AtCapacity fires when the backend refuses to start the run.
	AtCapacity(queuePosition int, message string)
	// InputRequested fires when the run is waiting on user input.
	InputRequested()
	// Alert surfaces a blocking notice, e.g. an idle timeout.
	Alert(message string)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) ConnectionLost(int, error) {}
func (NopNotifier) AtCapacity(int, string)    {}
func (NopNotifier) InputRequested()           {}
func (NopNotifier) Alert(string)              {}

// Controller owns one run at a time.
type Controller struct {
	ids      *runid.Manager
	backend  *backend.Client
	sockets  *wspool.Registry
	notifier Notifier

	mu        sync.Mutex
	runID     string
	state     *session.State
	router    *session.Router
	conn      *wspool.Conn
	msglog    []protocol.Message
	detach    []func()
	cancelled atomic.Bool
	timer     *time.Timer
}

// NewController wires a controller. notifier may be nil.
func NewController(ids *runid.Manager, client *backend.Client, sockets *wspool.Registry, notifier Notifier) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	c := &Controller{
		ids:      ids,
		backend:  client,
		sockets:  sockets,
		notifier: notifier,
		state:    session.NewState(),
	}
	c.router = session.NewRouter(c.state, (*controllerActions)(c))
	return c
}

// controllerActions adapts the controller to the router's side-effect
// interface without exporting those methods on Controller itself.
type controllerActions Controller

func (a *controllerActions) CancelRun(delayMs int) { (*Controller)(a).scheduleCancel(delayMs) }
func (a *controllerActions) FocusInput()           { a.notifier.InputRequested() }
func (a *controllerActions) Alert(msg string)      { a.notifier.Alert(msg) }

// RunID returns the identifier of the current run, if any.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// State exposes the live session state.
func (c *Controller) State() *session.State { return c.state }

// Start mints a fresh run id, submits the hypothesis to the backend and, when
// the backend accepts, attaches the run's WebSocket stream. A capacity
// rejection leaves the session in the at-capacity state with no socket.
func (c *Controller) Start(ctx context.Context, form backend.StartRunForm) (string, error) {
	c.Detach()
	runID := c.ids.Reset()

	c.mu.Lock()
	c.runID = runID
	c.msglog = nil
	c.cancelled.Store(false)
	c.mu.Unlock()
	c.state.Reset()

	res, err := c.backend.StartRun(ctx, runID, form)
	if err != nil {
		c.state.SetStatus(session.StatusError)
		return runID, fmt.Errorf("start run %s: %w", runID, err)
	}

	if backend.IsCapacityStatus(res.Status) {
		c.state.SetStatus(session.StatusAtCapacity)
		c.notifier.AtCapacity(res.QueuePosition, res.Message)
		return runID, nil
	}
	if !backend.IsRunningStatus(res.Status) {
		c.state.SetStatus(session.StatusError)
		return runID, fmt.Errorf("start run %s: unexpected backend status %q", runID, res.Status)
	}

	if err := c.attach(ctx, runID); err != nil {
		c.state.SetStatus(session.StatusError)
		return runID, err
	}
	return runID, nil
}

// Watch attaches to an already-running run's stream without starting it.
func (c *Controller) Watch(ctx context.Context, runID string) error {
	c.Detach()
	c.mu.Lock()
	c.runID = runID
	c.msglog = nil
	c.cancelled.Store(false)
	c.mu.Unlock()
	c.state.Reset()
	return c.attach(ctx, runID)
}

func (c *Controller) attach(ctx context.Context, runID string) error {
	socketURL, err := c.backend.SocketURL(runID)
	if err != nil {
		return fmt.Errorf("derive socket url: %w", err)
	}

	conn := c.sockets.Get(socketURL)
	unsubFrames := conn.Subscribe(c.onFrame)
	unsubClose := conn.OnClose(func(code int, err error) {
		if err != nil {
			c.notifier.ConnectionLost(code, err)
		}
	})

	c.mu.Lock()
	c.conn = conn
	c.detach = append(c.detach, unsubFrames, unsubClose)
	c.mu.Unlock()

	if err := conn.WaitOpen(ctx); err != nil {
		return fmt.Errorf("open socket for run %s: %w", runID, err)
	}
	return nil
}

// onFrame decodes one inbound frame, records it and routes it. Undecodable
// frames are logged and skipped so one bad frame cannot stall the stream.
func (c *Controller) onFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("WARN: undecodable frame: %v", err)
		return
	}
	c.mu.Lock()
	c.msglog = append(c.msglog, *msg)
	c.mu.Unlock()
	c.router.Route(msg)
}

// SendInput answers the pending prompt. Declining a rerun cancels the run
// instead of forwarding the answer.
func (c *Controller) SendInput(ctx context.Context, value string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active run")
	}

	pending := c.state.Pending()
	c.state.AddUser(value, inputKind(pending))
	c.state.SetWaiting(false)
	c.state.SetPending(nil)

	if pending != nil && pending.Type == protocol.ContentRadio && !isAffirmative(value) {
		c.scheduleCancel(protocol.CancelDelayDeclined)
		return nil
	}

	data, err := protocol.EncodeInput(value)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	return nil
}

func inputKind(pending *session.PendingInput) string {
	if pending == nil {
		return protocol.ContentInput
	}
	switch pending.Type {
	case protocol.ContentRadio, protocol.ContentOption, protocol.ContentChoice:
		return pending.Type
	}
	return protocol.ContentInput
}

func isAffirmative(value string) bool {
	switch value {
	case "y", "Y", "yes", "Yes", "YES":
		return true
	}
	return false
}

// scheduleCancel arms a one-shot cancel after delayMs milliseconds. The first
// schedule wins; later causes are ignored.
func (c *Controller) scheduleCancel(delayMs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil || c.cancelled.Load() {
		return
	}
	c.timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Cancel(ctx); err != nil {
			log.Printf("WARN: scheduled cancel: %v", err)
		}
	})
}

// Cancel tells the backend to stop the run and closes the socket cleanly.
// Only the first call does work; the rest return nil immediately.
func (c *Controller) Cancel(ctx context.Context) error {
	if !c.cancelled.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	runID := c.runID
	conn := c.conn
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	var cancelErr error
	if runID != "" {
		if err := c.backend.CancelRun(ctx, runID); err != nil {
			cancelErr = fmt.Errorf("cancel run %s: %w", runID, err)
		}
	}
	if conn != nil {
		if err := conn.Close(protocol.CloseNormal, "run cancelled"); err != nil {
			log.Printf("WARN: close socket: %v", err)
		}
	}
	c.state.SetWaiting(false)
	c.state.SetPending(nil)
	if c.state.Status() != session.StatusError {
		c.state.SetStatus(session.StatusEnded)
	}
	return cancelErr
}

// Shutdown is the teardown path for process exit. It fires the best-effort
// cancel beacon and a backup cancel request; both failures are tolerated.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	runID := c.runID
	conn := c.conn
	detach := c.detach
	c.detach = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if runID != "" && !c.cancelled.Load() {
		if err := c.backend.CancelBeacon(runID); err != nil {
			log.Printf("WARN: cancel beacon: %v", err)
		}
		if err := c.backend.CancelRun(ctx, runID); err != nil {
			log.Printf("WARN: backup cancel: %v", err)
		}
		c.cancelled.Store(true)
	}
	for _, fn := range detach {
		fn()
	}
	if conn != nil {
		if err := conn.Close(protocol.CloseGoingAway, "console shutting down"); err != nil {
			log.Printf("WARN: close socket: %v", err)
		}
	}
}

// Detach releases the socket without cancelling the run upstream. This is the
// teardown for observers that never owned the run.
func (c *Controller) Detach() {
	c.mu.Lock()
	conn := c.conn
	detach := c.detach
	c.conn = nil
	c.detach = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	if conn != nil {
		if err := conn.Close(protocol.CloseGoingAway, "observer detaching"); err != nil {
			log.Printf("WARN: close socket: %v", err)
		}
	}
}

// Messages returns a copy of every decoded message seen so far.
func (c *Controller) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.msglog))
	copy(out, c.msglog)
	return out
}

// MessagesJSON serializes the message log for storage.
func (c *Controller) MessagesJSON() (json.RawMessage, error) {
	msgs := c.Messages()
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal message log: %w", err)
	}
	return data, nil
}

// Graph folds the message log into the tool-event graph.
func (c *Controller) Graph() *graph.Graph {
	return graph.Fold(c.Messages())
}

// Replay routes a stored message log through a read-only router and returns
// the reconstructed session state.
func Replay(raw json.RawMessage) (*session.State, error) {
	var msgs []protocol.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal stored transcript: %w", err)
	}
	state := session.NewState()
	r := session.NewRouter(state, nil)
	r.ReadOnly = true
	for i := range msgs {
		r.Route(&msgs[i])
	}
	return state, nil
}
