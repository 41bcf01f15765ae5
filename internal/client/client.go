// Package client implements the tiledeck client side: one websocket
// connection to a host, a reconnect state machine with capped exponential
// backoff, inbound message handling including chunked file reception, and
// the HTTP upload side channel.
package client

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tiledeck/internal/protocol"
	"tiledeck/internal/transfer"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ConnError
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnError:
		return "error"
	}
	return "unknown"
}

// Status is a snapshot of the lifecycle state for display.
type Status struct {
	State     State
	Addr      string
	LastError string
	Attempt   int
}

// WSConn is the connection subset the client uses; tests provide fakes.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection to url.
type Dialer func(ctx context.Context, url string) (WSConn, error)

func defaultDialer(ctx context.Context, url string) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// AddressStore persists the pinned host address across runs.
type AddressStore interface {
	Load() (string, error)
	Save(addr string) error
	Clear() error
}

const (
	backoffBase    = time.Second
	backoffCap     = 30 * time.Second
	maxBackoffExp  = 6
	maxAttempt     = 10
	defaultDialTTL = 10 * time.Second
)

// BackoffDelay returns the reconnect delay for an attempt counter:
// min(1s << min(attempt,6), 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExp {
		attempt = maxBackoffExp
	}
	d := backoffBase << uint(attempt)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Client owns one connection and at most one reconnect loop. All exported
// methods are safe for concurrent use.
type Client struct {
	// Store persists the pinned address. Optional.
	Store AddressStore

	// AcceptOffer decides on an incoming pc_file_offer. Nil accepts all.
	AcceptOffer func(name string, size int64) bool

	// Observers. Nil callbacks are skipped. Called off the lock.
	OnState     func(Status)
	OnHello     func(lang, pcName string, catalog []protocol.CatalogEntry, layout protocol.Layout)
	OnLayout    func(layout protocol.Layout)
	OnLang      func(lang string)
	OnMetrics   func(m protocol.Metrics)
	OnFileSaved func(path string, bytes int64)

	// Backoff overrides for tests; zero values use the package defaults.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	inbox  *transfer.Inbox
	dial   Dialer
	logger *log.Logger

	mu        sync.Mutex
	state     State
	addr      string
	lastErr   string
	attempt   int
	userClose bool
	conn      WSConn
	writeMu   sync.Mutex

	loopActive bool
	loopCancel chan struct{}

	// gen identifies the current connection target. Connect and Disconnect
	// bump it, so an in-flight dial they superseded discards its result
	// instead of installing a second live connection.
	gen uint64

	// offeredNames remembers offer names until pc_file_begin arrives.
	offeredNames map[string]string
}

// New builds a client saving received files under downloadsDir.
func New(downloadsDir string) *Client {
	c := &Client{
		inbox:        transfer.NewInbox(downloadsDir),
		dial:         defaultDialer,
		logger:       log.New(io.Discard, "", 0),
		offeredNames: make(map[string]string),
	}
	c.inbox.OnCompleted = func(id, path string, bytes int64) {
		if c.OnFileSaved != nil {
			c.OnFileSaved(path, bytes)
		}
	}
	return c
}

// SetLogger replaces the client logger. A nil logger discards output.
func (c *Client) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c.logger = logger
	c.inbox.SetLogger(logger)
}

// SetDialer overrides the websocket dialer. Tests use in-memory pipes.
func (c *Client) SetDialer(d Dialer) {
	if d != nil {
		c.dial = d
	}
}

// Inbox exposes the reassembly coordinator, mainly for tests.
func (c *Client) Inbox() *transfer.Inbox { return c.inbox }

// Status returns the current lifecycle snapshot.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Addr: c.addr, LastError: c.lastErr, Attempt: c.attempt}
}

func (c *Client) setState(state State, lastErr string) {
	c.mu.Lock()
	c.state = state
	c.lastErr = lastErr
	st := Status{State: c.state, Addr: c.addr, LastError: c.lastErr, Attempt: c.attempt}
	cb := c.OnState
	c.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Pair persists the address and connects to it.
func (c *Client) Pair(addr string) {
	if c.Store != nil {
		if err := c.Store.Save(addr); err != nil {
			c.logger.Printf("save pairing: %v", err)
		}
	}
	c.Connect(addr)
}

// Connect pins addr, cancels any running reconnect loop, resets the backoff
// counter and dials. It returns once the attempt is scheduled; progress is
// reported through OnState.
func (c *Client) Connect(addr string) {
	c.mu.Lock()
	c.userClose = false
	c.addr = addr
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.cancelLoopLocked()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.setState(Connecting, "")
	go func() {
		if err := c.connectOnce(addr, gen); err != nil {
			c.setState(ConnError, err.Error())
			c.ensureReconnectLoop(addr, err.Error())
		}
	}()
}

// connectOnce dials addr and, on success, installs the connection and
// starts its read loop. A dial superseded while in flight (the generation
// moved, the user disconnected, or the pinned address changed) closes its
// connection and installs nothing.
func (c *Client) connectOnce(addr string, gen uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTTL)
	defer cancel()
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.userClose || c.addr != addr || c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.setState(Connected, "")
	go c.readLoop(addr, conn)
	return nil
}

func (c *Client) readLoop(addr string, conn WSConn) {
	var readErr error
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, ok := protocol.Decode(data)
		if !ok {
			continue
		}
		c.handle(msg)
	}
	c.handleDrop(addr, conn, readErr)
}

// handleDrop runs when a connection's read loop exits. In-flight transfers
// cannot resume, so partial sinks are discarded; unless the user asked to
// disconnect, a reconnect loop is scheduled.
func (c *Client) handleDrop(addr string, conn WSConn, readErr error) {
	_ = conn.Close()
	c.inbox.CloseAll()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	// Pending offer names belong to the dropped connection; the host's
	// decision window will not survive a reconnect either.
	c.offeredNames = make(map[string]string)
	stale := c.addr != addr
	user := c.userClose
	c.mu.Unlock()
	if stale {
		return
	}
	if user {
		c.setState(Disconnected, "")
		return
	}

	reason := ""
	state := Disconnected
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		state = ConnError
		reason = readErr.Error()
	}
	c.setState(state, reason)
	c.ensureReconnectLoop(addr, reason)
}

// Disconnect closes the connection. A user-initiated disconnect sets a
// sticky flag that suppresses auto-reconnect until the next Connect or
// Pair, cancels any pending reconnect loop and resets the attempt counter.
func (c *Client) Disconnect(userInitiated bool) {
	c.mu.Lock()
	c.gen++
	if userInitiated {
		c.userClose = true
		c.attempt = 0
		c.cancelLoopLocked()
	}
	conn := c.conn
	c.conn = nil
	c.offeredNames = make(map[string]string)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteMessage(websocket.CloseMessage, bye)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setState(Disconnected, "")
}

// ForgetPairing disconnects and clears the persisted pinned address.
func (c *Client) ForgetPairing() {
	c.Disconnect(true)
	c.mu.Lock()
	c.addr = ""
	c.mu.Unlock()
	if c.Store != nil {
		if err := c.Store.Clear(); err != nil {
			c.logger.Printf("clear pairing: %v", err)
		}
	}
}

func (c *Client) cancelLoopLocked() {
	if c.loopCancel != nil {
		close(c.loopCancel)
		c.loopCancel = nil
	}
	c.loopActive = false
}

func (c *Client) backoffFor(attempt int) time.Duration {
	base := c.BackoffBase
	cap := c.BackoffCap
	if base <= 0 {
		base = backoffBase
	}
	if cap <= 0 {
		cap = backoffCap
	}
	if attempt > maxBackoffExp {
		attempt = maxBackoffExp
	}
	d := base << uint(attempt)
	if d > cap {
		d = cap
	}
	return d
}

// ensureReconnectLoop starts the single reconnect loop for addr, if none is
// running. The loop re-checks its guards after every wake-up: a user
// disconnect, a successful connection or a changed pinned address during
// the wait exits the loop without dialing.
func (c *Client) ensureReconnectLoop(addr, reason string) {
	c.mu.Lock()
	if c.userClose || c.loopActive || addr == "" || c.addr != addr {
		c.mu.Unlock()
		return
	}
	c.loopActive = true
	cancel := make(chan struct{})
	c.loopCancel = cancel
	c.mu.Unlock()

	go c.reconnectLoop(addr, reason, cancel)
}

func (c *Client) reconnectLoop(addr, reason string, cancel chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.loopCancel == cancel {
			c.loopCancel = nil
		}
		c.loopActive = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.userClose || c.state == Connected || c.addr != addr {
			c.mu.Unlock()
			return
		}
		delay := c.backoffFor(c.attempt)
		c.mu.Unlock()

		c.setState(Connecting, reason)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return
		}

		c.mu.Lock()
		if c.userClose || c.state == Connected || c.addr != addr {
			c.mu.Unlock()
			return
		}
		c.attempt++
		if c.attempt > maxAttempt {
			c.attempt = maxAttempt
		}
		gen := c.gen
		c.mu.Unlock()

		if err := c.connectOnce(addr, gen); err != nil {
			reason = err.Error()
			c.setState(ConnError, reason)
			continue
		}
		return
	}
}

func (c *Client) send(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendAction requests execution of a catalog action on the host.
func (c *Client) SendAction(actionID string) error {
	return c.send(&protocol.Message{Type: protocol.TypeAction, ActionID: actionID})
}
