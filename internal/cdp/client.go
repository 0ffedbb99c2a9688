package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCommandTimeout is the default timeout for CDP commands.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultConnectTimeout is the default timeout for a single dial attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultKeepaliveInterval is the default interval between keepalive pings.
	DefaultKeepaliveInterval = 30 * time.Second
	// DefaultMaxRetries is the default number of connect attempts.
	DefaultMaxRetries = 3

	// maxReconnectAttempts bounds the automatic reconnection loop.
	maxReconnectAttempts = 5
	// missedPongLimit closes the socket after this many unanswered pings.
	missedPongLimit = 3

	connectBaseDelay   = time.Second
	connectMaxDelay    = 5 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 10 * time.Second

	// maxFrameSize raises the WebSocket read limit; response bodies fetched
	// via Network.getResponseBody can be several megabytes.
	maxFrameSize = 64 << 20
)

// ErrNotConnected is returned by Send when the client has no open connection.
var ErrNotConnected = errors.New("cdp: not connected")

// ErrCommandTimeout is returned when a command receives no response in time.
var ErrCommandTimeout = errors.New("cdp: command timed out")

// ErrConnectionClosed is returned for commands in flight when the socket closes.
var ErrConnectionClosed = errors.New("cdp: connection closed")

// Options configures a Client.
type Options struct {
	// ConnectTimeout bounds each dial attempt. Defaults to 10s.
	ConnectTimeout time.Duration
	// CommandTimeout bounds each Send. Defaults to 30s.
	CommandTimeout time.Duration
	// KeepaliveInterval is the time between pings. Zero disables keepalive.
	KeepaliveInterval time.Duration
	// MaxRetries is the number of connect attempts. Defaults to 3.
	MaxRetries int
	// AutoReconnect re-dials after an unexpected socket close.
	AutoReconnect bool
	// OnReconnect is invoked after a successful automatic reconnect,
	// typically to re-enable CDP domains.
	OnReconnect func()
	// Logger receives connection lifecycle and frame-parse diagnostics.
	Logger logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// connEpoch is one physical connection. Reconnection replaces the epoch;
// requests in flight on the old epoch fail when its closed channel closes.
type connEpoch struct {
	conn   Conn
	closed chan struct{}
}

// Client is a CDP protocol client with request/response correlation,
// event fan-out, keepalive, and optional reconnection.
type Client struct {
	wsURL string
	opts  Options
	log   logrus.FieldLogger

	msgID   atomic.Int64
	writeMu sync.Mutex

	// pending maps command IDs to response channels
	pending sync.Map // map[int64]chan *Response

	mu          sync.Mutex
	epoch       *connEpoch
	connected   bool
	intentional bool

	handlerMu sync.Mutex
	handlers  map[string][]handlerEntry
	nextID    int64

	closedCh  chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

type handlerEntry struct {
	id int64
	fn func(Event)
}

// NewClient creates a client over an existing connection.
// Used by tests and by callers that dial their own sockets.
func NewClient(conn Conn, opts Options) *Client {
	c := &Client{
		opts:     opts.withDefaults(),
		handlers: make(map[string][]handlerEntry),
		closedCh: make(chan struct{}),
	}
	c.log = c.opts.Logger
	c.startEpoch(conn)
	return c
}

// Connect dials a CDP WebSocket endpoint, retrying up to MaxRetries times
// with exponential backoff, and returns a connected client.
func Connect(ctx context.Context, wsURL string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	var conn Conn
	err := retry.New(
		retry.Attempts(uint(opts.MaxRetries)),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return backoffDelay(int(n), connectBaseDelay, connectMaxDelay)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		dctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
		ws, err := dialWS(dctx, wsURL)
		if err != nil {
			return err
		}
		conn = ws
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CDP endpoint %s: %w", wsURL, err)
	}

	c := NewClient(conn, opts)
	c.wsURL = wsURL
	return c, nil
}

// dialWS opens a raw WebSocket connection with the frame limit raised.
func dialWS(ctx context.Context, wsURL string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxFrameSize)
	return ws, nil
}

// backoffDelay returns min(base*2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// startEpoch installs a connection and starts its read and keepalive loops.
func (c *Client) startEpoch(conn Conn) {
	ep := &connEpoch{conn: conn, closed: make(chan struct{})}
	c.mu.Lock()
	c.epoch = ep
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(ep)
	if c.opts.KeepaliveInterval > 0 {
		go c.keepalive(ep)
	}
}

// Send sends a CDP command and waits for the response using the command timeout.
func (c *Client) Send(method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommandTimeout)
	defer cancel()
	return c.send(ctx, "", method, params)
}

// SendContext sends a CDP command with a context for cancellation.
func (c *Client) SendContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, "", method, params)
}

// SendToSession sends a CDP command routed to an attached target session.
func (c *Client) SendToSession(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, sessionID, method, params)
}

func (c *Client) send(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	ep := c.epoch
	connected := c.connected
	c.mu.Unlock()

	select {
	case <-c.closedCh:
		return nil, ErrNotConnected
	default:
	}
	if !connected || ep == nil {
		return nil, ErrNotConnected
	}

	id := c.msgID.Add(1)
	req := Request{
		ID:        id,
		Method:    method,
		Params:    params,
		SessionID: sessionID,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create response channel before sending
	respCh := make(chan *Response, 1)
	c.pending.Store(id, respCh)
	defer c.pending.Delete(id)

	c.writeMu.Lock()
	err = ep.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, ErrCommandTimeout)
		}
		return nil, ctx.Err()
	case <-ep.closed:
		return nil, ErrConnectionClosed
	case <-c.closedCh:
		return nil, ErrConnectionClosed
	}
}

// On registers a handler for CDP events matching the given method.
// Handlers for the same method are invoked in registration order.
// Returns a handler id for Off.
func (c *Client) On(method string, fn func(Event)) int64 {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextID++
	c.handlers[method] = append(c.handlers[method], handlerEntry{id: c.nextID, fn: fn})
	return c.nextID
}

// Off removes a previously registered handler.
// Returns false if no handler with that id exists for the method.
func (c *Client) Off(method string, id int64) bool {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	entries := c.handlers[method]
	for i, e := range entries {
		if e.id == id {
			c.handlers[method] = append(entries[:i:i], entries[i+1:]...)
			if len(c.handlers[method]) == 0 {
				delete(c.handlers, method)
			}
			return true
		}
	}
	return false
}

// RemoveAllListeners removes handlers for the given methods,
// or every handler when called with no arguments.
func (c *Client) RemoveAllListeners(methods ...string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if len(methods) == 0 {
		c.handlers = make(map[string][]handlerEntry)
		return
	}
	for _, m := range methods {
		delete(c.handlers, m)
	}
}

// Port returns the debugging port parsed from the WebSocket URL, or 0.
func (c *Client) Port() int {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return port
}

// IsConnected reports whether the client has an open connection.
func (c *Client) IsConnected() bool {
	select {
	case <-c.closedCh:
		return false
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns the error that terminated the last connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Close closes the client with a normal closure status. Idempotent.
func (c *Client) Close() error {
	return c.CloseWithStatus(websocket.StatusNormalClosure, "client closing")
}

// CloseWithStatus closes the client with an explicit status code and reason.
// Pending requests fail with ErrConnectionClosed and all handlers are removed.
func (c *Client) CloseWithStatus(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.intentional = true
		c.connected = false
		ep := c.epoch
		c.mu.Unlock()

		close(c.closedCh)

		if ep != nil {
			err = ep.conn.Close(code, reason)
			// Wait for the read loop to exit
			<-ep.closed
		}
		c.RemoveAllListeners()
	})
	return err
}

// readLoop reads frames from one connection and dispatches them.
func (c *Client) readLoop(ep *connEpoch) {
	defer close(ep.closed)

	ctx := context.Background()
	for {
		_, data, err := ep.conn.Read(ctx)
		if err != nil {
			c.handleReadError(err)
			return
		}

		resp, evt, perr := parseMessage(data)
		if perr != nil {
			// Malformed frames never fail a pending request
			c.log.WithError(perr).Debug("discarding unparseable CDP frame")
			continue
		}

		if resp != nil {
			c.dispatchResponse(resp)
		} else if evt != nil {
			c.dispatchEvent(evt)
		}
	}
}

// handleReadError records the terminal error and starts reconnection
// when enabled. Intentional closes are silent.
func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	intentional := c.intentional
	c.connected = false
	c.mu.Unlock()

	if intentional {
		return
	}

	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	c.log.WithError(err).Warn("CDP connection lost")

	if c.opts.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop re-dials with exponential backoff, up to maxReconnectAttempts.
func (c *Client) reconnectLoop() {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt-1, reconnectBaseDelay, reconnectMaxDelay)
		select {
		case <-c.closedCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		conn, err := dialWS(ctx, c.wsURL)
		cancel()
		if err != nil {
			c.log.WithError(err).Warnf("reconnect attempt %d/%d failed", attempt, maxReconnectAttempts)
			continue
		}

		c.startEpoch(conn)
		c.log.Info("CDP connection re-established")
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
		return
	}

	c.log.Error("max reconnection attempts exceeded, closing client")
	_ = c.Close()
}

// keepalive pings on the configured interval and closes the connection
// after missedPongLimit successive unanswered pings.
func (c *Client) keepalive(ep *connEpoch) {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ep.closed:
			return
		case <-c.closedCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.KeepaliveInterval)
			err := ep.conn.Ping(ctx)
			cancel()
			if err != nil {
				missed++
				if missed >= missedPongLimit {
					c.log.Warn("no pong received, closing connection")
					_ = ep.conn.Close(websocket.StatusGoingAway, "No pong received")
					return
				}
			} else {
				missed = 0
			}
		}
	}
}

// dispatchResponse delivers a response frame to its waiting caller.
// Frames with unknown or already-settled ids are dropped.
func (c *Client) dispatchResponse(resp *Response) {
	if ch, ok := c.pending.Load(resp.ID); ok {
		respCh := ch.(chan *Response)
		select {
		case respCh <- resp:
		default:
			// Duplicate response for an id that already settled
		}
	}
}

// dispatchEvent calls all registered handlers for an event in registration order.
func (c *Client) dispatchEvent(evt *Event) {
	c.handlerMu.Lock()
	entries := make([]handlerEntry, len(c.handlers[evt.Method]))
	copy(entries, c.handlers[evt.Method])
	c.handlerMu.Unlock()

	for _, e := range entries {
		e.fn(*evt)
	}
}
