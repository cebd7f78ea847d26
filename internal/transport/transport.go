package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"chatcord/internal/protocol"
	"chatcord/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Emit when there is no live
// connection. Callers decide whether to surface an error; nothing is
// thrown or dropped silently.
var ErrNotConnected = errors.New("not connected to chat server")

// Handler is invoked once per received server event, in receipt order.
type Handler func(data json.RawMessage)

// Subscription identifies a registered handler for later removal.
type Subscription struct {
	event string
	id    int
}

// Transport is the real-time connection owned by the client. A single
// implementation exists; the interface is what the coordinator and
// tests program against.
type Transport interface {
	Connect(token string) error
	Disconnect()
	Emit(event string, payload interface{}) error
	Subscribe(event string, h Handler) Subscription
	Unsubscribe(sub Subscription)
	IsConnected() bool
}

// Options configures the WebSocket client.
type Options struct {
	URL          string
	WriteTimeout time.Duration
	PongTimeout  time.Duration

	// Reconnect policy: bounded exponential backoff, capped attempts.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return opts
}

// Client is the WebSocket transport wrapper. The connected flag is
// mutated only from the connect, close and error paths so logical and
// actual connection state cannot drift apart.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	token     string
	send      chan []byte
	done      chan struct{}

	subMu     sync.Mutex
	handlers  map[string]map[int]Handler
	nextSubID int
}

func NewClient(opts Options) *Client {
	return &Client{
		opts:     opts.withDefaults(),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect opens an authenticated connection. Idempotent: a healthy
// connection is returned unchanged; a stale handle is torn down first.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	if c.connected && c.conn != nil {
		c.mu.Unlock()
		logger.Debug("Connect called on a healthy connection, skipping")
		return nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.closing = false
	c.token = token
	c.mu.Unlock()

	return c.dial(0)
}

// Disconnect removes all subscriptions and closes the connection.
// Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}

	c.subMu.Lock()
	c.handlers = make(map[string]map[int]Handler)
	c.subMu.Unlock()
}

// Emit sends an event to the server. Returns ErrNotConnected instead
// of failing silently when there is no live connection.
func (c *Client) Emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	send := c.send
	c.mu.Unlock()

	select {
	case send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for %s", event)
	}
}

func (c *Client) Subscribe(event string, h Handler) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h
	return Subscription{event: event, id: id}
}

func (c *Client) Unsubscribe(sub Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if hs, ok := c.handlers[sub.event]; ok {
		delete(hs, sub.id)
		if len(hs) == 0 {
			delete(c.handlers, sub.event)
		}
	}
}

// IsConnected reports the actual transport-level connection state,
// not a logical mirror of it.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil
}

func (c *Client) wsURL() string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return c.opts.URL
	}
	sep := "?"
	if u, err := url.Parse(c.opts.URL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return c.opts.URL + sep + "token=" + url.QueryEscape(token)
}

// dial opens the socket and starts the pumps. attempt 0 is the
// initial connect; anything higher is a reconnect.
func (c *Client) dial(attempt int) error {
	conn, _, err := c.dialer.Dial(c.wsURL(), nil)
	if err != nil {
		c.dispatch(protocol.EventConnectError, mustMarshal(protocol.ErrorPayload{Message: err.Error()}))
		return fmt.Errorf("failed to connect to %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return errors.New("transport closed during connect")
	}
	if c.connected && c.conn != nil {
		// A concurrent dial already won; keep the live connection.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	if c.done != nil {
		// Stop the pumps of a superseded connection before replacing
		// their done channel.
		close(c.done)
		c.done = nil
	}
	c.conn = conn
	c.connected = true
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn)

	if attempt == 0 {
		logger.Info("Connected to chat server at %s", c.opts.URL)
		c.dispatch(protocol.EventConnect, nil)
	} else {
		logger.Info("Reconnected to chat server after %d attempts", attempt)
		c.dispatch(protocol.EventReconnect, mustMarshal(protocol.ReconnectPayload{Attempts: attempt}))
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		env, err := protocol.ParseEnvelope(message)
		if err != nil {
			logger.Error("Failed to parse server event: %v", err)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	pingPeriod := c.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closing := c.closing
	token := c.token
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if closing {
		return
	}

	if isServerClose(err) {
		// Server kicked us deliberately. Terminal until the user
		// reconnects by hand; no automatic retry.
		logger.Error("Server closed the connection: %v", err)
		c.dispatch(protocol.EventDisconnect,
			mustMarshal(protocol.DisconnectPayload{Reason: protocol.ReasonServerDisconnect}))
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		logger.Error("WebSocket error: %v", err)
	}
	c.dispatch(protocol.EventDisconnect,
		mustMarshal(protocol.DisconnectPayload{Reason: protocol.ReasonTransportError}))
	go c.reconnectLoop(token)
}

func isServerClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation)
}

func (c *Client) reconnectLoop(token string) {
	delay := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closing || c.connected {
			c.mu.Unlock()
			return
		}
		c.token = token
		c.mu.Unlock()

		logger.Debug("Reconnect attempt %d/%d", attempt, c.opts.MaxAttempts)
		if err := c.dial(attempt); err == nil {
			return
		}

		delay *= 2
		if delay > c.opts.MaxDelay {
			delay = c.opts.MaxDelay
		}
	}

	logger.Error("Failed to reconnect after %d attempts", c.opts.MaxAttempts)
	c.dispatch(protocol.EventReconnectFailed, nil)
}

// dispatch invokes every handler registered for event, sequentially
// and in registration order.
func (c *Client) dispatch(event string, data json.RawMessage) {
	c.subMu.Lock()
	hs := c.handlers[event]
	ids := make([]int, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ordered := make([]Handler, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, hs[id])
	}
	c.subMu.Unlock()

	for _, h := range ordered {
		h(data)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal internal event payload: %v", err)
		return nil
	}
	return data
}
