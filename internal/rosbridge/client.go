// Package rosbridge is a websocket client for the rosbridge v2 protocol. It
// carries topic subscriptions and service calls between the console and the
// scanner's ROS graph.
package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Status is the connection state reported to listeners.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

var (
	// ErrNotConnected is returned for operations that need a live link.
	ErrNotConnected = errors.New("rosbridge: not connected")
	// ErrServiceFailed is returned when a service responds with result=false.
	ErrServiceFailed = errors.New("rosbridge: service call failed")
)

// Handler receives messages published on a subscribed topic. Handlers run on
// the client's read goroutine.
type Handler func(Message)

// Config holds client settings.
type Config struct {
	// URL is the rosbridge websocket endpoint, e.g. ws://192.168.1.10:9090.
	URL string
	// Compression requested for subscriptions: "none" or "cbor".
	Compression string
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
	// QueueLength is the per-subscription queue rosbridge keeps server side.
	QueueLength int
	// MinBackoff and MaxBackoff bound reconnect delays in Run.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns a configuration for a local rosbridge server.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://localhost:9090",
		Compression:  CompressionNone,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		QueueLength:  1,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   10 * time.Second,
	}
}

// Subscription identifies one registered topic handler.
type Subscription struct {
	id      string
	topic   string
	msgType string
	handler Handler
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// ID returns the rosbridge subscription id.
func (s *Subscription) ID() string { return s.id }

type listener struct {
	id int
	fn func(Status)
}

// Client is a rosbridge connection. It is safe for concurrent use.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connDone  chan struct{}
	status    Status
	subs      map[string]*Subscription
	pending   map[string]chan serviceResult
	listeners []listener
	nextID    int

	writeMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Compression == "" {
		cfg.Compression = def.Compression
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = def.QueueLength
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		status:  StatusDisconnected,
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan serviceResult),
	}
}

// URL returns the configured endpoint.
func (c *Client) URL() string { return c.cfg.URL }

// Connect dials the server. Connecting an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("dial rosbridge %s: %w", c.cfg.URL, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connDone = done
	c.mu.Unlock()

	log.Printf("[Rosbridge] connected to %s", c.cfg.URL)
	c.setStatus(StatusConnected)
	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the link, drops every subscription and fails pending
// service calls.
func (c *Client) Disconnect() {
	c.teardown(nil, StatusDisconnected)
}

// IsConnected reports whether the link is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Status returns the last reported connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnConnectionChange registers fn for status changes and immediately calls it
// with the current status. The returned func removes the listener.
func (c *Client) OnConnectionChange(fn func(Status)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	current := c.status
	c.mu.Unlock()

	fn(current)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Subscribe registers handler for topic and asks the server to forward it.
func (c *Client) Subscribe(topic, msgType string, handler Handler) (*Subscription, error) {
	sub := &Subscription{
		id:      fmt.Sprintf("subscribe:%s:%s", topic, uuid.NewString()),
		topic:   topic,
		msgType: msgType,
		handler: handler,
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	err := c.send(subscribeOp{
		Op:          opSubscribe,
		ID:          sub.id,
		Topic:       topic,
		Type:        msgType,
		Compression: c.cfg.Compression,
		QueueLength: c.cfg.QueueLength,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

// Unsubscribe removes the handler. It is a no-op for unknown subscriptions.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	c.mu.Lock()
	_, ok := c.subs[sub.id]
	delete(c.subs, sub.id)
	connected := c.conn != nil
	c.mu.Unlock()
	if !ok || !connected {
		return nil
	}
	if err := c.send(unsubscribeOp{Op: opUnsubscribe, ID: sub.id, Topic: sub.topic}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.topic, err)
	}
	return nil
}

// SubscriptionCount returns the number of registered handlers.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// CallService invokes a ROS service and decodes its response values into
// reply, which may be nil.
func (c *Client) CallService(ctx context.Context, service, srvType string, args, reply interface{}) error {
	id := fmt.Sprintf("call_service:%s:%s", service, uuid.NewString())
	ch := make(chan serviceResult, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(callServiceOp{Op: opCallService, ID: id, Service: service, Type: srvType, Args: args}); err != nil {
		return fmt.Errorf("call %s: %w", service, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("call %s: %w", service, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("call %s: %w", service, res.err)
		}
		if !res.ok {
			return fmt.Errorf("call %s: %w: %s", service, ErrServiceFailed, string(res.values))
		}
		if err := res.decode(reply); err != nil {
			return fmt.Errorf("decode %s response: %w", service, err)
		}
		return nil
	}
}

// Run keeps the client connected until ctx is cancelled, reconnecting with
// exponential backoff whenever the link drops.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	for {
		err := backoff.RetryNotify(func() error {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return c.Connect(ctx)
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			log.Printf("[Rosbridge] connect failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
		})
		if err != nil {
			c.Disconnect()
			return err
		}
		b.Reset()

		c.mu.Lock()
		done := c.connDone
		c.mu.Unlock()
		if done == nil {
			continue
		}

		select {
		case <-ctx.Done():
			c.Disconnect()
			return ctx.Err()
		case <-done:
			log.Printf("[Rosbridge] connection to %s lost", c.cfg.URL)
		}
	}
}

func (c *Client) send(op interface{}) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if c.teardown(conn, StatusDisconnected) {
				log.Printf("[Rosbridge] read error: %v", err)
			}
			return
		}
		switch kind {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

func (c *Client) handleText(data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Printf("[Rosbridge] malformed text frame: %v", err)
		return
	}
	switch in.Op {
	case opPublish:
		c.dispatch(NewJSONMessage(in.Topic, in.Msg))
	case opServiceResponse:
		c.resolve(in.ID, serviceResult{values: in.Values, ok: in.Result == nil || *in.Result})
	case opStatus:
		log.Printf("[Rosbridge] server status (%s): %s", in.Level, string(in.Msg))
	}
}

func (c *Client) handleBinary(data []byte) {
	var in inboundCBOR
	if err := cborUnmarshal(data, &in); err != nil {
		log.Printf("[Rosbridge] malformed binary frame: %v", err)
		return
	}
	switch in.Op {
	case opPublish:
		c.dispatch(NewCBORMessage(in.Topic, in.Msg))
	case opServiceResponse:
		c.resolve(in.ID, serviceResult{values: in.Values, cbor: true, ok: in.Result == nil || *in.Result})
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	var handlers []Handler
	for _, s := range c.subs {
		if s.topic == msg.Topic {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (c *Client) resolve(id string, res serviceResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- res
	}
}

// teardown closes conn if it is still the active connection, or the active
// connection when conn is nil. It reports whether anything was torn down.
func (c *Client) teardown(conn *websocket.Conn, status Status) bool {
	c.mu.Lock()
	if c.conn == nil || (conn != nil && conn != c.conn) {
		c.mu.Unlock()
		return false
	}
	active := c.conn
	c.conn = nil
	c.subs = make(map[string]*Subscription)
	pending := c.pending
	c.pending = make(map[string]chan serviceResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- serviceResult{err: ErrNotConnected}
	}
	_ = active.Close()
	c.setStatus(status)
	return true
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fns := make([]func(Status), 0, len(c.listeners))
	for _, l := range c.listeners {
		fns = append(fns, l.fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
