// Package messaging wraps the NATS connection shared by every berth-planner
// daemon (gateway, allocator, ingestor, conflictdetector): allocate()
// commits, ETA updates and conflict detections all travel between processes
// as shared/events.BaseEvent messages over this client.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with JetStream, reconnect bookkeeping and
// a tiny outbound ring buffer so publishers keep accepting events during a
// brief outage instead of blocking the caller.
type Client struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	subs       map[string]*nats.Subscription
	mu         sync.RWMutex
	reconnects int
	connected  bool

	bufMu   sync.Mutex
	buf     [][2]string // subject, payload JSON, queued while disconnected
	bufSize int
}

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
	// BufferSize bounds the outbound ring buffer drained on reconnect.
	BufferSize int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	client := &Client{
		subs:    make(map[string]*nats.Subscription),
		bufSize: cfg.BufferSize,
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			client.mu.Lock()
			client.reconnects++
			client.connected = true
			client.mu.Unlock()
			client.drainBuffer()
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			client.mu.Lock()
			client.connected = false
			client.mu.Unlock()
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("messaging: jetstream: %w", err)
	}

	client.conn = conn
	client.js = js
	client.connected = true

	return client, nil
}

// Publish marshals data and publishes it to subject. When the connection is
// down, the message is queued into a bounded ring buffer and drained on
// reconnect instead of failing outright — the allocator keeps accepting
// allocate() calls through a brief NATS outage.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("messaging: marshal: %w", err)
	}

	c.mu.RLock()
	connected := c.connected && c.conn != nil
	c.mu.RUnlock()

	if !connected {
		c.enqueueBuffered(subject, payload)
		return nil
	}

	return c.conn.Publish(subject, payload)
}

func (c *Client) enqueueBuffered(subject string, payload []byte) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if len(c.buf) >= c.bufSize {
		c.buf = c.buf[1:] // drop oldest, mirrors the event bus's Lag policy
	}
	c.buf = append(c.buf, [2]string{subject, string(payload)})
}

func (c *Client) drainBuffer() {
	c.bufMu.Lock()
	pending := c.buf
	c.buf = nil
	c.bufMu.Unlock()

	for _, entry := range pending {
		if c.conn != nil {
			_ = c.conn.Publish(entry[0], []byte(entry[1]))
		}
	}
}

// PublishAsync publishes through JetStream, returning a future ack.
func (c *Client) PublishAsync(ctx context.Context, subject string, data interface{}) (nats.PubAckFuture, error) {
	if c.js == nil {
		return nil, fmt.Errorf("messaging: jetstream not available")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal: %w", err)
	}

	return c.js.PublishAsync(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("messaging: already subscribed to %s", subject)
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe: %w", err)
	}

	c.subs[subject] = sub
	return nil
}

func (c *Client) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subject + ":" + queue
	if _, exists := c.subs[key]; exists {
		return fmt.Errorf("messaging: already queue-subscribed to %s/%s", subject, queue)
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("messaging: queue subscribe: %w", err)
	}

	c.subs[key] = sub
	return nil
}

func (c *Client) JetStreamSubscribe(subject string, handler func(msg *nats.Msg), opts ...nats.SubOpt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.js == nil {
		return fmt.Errorf("messaging: jetstream not available")
	}

	sub, err := c.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("messaging: jetstream subscribe: %w", err)
	}

	c.subs["js:"+subject] = sub
	return nil
}

func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, exists := c.subs[subject]
	if !exists {
		return fmt.Errorf("messaging: not subscribed to %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe: %w", err)
	}

	delete(c.subs, subject)
	return nil
}

// Request performs a request-reply call, respecting ctx's deadline in
// addition to timeout.
func (c *Client) Request(ctx context.Context, subject string, data interface{}, timeout time.Duration) (*nats.Msg, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.conn.RequestWithContext(ctx, subject, payload)
}

func (c *Client) CreateStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	if c.js == nil {
		return nil, fmt.Errorf("messaging: jetstream not available")
	}
	info, err := c.js.AddStream(cfg)
	if err != nil {
		return nil, fmt.Errorf("messaging: create stream: %w", err)
	}
	return info, nil
}

func (c *Client) CreateConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	if c.js == nil {
		return nil, fmt.Errorf("messaging: jetstream not available")
	}
	info, err := c.js.AddConsumer(stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("messaging: create consumer: %w", err)
	}
	return info, nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, subject)
	}

	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	return nil
}

func (c *Client) Drain() error {
	if c.conn == nil {
		return fmt.Errorf("messaging: not connected")
	}
	return c.conn.Drain()
}

func (c *Client) Stats() nats.Statistics {
	if c.conn == nil {
		return nats.Statistics{}
	}
	return c.conn.Stats()
}

func (c *Client) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}
