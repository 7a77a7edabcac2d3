package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Config holds the AMQP connection settings.
type Config struct {
	URL            string
	Exchange       string
	ReconnectDelay time.Duration
	// ConnectTimeout bounds one connection attempt, handshake included. A
	// caller's own deadline shortens it further.
	ConnectTimeout time.Duration
	Prefetch       int
	AppID          string
}

// DefaultConfig returns the settings used by every service unless overridden.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Exchange:       "tech_store",
		ReconnectDelay: 3 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Prefetch:       32,
	}
}

// channel is the subset of *amqp.Channel used by the client.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// connection is the subset of *amqp.Connection used by the client.
type connection interface {
	Channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (connection, error)

type amqpConnection struct {
	conn *amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c amqpConnection) Close() error {
	return c.conn.Close()
}

// dialAMQP opens a connection whose TCP dial and handshake end with ctx.
func dialAMQP(ctx context.Context, url string) (connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			nc, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// The library clears the deadline once the connection is open.
			if deadline, ok := ctx.Deadline(); ok {
				if err := nc.SetDeadline(deadline); err != nil {
					_ = nc.Close()
					return nil, err
				}
			}
			return nc, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn: conn}, nil
}

type subscription struct {
	ctx     context.Context
	topic   string
	mode    AckMode
	handler Handler
	tag     string
}

// Client maintains one connection and one channel to a topic exchange and
// recovers from disconnection on its own. Subscriptions are re-declared after
// every reconnect. Pending RPC calls are not failed on disconnect; they run
// into their own deadline.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc

	mu         sync.Mutex
	conn       connection
	ch         channel
	subs       []*subscription
	retry      *time.Timer
	closed     bool
	generation uint64
	// connecting is non-nil while a connection attempt runs and is closed
	// when it ends.
	connecting chan struct{}

	inflight sync.WaitGroup
}

// NewClient creates a client. No connection is made until Connect, Publish or
// Subscribe is called.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dial:   dialAMQP,
	}
}

// Connect opens the connection and channel. It is a no-op while connected.
// Failures are logged and a retry is scheduled after the reconnect delay.
func (c *Client) Connect(ctx context.Context) {
	_, _ = c.connect(ctx)
}

// Connected reports whether a channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Ping returns ErrNotConnected while the client has no open channel.
func (c *Client) Ping(_ context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}

// connect returns the open channel, connecting first when there is none.
// Only one attempt runs at a time and the mutex is not held while it dials;
// callers arriving meanwhile wait for its outcome or for ctx.
func (c *Client) connect(ctx context.Context) (channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	if wait := c.connecting; wait != nil {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch == nil {
			return nil, ErrNotConnected
		}
		return c.ch, nil
	}
	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	conn, ch, step, err := c.open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = nil
	close(done)

	if err != nil {
		c.connectFailedLocked(ctx, step, err)
		return nil, err
	}
	if c.closed {
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrClosed
	}

	c.conn, c.ch = conn, ch
	c.generation++
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(c.generation, connClosed, chClosed)

	c.logger.InfoContext(ctx, "connected to message bus",
		slog.String("exchange", c.cfg.Exchange),
		slog.Int("subscriptions", len(c.subs)),
	)

	for _, sub := range c.subs {
		if err := c.consumeLocked(sub); err != nil {
			c.logger.ErrorContext(ctx, "failed to restore subscription",
				slog.String("topic", sub.topic),
				slog.String("error", err.Error()),
			)
		}
	}
	return ch, nil
}

// open dials the broker and prepares a channel. It runs without the mutex.
func (c *Client) open(ctx context.Context) (connection, channel, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, nil, "dial", err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, "open channel", err
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, "declare exchange", err
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, "set qos", err
		}
	}
	return conn, ch, "", nil
}

func (c *Client) connectFailedLocked(ctx context.Context, step string, err error) {
	c.logger.WarnContext(ctx, "message bus connection failed, retrying",
		slog.String("step", step),
		slog.Duration("delay", c.cfg.ReconnectDelay),
		slog.String("error", err.Error()),
	)
	if c.retry != nil || c.closed {
		return
	}
	c.retry = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		c.Connect(context.Background())
	})
}

// watch waits for the connection or channel of one generation to close and
// reconnects. Notifications from an older generation are ignored.
func (c *Client) watch(generation uint64, connClosed, chClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		return
	}

	attrs := []any{slog.String("exchange", c.cfg.Exchange)}
	if reason != nil {
		attrs = append(attrs, slog.String("reason", reason.Error()))
	}
	c.logger.Warn("message bus connection lost, reconnecting", attrs...)
	Reconnects.Inc()

	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	c.Connect(context.Background())
}

// Publish serializes message and publishes it with topic as the routing key.
// Without an open channel it first tries to connect.
func (c *Client) Publish(ctx context.Context, topic string, message any) error {
	body, err := Encode(message)
	if err != nil {
		return err
	}

	ch, err := c.connect(ctx)
	if errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	if err != nil {
		PublishErrors.WithLabelValues(topic).Inc()
		if errors.Is(err, ErrNotConnected) {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return fmt.Errorf("publish %s: %w: %w", topic, ErrNotConnected, err)
	}

	err = ch.Publish(c.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        c.cfg.AppID,
		Headers:      injectHeaders(ctx),
		Body:         body,
	})
	if err != nil {
		PublishErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	MessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe binds an exclusive, anonymous queue to topic and invokes handler
// for every delivery until ctx is done. Each delivery runs in its own
// goroutine. When the client is disconnected the subscription is registered
// and established on the next successful connect.
func (c *Client) Subscribe(ctx context.Context, topic string, mode AckMode, handler Handler) error {
	sub := &subscription{ctx: ctx, topic: topic, mode: mode, handler: handler}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subs = append(c.subs, sub)
	if c.ch != nil {
		defer c.mu.Unlock()
		return c.consumeLocked(sub)
	}
	// A successful connect consumes every registered subscription, so there
	// is nothing to wait for while an attempt or a retry is underway.
	pending := c.connecting != nil || c.retry != nil
	c.mu.Unlock()

	if !pending {
		c.Connect(ctx)
	}
	return nil
}

func (c *Client) consumeLocked(sub *subscription) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue for %s: %w", sub.topic, err)
	}
	if err := c.ch.QueueBind(q.Name, sub.topic, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue for %s: %w", sub.topic, err)
	}

	sub.tag = uuid.NewString()
	deliveries, err := c.ch.Consume(q.Name, sub.tag, sub.mode == AutoAck, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.topic, err)
	}

	c.logger.Debug("subscribed",
		slog.String("topic", sub.topic),
		slog.String("queue", q.Name),
		slog.String("ack", sub.mode.String()),
	)
	go c.receive(sub, deliveries)
	return nil
}

// receive is the receive loop of one subscription. It ends when the delivery
// channel closes (connection lost) or the subscription context is done.
func (c *Client) receive(sub *subscription, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-sub.ctx.Done():
			c.unsubscribe(sub)
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				c.dispatch(sub, d)
			}()
		}
	}
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	if c.ch != nil && sub.tag != "" {
		_ = c.ch.Cancel(sub.tag, false)
	}
}

func (c *Client) dispatch(sub *subscription, d amqp.Delivery) {
	ctx := extractHeaders(sub.ctx, d.Headers)
	msg := Message{Topic: d.RoutingKey, Body: d.Body, Redelivered: d.Redelivered}

	err := safeHandle(ctx, sub.handler, msg)
	if err == nil {
		MessagesConsumed.WithLabelValues(sub.topic, "ok").Inc()
		if sub.mode == ManualAck {
			if ackErr := d.Ack(false); ackErr != nil {
				c.logger.WarnContext(ctx, "failed to ack message",
					slog.String("topic", msg.Topic),
					slog.String("error", ackErr.Error()),
				)
			}
		}
		return
	}

	MessagesConsumed.WithLabelValues(sub.topic, "error").Inc()
	if sub.mode == AutoAck {
		c.logger.WarnContext(ctx, "message handler failed",
			slog.String("topic", msg.Topic),
			slog.String("error", err.Error()),
		)
		return
	}

	requeue := !d.Redelivered
	c.logger.ErrorContext(ctx, "message handler failed, rejecting",
		slog.String("topic", msg.Topic),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		c.logger.WarnContext(ctx, "failed to nack message",
			slog.String("topic", msg.Topic),
			slog.String("error", nackErr.Error()),
		)
	}
}

func safeHandle(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Close stops reconnecting, closes the channel and connection, and waits for
// in-flight handlers to return.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	c.inflight.Wait()
	return errors.Join(errs...)
}
