package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrCircuitOpen is returned when publishing is refused after repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queues       []string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	// circuit breaker
	state        int32
	failureCount int64
	cbMu         sync.Mutex
	lastFailure  time.Time
}

// NewClient dials url and declares a direct exchange with one durable queue
// per name, each bound under its own name as routing key.
func NewClient(url, exchangeName string, queues ...string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queues:       queues,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func (c *Client) setup(channel *amqp091.Channel) error {
	err := channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range c.queues {
		_, err = channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// routing key is the queue name on a direct exchange
		if err := channel.QueueBind(queue, queue, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// reconnect redials with exponential backoff until it succeeds or ctx ends.
func (c *Client) reconnect(ctx context.Context) error {
	c.closeConnection()

	for attempt := 0; ; attempt++ {
		err := c.connect()
		if err == nil {
			slog.InfoContext(ctx, "Reconnected to AMQP broker", "attempt", attempt+1)
			c.recordSuccess()
			return nil
		}

		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP reconnect failed",
			"attempt", attempt+1,
			"retry_in", wait,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) connected() (*amqp091.Connection, *amqp091.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		return nil, nil
	}
	return c.conn, c.channel
}

// Publish sends body to queue through the exchange.
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", queue, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, channel := c.connected()
	if channel == nil {
		if err := c.reconnectOnce(); err != nil {
			c.recordFailure()
			return fmt.Errorf("publish to %s: %w", queue, err)
		}
		_, channel = c.connected()
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := channel.PublishWithContext(
		pubCtx,
		c.exchangeName, // exchange
		queue,          // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.closeConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

func (c *Client) reconnectOnce() error {
	c.closeConnection()
	return c.connect()
}

// PublishGenerationRequest asks the recurring worker to run a pass for userID.
func (c *Client) PublishGenerationRequest(ctx context.Context, queue, userID string) error {
	body, err := NewGenerationRequestMessage(userID).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.Publish(ctx, queue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published generation request",
		"user_id", userID,
		"exchange", c.exchangeName,
		"queue", queue)
	return nil
}

// PublishOccurrencesGenerated announces freshly stored occurrences.
func (c *Client) PublishOccurrencesGenerated(ctx context.Context, queue string, msg *OccurrencesGeneratedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.Publish(ctx, queue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published occurrences generated event",
		"user_id", msg.UserID,
		"definition_id", msg.DefinitionID,
		"count", len(msg.Occurrences),
		"queue", queue)
	return nil
}

// ConsumeGenerationRequests blocks delivering generation requests to handler
// until ctx is cancelled.
func (c *Client) ConsumeGenerationRequests(ctx context.Context, queue string, handler func(context.Context, *GenerationRequestMessage) error) error {
	return c.consume(ctx, queue, func(ctx context.Context, body []byte) (bool, error) {
		msg, err := GenerationRequestMessageFromJSON(body)
		if err != nil {
			return false, err
		}
		return true, handler(ctx, msg)
	})
}

// ConsumeOccurrenceEvents blocks delivering occurrence events to handler
// until ctx is cancelled.
func (c *Client) ConsumeOccurrenceEvents(ctx context.Context, queue string, handler func(context.Context, *OccurrencesGeneratedMessage) error) error {
	return c.consume(ctx, queue, func(ctx context.Context, body []byte) (bool, error) {
		msg, err := OccurrencesGeneratedMessageFromJSON(body)
		if err != nil {
			return false, err
		}
		return true, handler(ctx, msg)
	})
}

// consume keeps a consumer alive across broker restarts. handle reports
// whether the body decoded; undecodable messages are dropped, handler errors
// are requeued.
func (c *Client) consume(ctx context.Context, queue string, handle func(context.Context, []byte) (bool, error)) error {
	for attempt := 0; ; attempt++ {
		err := c.consumeOnce(ctx, queue, handle)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		}

		slog.WarnContext(ctx, "Consumer interrupted, reconnecting", "queue", queue, "error", err)
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, queue string, handle func(context.Context, []byte) (bool, error)) error {
	conn, _ := c.connected()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	// dedicated channel so publishing and consuming do not share flow control
	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer channel.Close()

	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming messages", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			decoded, err := handle(ctx, delivery.Body)
			switch {
			case !decoded:
				slog.ErrorContext(ctx, "Failed to unmarshal message", "queue", queue, "error", err)
				delivery.Nack(false, false) // reject and don't requeue
			case err != nil:
				slog.ErrorContext(ctx, "Failed to handle message", "queue", queue, "error", err)
				delivery.Nack(false, true) // reject and requeue
			default:
				delivery.Ack(false)
			}
		}
	}
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.cbMu.Lock()
	last := c.lastFailure
	c.cbMu.Unlock()

	if time.Since(last) > openTimeout {
		// let one attempt through
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)

	c.cbMu.Lock()
	c.lastFailure = time.Now()
	c.cbMu.Unlock()

	if count >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened", "failures", count)
		}
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

// exponentialBackoff doubles from one second and caps at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
