package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledgercache/internal/log"
)

// RoutingKey is shared by every cache queue so each bound queue receives its
// own copy of every invalidation.
const RoutingKey = "cache.invalidate"

// Handler applies one invalidation. A returned error requeues the message.
type Handler func(ctx context.Context, msg *InvalidationMessage) error

var errDeliveriesClosed = errors.New("message channel closed")

// Client publishes and consumes invalidations on a durable direct exchange.
// A consuming client binds a queue with RoutingKey; unless a queue name is
// configured the broker names it and it lives only as long as the connection.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	consumer     bool
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string // name actually declared on the current channel
}

// NewClient connects a client that can consume invalidations. An empty
// queueName declares an exclusive broker-named queue for this instance.
func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	return dial(url, exchangeName, queueName, true, logger)
}

// NewPublisher connects a publish-only client. It declares the exchange and
// no queue.
func NewPublisher(url, exchangeName string, logger *log.Logger) (*Client, error) {
	return dial(url, exchangeName, "", false, logger)
}

func dial(url, exchangeName, queueName string, consumer bool, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentAMQP)
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		consumer:     consumer,
		logger:       logger.WithComponent(log.ComponentAMQP),
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

	if err := declareExchange(channel, c.exchangeName); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	var queue string
	if c.consumer {
		queue, err = declareQueue(channel, c.exchangeName, queueFor(c.queueName))
		if err != nil {
			channel.Close()
			conn.Close()
			return err
		}
	}

	c.mu.Lock()
	oldConn := c.conn
	c.conn, c.channel, c.queue = conn, channel, queue
	c.mu.Unlock()

	if oldConn != nil {
		oldConn.Close()
	}
	return nil
}

func declareExchange(channel *amqp091.Channel, exchangeName string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// queueSpec holds the declare flags for a consumer queue.
type queueSpec struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

// queueFor returns a durable shared queue for a configured name, and an
// exclusive auto-deleted broker-named queue otherwise.
func queueFor(name string) queueSpec {
	if name == "" {
		return queueSpec{autoDelete: true, exclusive: true}
	}
	return queueSpec{name: name, durable: true}
}

// perInstance reports whether the queue disappears with its connection, so
// messages sent while disconnected are lost.
func (q queueSpec) perInstance() bool {
	return q.exclusive
}

func declareQueue(channel *amqp091.Channel, exchangeName string, spec queueSpec) (string, error) {
	q, err := channel.QueueDeclare(
		spec.name,       // name, empty lets the broker pick one
		spec.durable,    // durable
		spec.autoDelete, // delete when unused
		spec.exclusive,  // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(q.Name, RoutingKey, exchangeName, false, nil); err != nil {
		return "", fmt.Errorf("bind queue: %w", err)
	}
	return q.Name, nil
}

func (c *Client) currentQueue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// PublishInvalidation publishes a cache invalidation message
func (c *Client) PublishInvalidation(ctx context.Context, msg *InvalidationMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.currentChannel().PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		RoutingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.logger.DebugContext(ctx, "Published invalidation message",
		log.FieldScope, string(msg.Scope),
		log.FieldDay, msg.Day,
		"exchange", c.exchangeName)

	return nil
}

// ConsumeInvalidations delivers messages to handler until ctx is done,
// reconnecting with exponential backoff when the broker connection drops.
// A per-instance queue loses whatever was published while disconnected, so
// after such a reconnect handler receives a full invalidation.
func (c *Client) ConsumeInvalidations(ctx context.Context, handler Handler) error {
	if !c.consumer {
		return errors.New("client was opened as a publisher")
	}
	attempt := 0
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, errDeliveriesClosed) && !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "AMQP consumer disconnected, reconnecting",
			log.FieldError, err, "attempt", attempt+1, "backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err := c.connect(); err != nil {
			c.logger.ErrorContext(ctx, "AMQP reconnect failed", log.FieldError, err)
			attempt++
			continue
		}
		attempt = 0

		if queueFor(c.queueName).perInstance() {
			c.logger.WarnContext(ctx, "Per-instance queue recreated, dropping cached days")
			if err := handler(ctx, NewFullInvalidation()); err != nil {
				c.logger.ErrorContext(ctx, "Failed to apply full invalidation after reconnect", log.FieldError, err)
			}
		}
	}
}

func (c *Client) consume(ctx context.Context, handler Handler) error {
	queue := c.currentQueue()
	msgs, err := c.currentChannel().Consume(
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

	c.logger.InfoContext(ctx, "Started consuming invalidation messages", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}

			msg, err := InvalidationMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Failed to decode invalidation message", log.FieldError, err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle invalidation message",
					log.FieldError, err,
					log.FieldScope, string(msg.Scope),
					log.FieldDay, msg.Day)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// exponentialBackoff doubles from one second and caps at thirty.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 4 {
		return 30 * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection", "EOF", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
