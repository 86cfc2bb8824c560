// Package rabbitmq wraps amqp091 for the engagement-events exchange.
// The API publishes lead engagement signals here and the worker
// consumes them.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Exchange          string
	Queue             string
	RoutingKey        string
	PrefetchCount     int
	DialAttempts      int
	DialRetryInterval time.Duration
	Heartbeat         time.Duration
}

// Client is a single-channel AMQP client bound to one durable exchange
// and queue.
type Client struct {
	config  *Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewClient connects, declares the exchange/queue topology, and binds
// them. Dialing retries on a fixed interval.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	attempts := c.config.DialAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := c.config.DialRetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.conn, err = amqp.DialConfig(dsn, amqp.Config{
			Heartbeat: c.config.Heartbeat,
			Locale:    "en_US",
		})
		if err == nil {
			break
		}
		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if attempt < attempts {
			time.Sleep(interval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareTopology(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	c.logger.Info("RabbitMQ client ready",
		slog.String("exchange", c.config.Exchange),
		slog.String("queue", c.config.Queue),
		slog.String("routing_key", c.config.RoutingKey),
	)
	return nil
}

func (c *Client) declareTopology() error {
	if err := c.channel.ExchangeDeclare(
		c.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(
		c.config.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(
		c.config.Queue,
		c.config.RoutingKey,
		c.config.Exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Publish sends one persistent JSON message to the exchange.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	err := c.channel.PublishWithContext(
		ctx,
		c.config.Exchange,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	c.logger.Debug("Message published", slog.Int("body_size", len(body)))
	return nil
}

// Consume starts delivering messages from the queue with manual acks
// and per-consumer prefetch.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	prefetch := c.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.config.Queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Consuming from RabbitMQ",
		slog.String("queue", c.config.Queue),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// Close shuts the channel and connection down.
func (c *Client) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.String("error", err.Error()))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}
	return nil
}

// IsConnected reports whether the underlying connection is open.
func (c *Client) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}
