// Package rabbitmq implements the queue contracts on RabbitMQ. Delayed
// redelivery relies on the broker's x-delayed-message exchange plugin.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kart-io/sendflow/config"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/queue"
)

var (
	_ queue.Publisher = (*Client)(nil)
	_ queue.Consumer  = (*Consumer)(nil)
)

// Client owns one connection with one channel and the declared topology
type Client struct {
	cfg     config.RabbitMQConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  logger.Interface
}

// New connects to the broker and declares both exchanges, both queues and
// their bindings.
func New(cfg config.RabbitMQConfig, log logger.Interface) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connection failed: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel failed: %v", err)
	}

	c := &Client{cfg: cfg, conn: conn, channel: ch, logger: log}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) declare() error {
	if err := c.channel.ExchangeDeclare(
		c.cfg.Exchange, "direct", true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %v", c.cfg.Exchange, err)
	}

	if err := c.channel.ExchangeDeclare(
		c.cfg.DelayExchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		return fmt.Errorf("declare delay exchange %s: %v", c.cfg.DelayExchange, err)
	}

	if _, err := c.channel.QueueDeclare(
		c.cfg.Queue, true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %v", c.cfg.Queue, err)
	}
	if err := c.channel.QueueBind(
		c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil,
	); err != nil {
		return fmt.Errorf("bind queue %s: %v", c.cfg.Queue, err)
	}

	if _, err := c.channel.QueueDeclare(
		c.cfg.DelayQueue, true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare delay queue %s: %v", c.cfg.DelayQueue, err)
	}
	if err := c.channel.QueueBind(
		c.cfg.DelayQueue, c.cfg.DelayRoutingKey, c.cfg.DelayExchange, false, nil,
	); err != nil {
		return fmt.Errorf("bind delay queue %s: %v", c.cfg.DelayQueue, err)
	}
	return nil
}

// Publish sends body on the immediate exchange, typed for the consumer
func (c *Client) Publish(ctx context.Context, body []byte, messageType string) error {
	err := c.channel.PublishWithContext(ctx,
		c.cfg.Exchange, c.cfg.RoutingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         messageType,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %v", c.cfg.Exchange, err)
	}
	return nil
}

// PublishDelay sends body on the delay exchange; the broker holds it for ttl
// before routing it to the delay queue.
func (c *Client) PublishDelay(ctx context.Context, body []byte, ttl time.Duration) error {
	err := c.channel.PublishWithContext(ctx,
		c.cfg.DelayExchange, c.cfg.DelayRoutingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"x-delay": ttl.Milliseconds()},
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %v", c.cfg.DelayExchange, err)
	}
	return nil
}

// Close releases the channel and connection
func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Consumer reads one queue and feeds deliveries to a handler
type Consumer struct {
	client *Client
	queue  string
}

// NewConsumer creates a consumer for the immediate send queue
func NewConsumer(client *Client) *Consumer {
	return &Consumer{client: client, queue: client.cfg.Queue}
}

// NewDelayConsumer creates a consumer for the delayed reconciliation queue
func NewDelayConsumer(client *Client) *Consumer {
	return &Consumer{client: client, queue: client.cfg.DelayQueue}
}

// Consume blocks reading deliveries until ctx is cancelled or the channel
// closes. A handler error requeues the delivery once via Nack.
func (c *Consumer) Consume(ctx context.Context, handler queue.HandlerFunc) error {
	deliveries, err := c.client.channel.Consume(
		c.queue, "", false, false, false, false, nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %v", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: channel closed", c.queue)
			}
			if err := handler(ctx, queue.Delivery{Body: d.Body, MessageType: d.Type}); err != nil {
				c.client.logger.Error(ctx, "delivery handling failed on %s: %v", c.queue, err)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
