package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Disposition tells the consumer what to do with a processed delivery.
type Disposition int

const (
	// Ack removes the message from the queue permanently.
	Ack Disposition = iota
	// RequeueQuiet redelivers the message without an error log; used for
	// expected lock contention.
	RequeueQuiet
	// RequeueError redelivers the message and logs the accompanying error.
	RequeueError
)

// MessageHandler processes one message body and decides its disposition
type MessageHandler func(ctx context.Context, body []byte) (Disposition, error)

// Consumer handles message consumption from RabbitMQ. Prefetch is fixed at
// one unacknowledged message per consumer so a slow device never starves
// other consumer instances (fair dispatch).
type Consumer struct {
	conn    *Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
	handler MessageHandler
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection *Connection
	Queue      string
	Logger     *zap.Logger
	Handler    MessageHandler
}

// NewConsumer creates a new RabbitMQ consumer on the default exchange
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// One in-flight message per consumer instance.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Consumer{
		conn:    cfg.Connection,
		channel: ch,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
		handler: cfg.Handler,
	}, nil
}

// Start starts consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started", zap.String("queue", c.queue))

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// processMessage runs the handler and settles the delivery. Every path ends
// in an ack or a nack-with-requeue; a sync request is never dropped.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	deviceID := string(msg.Body)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing message, requeueing",
				zap.Any("panic", r),
				zap.String("device_id", deviceID),
			)
			if nackErr := msg.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to NACK message after panic", zap.Error(nackErr))
			}
		}
	}()

	c.logger.Info("received sync request",
		zap.String("queue", c.queue),
		zap.String("device_id", deviceID),
	)

	disposition, err := c.handler(ctx, msg.Body)

	switch disposition {
	case Ack:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ACK message", zap.Error(ackErr))
			return
		}
		c.logger.Info("sync request acknowledged", zap.String("device_id", deviceID))
	case RequeueQuiet:
		c.logger.Info("sync request requeued", zap.String("device_id", deviceID))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
	case RequeueError:
		c.logger.Error("failed to process sync request, requeueing",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
	}
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
