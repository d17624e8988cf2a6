package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"powermon/config"
)

// heartbeatMessage is the JSON payload probes publish over AMQP/MQTT.
type heartbeatMessage struct {
	APIKey string    `json:"api_key"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

// HeartbeatConsumer consumes probe heartbeats from RabbitMQ and feeds them
// into the ingester. Malformed and unauthorized messages are dropped with
// an ack; only infrastructure failures requeue.
type HeartbeatConsumer struct {
	config    *config.Config
	ingester  *HeartbeatIngester
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	reconnect chan bool
	isClosing bool
}

// NewHeartbeatConsumer connects to RabbitMQ and declares the heartbeat
// exchange and queue.
func NewHeartbeatConsumer(cfg *config.Config, ingester *HeartbeatIngester, logger *zap.Logger) (*HeartbeatConsumer, error) {
	consumer := &HeartbeatConsumer{
		config:    cfg,
		ingester:  ingester,
		logger:    logger,
		reconnect: make(chan bool),
		isClosing: false,
	}

	if err := consumer.connect(); err != nil {
		return nil, err
	}

	return consumer, nil
}

// connect establishes the connection and declares exchange, queue and
// bindings. Also binds to amq.topic so heartbeats published through the
// broker's MQTT plugin land in the same queue.
func (c *HeartbeatConsumer) connect() error {
	var err error

	c.logger.Info("Connecting to RabbitMQ", zap.String("url", c.config.AMQPUrl))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		c.conn, err = amqp.Dial(c.config.AMQPUrl)
		if err == nil {
			break
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	c.logger.Info("Connected to RabbitMQ successfully")

	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = c.channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.AMQPExchange, // name
		"direct",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := c.channel.QueueDeclare(
		c.config.AMQPQueue, // name
		true,               // durable
		false,              // delete when unused
		false,              // exclusive
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,            // queue name
		c.config.AMQPQueue,    // routing key (same as queue name)
		c.config.AMQPExchange, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// MQTT probes publish through amq.topic.
	err = c.channel.QueueBind(
		queue.Name,         // queue name
		c.config.AMQPQueue, // routing key (MQTT topic)
		"amq.topic",        // MQTT default exchange
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	c.logger.Info("Heartbeat queue ready",
		zap.String("queue", queue.Name),
		zap.String("exchange", c.config.AMQPExchange))

	go c.handleReconnect()

	return nil
}

// handleReconnect re-establishes the connection when the broker drops it.
func (c *HeartbeatConsumer) handleReconnect() {
	for {
		closeErr := <-c.conn.NotifyClose(make(chan *amqp.Error))
		if c.isClosing {
			c.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		c.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

		for {
			c.logger.Info("Attempting to reconnect to RabbitMQ...")
			err := c.connect()
			if err == nil {
				c.logger.Info("Successfully reconnected to RabbitMQ")
				c.reconnect <- true
				break
			}

			c.logger.Error("Failed to reconnect", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

// Consume receives heartbeat messages until the context ends.
func (c *HeartbeatConsumer) Consume(ctx context.Context) error {
	for {
		msgs, err := c.channel.Consume(
			c.config.AMQPQueue, // queue
			"powermon",         // consumer tag
			false,              // auto-ack (false = manual ack)
			false,              // exclusive
			false,              // no-local
			false,              // no-wait
			nil,                // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		c.logger.Info("Started consuming heartbeats from RabbitMQ",
			zap.String("queue", c.config.AMQPQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-c.reconnect:
				c.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("Message channel closed")
					time.Sleep(1 * time.Second)
					break consumeLoop
				}

				if err := c.processMessage(ctx, msg); err != nil {
					c.logger.Error("Failed to process heartbeat message",
						zap.Error(err),
						zap.String("message_id", msg.MessageId))
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}
}

// processMessage parses a heartbeat payload and hands it to the ingester.
// Bad payloads and unknown API keys return nil so they are acked and
// dropped instead of poisoning the queue.
func (c *HeartbeatConsumer) processMessage(ctx context.Context, msg amqp.Delivery) error {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Body, &hb); err != nil {
		c.logger.Warn("Dropping malformed heartbeat message", zap.Error(err))
		return nil
	}

	if hb.APIKey == "" {
		c.logger.Warn("Dropping heartbeat message without api_key")
		return nil
	}

	result, err := c.ingester.Ingest(ctx, hb.APIKey, time.Now())
	if err != nil {
		return err
	}

	switch result {
	case IngestUnauthorized:
		c.logger.Warn("Dropping heartbeat with unknown API key")
	case IngestDuplicate:
		c.logger.Debug("Duplicate heartbeat ignored")
	default:
		c.logger.Debug("Heartbeat ingested from RabbitMQ")
	}

	return nil
}

// Close gracefully closes the RabbitMQ connection.
func (c *HeartbeatConsumer) Close() error {
	c.isClosing = true

	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}
