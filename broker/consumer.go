// Package broker consumes resume-extraction work from RabbitMQ. Deliveries
// are acknowledged immediately after validation: pipelines routinely outlive
// any broker visibility window, so recovery relies on registry idempotency
// rather than redelivery. The bounded handoff channel is the only
// backpressure against an overrunning queue.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yash91989201/bulk-resume-parser/metrics"
	"github.com/yash91989201/bulk-resume-parser/pipeline"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Config holds broker connection settings.
type Config struct {
	URL       string
	QueueName string
	// Prefetch is the broker-side unacked delivery cap.
	Prefetch int
}

// Consumer subscribes to the work queue and feeds validated units into the
// handoff channel.
type Consumer struct {
	cfg    Config
	units  chan pipeline.WorkUnit
	logger *slog.Logger

	// connected flips once the first subscription is established. Losing
	// an established connection triggers the reconnect loop; failing the
	// very first one is a fatal startup error.
	connected bool
}

// NewConsumer creates a Consumer with a handoff channel of the given
// capacity.
func NewConsumer(cfg Config, queueSize int, logger *slog.Logger) *Consumer {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		units:  make(chan pipeline.WorkUnit, queueSize),
		logger: logger,
	}
}

// Units is the handoff channel the worker pool drains. It is closed when
// Run returns.
func (c *Consumer) Units() <-chan pipeline.WorkUnit {
	return c.units
}

// Run consumes until ctx is cancelled, reconnecting with jittered backoff
// on connection loss. In-flight pipelines are unaffected by reconnects.
// An unreachable broker at startup is returned as a fatal error; the
// reconnect loop only covers connections that were established once.
// The handoff channel is closed on return so workers drain and exit.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.units)

	delay := reconnectBaseDelay
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Consumer stopping")
			return nil
		}
		if !c.connected {
			return fmt.Errorf("initial broker connection: %w", err)
		}

		c.logger.Warn("Broker connection lost, reconnecting",
			"delay", delay,
			"error", err)
		if !sleepWithContext(ctx, withJitter(delay)) {
			return nil
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// consumeOnce holds one connection for its lifetime: dial, declare, consume
// until the channel closes or ctx cancels.
func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	queue, err := ch.QueueDeclare(c.cfg.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.QueueName, err)
	}

	deliveries, err := ch.Consume(queue.Name,
		"",    // consumer tag
		false, // autoAck: acks are explicit, right after validation
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.connected = true
	c.logger.Info("Consuming",
		"queue", queue.Name,
		"prefetch", c.cfg.Prefetch)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handle(ctx, delivery); err != nil {
				return err
			}
		}
	}
}

// handle validates and early-acks one delivery, then blocks on the bounded
// handoff channel. Bad messages are rejected without requeue.
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) error {
	unit, err := decodeEnvelope(delivery.Body)
	if err != nil {
		c.logger.Warn("Rejecting bad message", "error", err)
		metrics.MessagesConsumed.WithLabelValues("rejected").Inc()
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			return fmt.Errorf("reject message: %w", nackErr)
		}
		return nil
	}

	// Early ack: the pipeline can take far longer than any redelivery
	// timeout, and a crashed run is recovered through the registry, not
	// the broker.
	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	metrics.MessagesConsumed.WithLabelValues("accepted").Inc()

	select {
	case c.units <- unit:
		c.logger.Debug("Queued work unit",
			"task_id", unit.TaskID,
			"user_id", unit.UserID)
		return nil
	case <-ctx.Done():
		// Acked but undispatched: the task stays non-terminal and a
		// later retry re-runs it.
		c.logger.Warn("Shutdown with acked unit undispatched",
			"task_id", unit.TaskID)
		return ctx.Err()
	}
}

func withJitter(d time.Duration) time.Duration {
	quarter := int64(d / 4)
	if quarter <= 0 {
		return d
	}
	return d - time.Duration(quarter) + time.Duration(rand.Int63n(2*quarter))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
