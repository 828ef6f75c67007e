// Package broker consumes task events from RabbitMQ and hands each delivery to
// the fan-out coordinator, acknowledging or requeueing based on its outcome.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/internal/services"
	"github.com/pablohfr/notifications-service/pkg/logger"
)

const (
	defaultQueue        = "events_queue"
	defaultPrefetch     = 1
	defaultRequeueDelay = time.Second
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
	defaultHeartbeat    = 10 * time.Second
)

var errConnectionLost = errors.New("broker: delivery channel closed")

// Config controls how the consumer connects and consumes.
type Config struct {
	URL          string
	Queue        string
	Durable      bool
	Prefetch     int
	ConsumerTag  string
	RequeueDelay time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimSpace(c.URL)
	if strings.TrimSpace(c.Queue) == "" {
		c.Queue = defaultQueue
	}
	if c.Prefetch <= 0 {
		c.Prefetch = defaultPrefetch
	}
	if c.RequeueDelay < 0 {
		c.RequeueDelay = 0
	} else if c.RequeueDelay == 0 {
		c.RequeueDelay = defaultRequeueDelay
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = defaultReconnectMax
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	return c
}

// Handler decides the outcome of one delivery body.
type Handler interface {
	Handle(ctx context.Context, body []byte) services.Outcome
}

// Consumer reads deliveries one at a time and reconnects with capped
// exponential backoff when the broker goes away.
type Consumer struct {
	cfg     Config
	handler Handler
	log     *zap.Logger
}

// NewConsumer constructs a consumer.
func NewConsumer(cfg Config, handler Handler) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("broker: handler is required")
	}
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("broker: url is required")
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		log:     logger.WithModule("broker"),
	}, nil
}

type session struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
}

func (s *session) close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil && !s.conn.IsClosed() {
		_ = s.conn.Close()
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		var current *session
		err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			s, err := c.connect()
			if err != nil {
				c.log.Warn("connect failed, retrying", zap.String("queue", c.cfg.Queue), zap.Error(err))
				return retry.RetryableError(err)
			}
			current = s
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.log.Info("consuming", zap.String("queue", c.cfg.Queue), zap.Int("prefetch", c.cfg.Prefetch))
		err = c.consume(ctx, current)
		current.close()

		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}
		c.log.Warn("broker connection lost, reconnecting", zap.Error(err))
	}
}

func (c *Consumer) backoff() retry.Backoff {
	return retry.WithCappedDuration(c.cfg.ReconnectMax, retry.NewExponential(c.cfg.ReconnectMin))
}

func (c *Consumer) connect() (*session, error) {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat:  defaultHeartbeat,
		Properties: amqp.Table{"connection_name": "notifications-service"},
	})
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	s := &session{conn: conn}
	s.channel, err = conn.Channel()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := s.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		s.close()
		return nil, fmt.Errorf("broker: set prefetch: %w", err)
	}
	if _, err := s.channel.QueueDeclare(c.cfg.Queue, c.cfg.Durable, false, false, false, nil); err != nil {
		s.close()
		return nil, fmt.Errorf("broker: declare queue %s: %w", c.cfg.Queue, err)
	}

	s.deliveries, err = s.channel.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("broker: consume %s: %w", c.cfg.Queue, err)
	}
	s.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
	return s, nil
}

func (c *Consumer) consume(ctx context.Context, s *session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-s.closed:
			if ok && amqpErr != nil {
				return amqpErr
			}
			return errConnectionLost
		case d, ok := <-s.deliveries:
			if !ok {
				return errConnectionLost
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery applies the handler outcome to d. Failed deliveries are
// requeued after RequeueDelay so a persistent store outage does not spin.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	outcome := c.handler.Handle(ctx, d.Body)

	if outcome == services.OutcomeAcknowledged {
		if err := d.Ack(false); err != nil {
			c.log.Error("ack failed", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
		}
		return
	}

	c.log.Warn("requeueing delivery",
		zap.Uint64("tag", d.DeliveryTag),
		zap.Bool("redelivered", d.Redelivered),
		zap.Duration("delay", c.cfg.RequeueDelay),
	)
	c.wait(ctx, c.cfg.RequeueDelay)
	if err := d.Nack(false, true); err != nil {
		c.log.Error("nack failed", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
	}
}

func (c *Consumer) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
