package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/internal/events"
	"github.com/pablohfr/notifications-service/internal/realtime"
	"github.com/pablohfr/notifications-service/pkg/logger"
	"github.com/pablohfr/notifications-service/pkg/metrics"
)

// Outcome is the acknowledgement decision for one delivery.
type Outcome int

const (
	// OutcomeAcknowledged removes the delivery from the queue.
	OutcomeAcknowledged Outcome = iota
	// OutcomeFailed leaves the delivery for redelivery.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NotificationWriter persists notifications for a set of recipients.
type NotificationWriter interface {
	CreateBulk(ctx context.Context, recipientIDs []string, tpl NotificationTemplate) ([]NotificationDTO, error)
}

// Pusher delivers a payload to a recipient's live channel, reporting whether
// the recipient was online.
type Pusher interface {
	Push(ctx context.Context, recipientID, event string, payload any) (bool, error)
}

type normalizeFunc func(events.Envelope) (NotificationRequest, bool, error)

type eventHandler struct {
	liveEvent string
	normalize normalizeFunc
}

func normalizeWith[T any](fn func(T) (NotificationRequest, bool)) normalizeFunc {
	return func(env events.Envelope) (NotificationRequest, bool, error) {
		data, err := events.DecodeData[T](env)
		if err != nil {
			return NotificationRequest{}, false, err
		}
		req, ok := fn(data)
		return req, ok, nil
	}
}

// CoordinatorOption customises a FanoutCoordinator.
type CoordinatorOption func(*FanoutCoordinator)

// WithProcessingTimeout bounds the time spent on a single delivery. Zero disables the bound.
func WithProcessingTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *FanoutCoordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// FanoutCoordinator turns broker deliveries into persisted notifications and
// live pushes, and decides whether each delivery is acknowledged.
type FanoutCoordinator struct {
	store    NotificationWriter
	pusher   Pusher
	handlers map[string]eventHandler
	timeout  time.Duration
	log      *zap.Logger
}

// NewFanoutCoordinator constructs a coordinator. A nil pusher disables live delivery.
func NewFanoutCoordinator(store NotificationWriter, pusher Pusher, opts ...CoordinatorOption) (*FanoutCoordinator, error) {
	if store == nil {
		return nil, errors.New("fanout coordinator: store is required")
	}

	c := &FanoutCoordinator{
		store:  store,
		pusher: pusher,
		handlers: map[string]eventHandler{
			events.PatternTaskCreated: {
				liveEvent: realtime.EventTaskCreated,
				normalize: normalizeWith(NormalizeTaskCreated),
			},
			events.PatternTaskUpdated: {
				liveEvent: realtime.EventTaskUpdated,
				normalize: normalizeWith(NormalizeTaskUpdated),
			},
			events.PatternCommentCreated: {
				liveEvent: realtime.EventCommentNew,
				normalize: normalizeWith(NormalizeCommentCreated),
			},
		},
		log: logger.WithModule("fanout"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Handle processes one raw delivery body. Malformed and unknown events are
// acknowledged and dropped; persistence failures return OutcomeFailed.
func (c *FanoutCoordinator) Handle(ctx context.Context, body []byte) Outcome {
	ctx = ensureContext(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	env, err := events.DecodeEnvelope(body)
	if err != nil {
		c.log.Warn("dropping malformed event", zap.Error(err))
		metrics.EventsProcessed.WithLabelValues("unknown", "malformed").Inc()
		return OutcomeAcknowledged
	}

	handler, ok := c.handlers[env.Pattern]
	if !ok {
		c.log.Warn("dropping event with unknown pattern", zap.String("pattern", env.Pattern))
		metrics.EventsProcessed.WithLabelValues("unknown", "malformed").Inc()
		return OutcomeAcknowledged
	}

	req, ok, err := handler.normalize(env)
	if err != nil {
		c.log.Warn("dropping malformed event", zap.String("pattern", env.Pattern), zap.Error(err))
		metrics.EventsProcessed.WithLabelValues(env.Pattern, "malformed").Inc()
		return OutcomeAcknowledged
	}
	if !ok {
		c.log.Debug("event has no recipients", zap.String("pattern", env.Pattern))
		metrics.EventsProcessed.WithLabelValues(env.Pattern, OutcomeAcknowledged.String()).Inc()
		return OutcomeAcknowledged
	}

	created, err := c.store.CreateBulk(ctx, req.Recipients, req.Template)
	if err != nil {
		c.log.Error("persist notifications",
			zap.String("pattern", env.Pattern),
			zap.Int("recipients", len(req.Recipients)),
			zap.Error(err),
		)
		metrics.EventsProcessed.WithLabelValues(env.Pattern, OutcomeFailed.String()).Inc()
		return OutcomeFailed
	}
	metrics.NotificationsPersisted.WithLabelValues(string(req.Template.Kind)).Add(float64(len(created)))

	c.dispatch(ctx, handler.liveEvent, created)

	metrics.EventsProcessed.WithLabelValues(env.Pattern, OutcomeAcknowledged.String()).Inc()
	return OutcomeAcknowledged
}

func (c *FanoutCoordinator) dispatch(ctx context.Context, event string, created []NotificationDTO) {
	if c.pusher == nil {
		return
	}

	for _, notification := range created {
		delivered, err := c.pusher.Push(ctx, notification.UserID, event, notification)
		switch {
		case err != nil:
			c.log.Warn("live delivery failed",
				zap.String("recipient", notification.UserID),
				zap.String("notification", notification.ID),
				zap.Error(err),
			)
			metrics.Deliveries.WithLabelValues("error").Inc()
		case delivered:
			metrics.Deliveries.WithLabelValues("delivered").Inc()
		default:
			metrics.Deliveries.WithLabelValues("offline").Inc()
		}
	}
}
