package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/internal/realtime"
	"github.com/pablohfr/notifications-service/pkg/logger"
	"github.com/pablohfr/notifications-service/pkg/metrics"
)

// HistoryPayload is the body of the notifications:history frame.
type HistoryPayload struct {
	Notifications []NotificationDTO `json:"notifications"`
	Count         int               `json:"count"`
}

// HistoryReader loads a recipient's recent notifications.
type HistoryReader interface {
	QueryRecent(ctx context.Context, recipientID string, window time.Duration, limit int) ([]NotificationDTO, error)
}

// HistoryService registers new connections and replays recent history over them.
type HistoryService struct {
	registry *realtime.Registry
	reader   HistoryReader
	window   time.Duration
	limit    int
	log      *zap.Logger
}

// HistoryOption customises a HistoryService.
type HistoryOption func(*HistoryService)

// WithHistoryWindow overrides the trailing window replayed on connect.
func WithHistoryWindow(window time.Duration) HistoryOption {
	return func(s *HistoryService) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithHistoryLimit overrides the maximum number of notifications replayed on connect.
func WithHistoryLimit(limit int) HistoryOption {
	return func(s *HistoryService) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(registry *realtime.Registry, reader HistoryReader, opts ...HistoryOption) (*HistoryService, error) {
	if registry == nil {
		return nil, errors.New("history service: registry is required")
	}
	if reader == nil {
		return nil, errors.New("history service: reader is required")
	}

	s := &HistoryService{
		registry: registry,
		reader:   reader,
		window:   DefaultHistoryWindow,
		limit:    DefaultHistoryLimit,
		log:      logger.WithModule("history"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recent returns the recipient's history snapshot.
func (s *HistoryService) Recent(ctx context.Context, identity string) (HistoryPayload, error) {
	items, err := s.reader.QueryRecent(ensureContext(ctx), identity, s.window, s.limit)
	if err != nil {
		return HistoryPayload{}, err
	}
	return HistoryPayload{Notifications: items, Count: len(items)}, nil
}

// Attach registers ch for identity and sends the history snapshot over it.
// The snapshot is sent even when it is empty.
func (s *HistoryService) Attach(ctx context.Context, identity string, ch realtime.Channel) error {
	s.registry.Register(identity, ch)
	metrics.ActiveConnections.Set(float64(s.registry.Len()))
	s.log.Debug("channel registered", zap.String("identity", identity), zap.String("channel", ch.ID()))

	payload, err := s.Recent(ctx, identity)
	if err != nil {
		return fmt.Errorf("history service: load history: %w", err)
	}

	if err := ch.Send(ctx, realtime.Message{Event: realtime.EventHistory, Data: payload}); err != nil {
		return fmt.Errorf("history service: send history: %w", err)
	}
	return nil
}

// Detach removes ch from the registry if it is still the identity's current channel.
func (s *HistoryService) Detach(ch realtime.Channel) {
	identity, removed := s.registry.Unregister(ch)
	metrics.ActiveConnections.Set(float64(s.registry.Len()))
	if removed {
		s.log.Debug("channel unregistered", zap.String("identity", identity), zap.String("channel", ch.ID()))
	}
}
