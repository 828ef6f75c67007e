package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/models"
)

const (
	// DefaultHistoryWindow bounds how far back QueryRecent looks.
	DefaultHistoryWindow = 24 * time.Hour
	// DefaultHistoryLimit caps the number of rows QueryRecent returns.
	DefaultHistoryLimit = 20

	defaultListLimit = 25
	maxListLimit     = 100
	insertBatchSize  = 100
)

// ErrStoreUnavailable marks read/write failures against the notification
// store. Callers treat it as transient.
var ErrStoreUnavailable = errors.New("notification store unavailable")

// NotificationDTO is the wire representation of a notification, shared by
// live pushes, history snapshots and the HTTP API.
type NotificationDTO struct {
	ID        string                  `json:"id"`
	UserID    string                  `json:"userId"`
	Type      models.NotificationKind `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

// NotificationTemplate holds the fields shared by every row of a bulk insert.
type NotificationTemplate struct {
	Kind     models.NotificationKind
	Title    string
	Message  string
	Metadata map[string]any
}

// ListNotificationsInput defines filters for paged listing.
type ListNotificationsInput struct {
	UserID string
	Limit  int
	Offset int
}

// NotificationStore persists notifications. Rows are append-only.
type NotificationStore struct {
	db  *gorm.DB
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// StoreOption customises a NotificationStore.
type StoreOption func(*NotificationStore)

// WithStoreClock overrides the clock used to stamp createdAt and evaluate history windows.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *NotificationStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewNotificationStore constructs a NotificationStore.
func NewNotificationStore(db *gorm.DB, opts ...StoreOption) (*NotificationStore, error) {
	if db == nil {
		return nil, errors.New("notification store: db is required")
	}
	s := &NotificationStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateBulk writes one notification per distinct recipient inside a single
// transaction. An empty recipient set performs no write.
func (s *NotificationStore) CreateBulk(ctx context.Context, recipientIDs []string, tpl NotificationTemplate) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	recipients := normaliseIDs(recipientIDs)
	if len(recipients) == 0 {
		return []NotificationDTO{}, nil
	}
	if !tpl.Kind.Valid() {
		return nil, fmt.Errorf("notification store: unknown kind %q", tpl.Kind)
	}

	var metadata datatypes.JSON
	if tpl.Metadata != nil {
		data, err := json.Marshal(tpl.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification store: marshal metadata: %w", err)
		}
		metadata = datatypes.JSON(data)
	}

	createdAt := s.stamp()
	rows := make([]models.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		rows = append(rows, models.Notification{
			BaseModel: models.BaseModel{ID: uuid.NewString(), CreatedAt: createdAt},
			UserID:    recipient,
			Kind:      tpl.Kind,
			Title:     strings.TrimSpace(tpl.Title),
			Message:   tpl.Message,
			Metadata:  metadata,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
	if err != nil {
		return nil, fmt.Errorf("notification store: create bulk: %w: %w", ErrStoreUnavailable, err)
	}

	return mapNotificationRows(rows), nil
}

// QueryRecent returns the recipient's notifications created within the
// trailing window, newest first, capped at limit. Non-positive window or limit
// fall back to DefaultHistoryWindow and DefaultHistoryLimit.
func (s *NotificationStore) QueryRecent(ctx context.Context, recipientID string, window time.Duration, limit int) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return []NotificationDTO{}, nil
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	cutoff := s.now().UTC().Add(-window)

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", recipientID, cutoff).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification store: query recent: %w: %w", ErrStoreUnavailable, err)
	}

	return mapNotificationRows(rows), nil
}

// ListForUser returns a page of the user's notifications ordered by recency.
func (s *NotificationStore) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification store: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification store: list notifications: %w: %w", ErrStoreUnavailable, err)
	}

	return mapNotificationRows(rows), nil
}

// PruneOlderThan deletes notifications created before cutoff and reports how many were removed.
func (s *NotificationStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification store: prune: %w: %w", ErrStoreUnavailable, result.Error)
	}
	return result.RowsAffected, nil
}

// stamp returns a creation time strictly after every previous stamp issued by
// this store, at the microsecond precision every supported driver keeps.
func (s *NotificationStore) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Kind,
		Title:     row.Title,
		Message:   row.Message,
		Metadata:  decodeJSON(row.Metadata),
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
