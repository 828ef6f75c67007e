package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/database"
	"github.com/pablohfr/notifications-service/internal/database/testutil"
	"github.com/pablohfr/notifications-service/internal/models"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, clock *manualClock) *NotificationStore {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	var opts []StoreOption
	if clock != nil {
		opts = append(opts, WithStoreClock(clock.Now))
	}
	store, err := NewNotificationStore(db, opts...)
	require.NoError(t, err)
	return store
}

func assignedTemplate(title string) NotificationTemplate {
	return NotificationTemplate{
		Kind:     models.KindTaskAssigned,
		Title:    "New task assigned",
		Message:  fmt.Sprintf("You were assigned to task \"%s\"", title),
		Metadata: map[string]any{"taskId": "t1", "taskTitle": title},
	}
}

func TestNotificationStoreCreateBulk(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	created, err := store.CreateBulk(ctx, []string{"u2", "u3", "u2", " "}, assignedTemplate("Fix bug"))
	require.NoError(t, err)
	require.Len(t, created, 2)

	require.Equal(t, "u2", created[0].UserID)
	require.Equal(t, "u3", created[1].UserID)
	require.NotEqual(t, created[0].ID, created[1].ID)
	for _, item := range created {
		require.Equal(t, models.KindTaskAssigned, item.Type)
		require.Equal(t, `You were assigned to task "Fix bug"`, item.Message)
		require.Equal(t, "t1", item.Metadata["taskId"])
		require.False(t, item.CreatedAt.IsZero())
	}

	recent, err := store.QueryRecent(ctx, "u3", 0, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, created[1].ID, recent[0].ID)
	require.Equal(t, "Fix bug", recent[0].Metadata["taskTitle"])
}

func TestNotificationStoreCreateBulkEmptyRecipients(t *testing.T) {
	store := newTestStore(t, nil)

	created, err := store.CreateBulk(context.Background(), nil, assignedTemplate("x"))
	require.NoError(t, err)
	require.Empty(t, created)

	var count int64
	require.NoError(t, store.db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestNotificationStoreCreateBulkRejectsUnknownKind(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.CreateBulk(context.Background(), []string{"u1"}, NotificationTemplate{Kind: "BOGUS"})
	require.Error(t, err)
}

func TestNotificationStoreUnavailable(t *testing.T) {
	store := newTestStore(t, nil)
	require.NoError(t, database.Close(store.db))

	_, err := store.CreateBulk(context.Background(), []string{"u1"}, assignedTemplate("x"))
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.QueryRecent(context.Background(), "u1", time.Hour, 5)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNotificationStoreCreateBulkRollsBackPartialBatches(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	batches := 0
	require.NoError(t, store.db.Callback().Create().After("gorm:create").Register("test:fail_second_batch", func(tx *gorm.DB) {
		batches++
		if batches == 2 {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	recipients := make([]string, 0, insertBatchSize+50)
	for i := 0; i < cap(recipients); i++ {
		recipients = append(recipients, fmt.Sprintf("u%03d", i))
	}

	created, err := store.CreateBulk(ctx, recipients, assignedTemplate("Fix bug"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Nil(t, created)
	require.Equal(t, 2, batches)

	for _, recipient := range recipients {
		recent, err := store.QueryRecent(ctx, recipient, 0, 0)
		require.NoError(t, err)
		require.Empty(t, recent, recipient)
	}

	var count int64
	require.NoError(t, store.db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestNotificationStoreQueryRecentLimitAndOrder(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 21; i++ {
		created, err := store.CreateBulk(ctx, []string{"u3"}, assignedTemplate(fmt.Sprintf("task-%02d", i)))
		require.NoError(t, err)
		ids = append(ids, created[0].ID)
		clock.Advance(time.Minute)
	}

	recent, err := store.QueryRecent(ctx, "u3", 24*time.Hour, 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	for i, item := range recent {
		require.Equal(t, ids[20-i], item.ID)
	}
	for i := 1; i < len(recent); i++ {
		require.True(t, recent[i-1].CreatedAt.After(recent[i].CreatedAt))
	}

	again, err := store.QueryRecent(ctx, "u3", 24*time.Hour, 20)
	require.NoError(t, err)
	require.Equal(t, recent, again)
}

func TestNotificationStoreQueryRecentWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock)
	ctx := context.Background()

	_, err := store.CreateBulk(ctx, []string{"u1"}, assignedTemplate("old"))
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	fresh, err := store.CreateBulk(ctx, []string{"u1"}, assignedTemplate("fresh"))
	require.NoError(t, err)

	recent, err := store.QueryRecent(ctx, "u1", 24*time.Hour, 20)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, fresh[0].ID, recent[0].ID)

	wide, err := store.QueryRecent(ctx, "u1", 48*time.Hour, 20)
	require.NoError(t, err)
	require.Len(t, wide, 2)
}

func TestNotificationStoreQueryRecentUnknownRecipient(t *testing.T) {
	store := newTestStore(t, nil)

	recent, err := store.QueryRecent(context.Background(), "nobody", time.Hour, 10)
	require.NoError(t, err)
	require.NotNil(t, recent)
	require.Empty(t, recent)
}

func TestNotificationStoreStampIsStrictlyIncreasing(t *testing.T) {
	frozen := &manualClock{now: time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)}
	store := newTestStore(t, frozen)
	ctx := context.Background()

	first, err := store.CreateBulk(ctx, []string{"u1"}, assignedTemplate("a"))
	require.NoError(t, err)
	second, err := store.CreateBulk(ctx, []string{"u1"}, assignedTemplate("b"))
	require.NoError(t, err)

	require.True(t, second[0].CreatedAt.After(first[0].CreatedAt))

	recent, err := store.QueryRecent(ctx, "u1", time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, []string{second[0].ID, first[0].ID}, []string{recent[0].ID, recent[1].ID})
}

func TestNotificationStoreListForUser(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.CreateBulk(ctx, []string{"u1", "u2"}, assignedTemplate(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	page, err := store.ListForUser(ctx, ListNotificationsInput{UserID: "u1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "You were assigned to task \"t3\"", page[0].Message)
	require.Equal(t, "You were assigned to task \"t2\"", page[1].Message)

	all, err := store.ListForUser(ctx, ListNotificationsInput{UserID: "u2", Limit: 1000})
	require.NoError(t, err)
	require.Len(t, all, 5)

	_, err = store.ListForUser(ctx, ListNotificationsInput{})
	require.Error(t, err)
}

func TestNotificationStorePruneOlderThan(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock)
	ctx := context.Background()

	_, err := store.CreateBulk(ctx, []string{"u1", "u2"}, assignedTemplate("old"))
	require.NoError(t, err)

	clock.Advance(40 * 24 * time.Hour)
	kept, err := store.CreateBulk(ctx, []string{"u1"}, assignedTemplate("new"))
	require.NoError(t, err)

	removed, err := store.PruneOlderThan(ctx, clock.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	page, err := store.ListForUser(ctx, ListNotificationsInput{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, kept[0].ID, page[0].ID)
}
