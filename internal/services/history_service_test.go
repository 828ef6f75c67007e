package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pablohfr/notifications-service/internal/realtime"
)

type channelRecorder struct {
	id      string
	mu      sync.Mutex
	sent    []realtime.Message
	sendErr error
}

func (c *channelRecorder) ID() string { return c.id }

func (c *channelRecorder) Send(_ context.Context, message realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *channelRecorder) messages() []realtime.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Message(nil), c.sent...)
}

type failingReader struct{}

func (failingReader) QueryRecent(context.Context, string, time.Duration, int) ([]NotificationDTO, error) {
	return nil, fmt.Errorf("query: %w", ErrStoreUnavailable)
}

func newTestHistory(t *testing.T, reader HistoryReader, opts ...HistoryOption) (*HistoryService, *realtime.Registry) {
	t.Helper()
	registry := realtime.NewRegistry()
	svc, err := NewHistoryService(registry, reader, opts...)
	require.NoError(t, err)
	return svc, registry
}

func TestHistoryAttachEmptySnapshot(t *testing.T) {
	svc, registry := newTestHistory(t, newTestStore(t, nil))
	ch := &channelRecorder{id: "c1"}

	require.NoError(t, svc.Attach(context.Background(), "u3", ch))

	stored, ok := registry.Lookup("u3")
	require.True(t, ok)
	require.Equal(t, "c1", stored.ID())

	sent := ch.messages()
	require.Len(t, sent, 1)
	require.Equal(t, realtime.EventHistory, sent[0].Event)
	payload := sent[0].Data.(HistoryPayload)
	require.Zero(t, payload.Count)
	require.NotNil(t, payload.Notifications)
	require.Empty(t, payload.Notifications)
}

func TestHistoryAttachReplaysMostRecent(t *testing.T) {
	clock := &manualClock{now: time.Now().UTC().Add(-2 * time.Hour)}
	store := newTestStore(t, clock)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 21; i++ {
		created, err := store.CreateBulk(ctx, []string{"u3"}, assignedTemplate(fmt.Sprintf("task-%d", i)))
		require.NoError(t, err)
		ids = append(ids, created[0].ID)
		clock.Advance(time.Minute)
	}

	svc, _ := newTestHistory(t, store)
	ch := &channelRecorder{id: "c1"}
	require.NoError(t, svc.Attach(ctx, "u3", ch))

	payload := ch.messages()[0].Data.(HistoryPayload)
	require.Equal(t, 20, payload.Count)
	require.Len(t, payload.Notifications, 20)
	require.Equal(t, ids[20], payload.Notifications[0].ID)
	require.Equal(t, ids[1], payload.Notifications[19].ID)
}

func TestHistoryAttachHonoursLimit(t *testing.T) {
	store := newTestStore(t, nil)
	_, err := store.CreateBulk(context.Background(), []string{"u1"}, assignedTemplate("a"))
	require.NoError(t, err)
	_, err = store.CreateBulk(context.Background(), []string{"u1"}, assignedTemplate("b"))
	require.NoError(t, err)

	svc, _ := newTestHistory(t, store, WithHistoryLimit(1), WithHistoryWindow(time.Hour))
	payload, err := svc.Recent(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 1, payload.Count)
	require.Equal(t, `You were assigned to task "b"`, payload.Notifications[0].Message)
}

func TestHistoryAttachStoreFailureKeepsRegistration(t *testing.T) {
	svc, registry := newTestHistory(t, failingReader{})
	ch := &channelRecorder{id: "c1"}

	err := svc.Attach(context.Background(), "u1", ch)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Empty(t, ch.messages())

	_, ok := registry.Lookup("u1")
	require.True(t, ok)
}

func TestHistoryAttachSendFailure(t *testing.T) {
	svc, _ := newTestHistory(t, newTestStore(t, nil))

	err := svc.Attach(context.Background(), "u1", &channelRecorder{id: "c1", sendErr: realtime.ErrChannelClosed})
	require.True(t, errors.Is(err, realtime.ErrChannelClosed))
}

func TestHistoryDetachOnlyRemovesCurrentChannel(t *testing.T) {
	svc, registry := newTestHistory(t, newTestStore(t, nil))
	first := &channelRecorder{id: "c1"}
	second := &channelRecorder{id: "c2"}

	require.NoError(t, svc.Attach(context.Background(), "u1", first))
	require.NoError(t, svc.Attach(context.Background(), "u1", second))

	svc.Detach(first)
	stored, ok := registry.Lookup("u1")
	require.True(t, ok)
	require.Equal(t, "c2", stored.ID())

	svc.Detach(second)
	_, ok = registry.Lookup("u1")
	require.False(t, ok)
}

func TestNewHistoryServiceValidation(t *testing.T) {
	_, err := NewHistoryService(nil, failingReader{})
	require.Error(t, err)
	_, err = NewHistoryService(realtime.NewRegistry(), nil)
	require.Error(t, err)
}
