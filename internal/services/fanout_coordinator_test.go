package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pablohfr/notifications-service/internal/events"
	"github.com/pablohfr/notifications-service/internal/models"
	"github.com/pablohfr/notifications-service/internal/realtime"
)

type recordingWriter struct {
	mu    sync.Mutex
	calls []NotificationRequest
	err   error
	block bool
}

func (w *recordingWriter) CreateBulk(ctx context.Context, recipientIDs []string, tpl NotificationTemplate) ([]NotificationDTO, error) {
	w.mu.Lock()
	w.calls = append(w.calls, NotificationRequest{Recipients: recipientIDs, Template: tpl})
	w.mu.Unlock()

	if w.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if w.err != nil {
		return nil, w.err
	}

	out := make([]NotificationDTO, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		out = append(out, NotificationDTO{ID: "n-" + id, UserID: id, Type: tpl.Kind, Title: tpl.Title, Message: tpl.Message})
	}
	return out, nil
}

type push struct {
	recipient string
	event     string
	payload   any
}

type recordingPusher struct {
	mu      sync.Mutex
	pushes  []push
	online  map[string]bool
	failFor string
}

func (p *recordingPusher) Push(_ context.Context, recipientID, event string, payload any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{recipient: recipientID, event: event, payload: payload})
	if recipientID == p.failFor {
		return false, realtime.ErrBackpressure
	}
	return p.online[recipientID], nil
}

func mustEncode(t *testing.T, pattern string, data any) []byte {
	t.Helper()
	body, err := events.Encode(pattern, data)
	require.NoError(t, err)
	return body
}

func newTestCoordinator(t *testing.T, writer NotificationWriter, pusher Pusher, opts ...CoordinatorOption) *FanoutCoordinator {
	t.Helper()
	coordinator, err := NewFanoutCoordinator(writer, pusher, opts...)
	require.NoError(t, err)
	return coordinator
}

func TestFanoutTaskCreated(t *testing.T) {
	writer := &recordingWriter{}
	pusher := &recordingPusher{online: map[string]bool{"u2": true}}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternTaskCreated, events.TaskCreated{
		TaskID: "t1", Title: "Fix bug", CreatedBy: "u1", AssignedTo: []string{"u2", "u3"},
	})

	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))

	require.Len(t, writer.calls, 1)
	require.Equal(t, []string{"u2", "u3"}, writer.calls[0].Recipients)
	require.Equal(t, models.KindTaskAssigned, writer.calls[0].Template.Kind)
	require.Equal(t, `You were assigned to task "Fix bug"`, writer.calls[0].Template.Message)

	require.Len(t, pusher.pushes, 2)
	for _, p := range pusher.pushes {
		require.Equal(t, realtime.EventTaskCreated, p.event)
		require.Equal(t, p.recipient, p.payload.(NotificationDTO).UserID)
	}
}

func TestFanoutTaskUpdatedExcludesUpdater(t *testing.T) {
	writer := &recordingWriter{}
	pusher := &recordingPusher{}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternTaskUpdated, events.TaskUpdated{
		TaskID: "t1", Title: "Fix bug", UpdatedBy: "u2",
		Changes: map[string]any{"status": "DONE"}, AssignedTo: []string{"u2", "u3"},
	})

	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))
	require.Len(t, writer.calls, 1)
	require.Equal(t, []string{"u3"}, writer.calls[0].Recipients)
	require.Equal(t, models.KindTaskStatusChanged, writer.calls[0].Template.Kind)
	require.Contains(t, writer.calls[0].Template.Message, "DONE")
	require.Equal(t, realtime.EventTaskUpdated, pusher.pushes[0].event)
}

func TestFanoutCommentCreated(t *testing.T) {
	writer := &recordingWriter{}
	pusher := &recordingPusher{}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternCommentCreated, events.CommentCreated{
		TaskID: "t1", CommentID: "c1", AuthorID: "u2", AuthorName: "Ana",
		Content: strings.Repeat("x", 150), AssignedTo: []string{"u2", "u3"},
	})

	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))
	require.Equal(t, []string{"u3"}, writer.calls[0].Recipients)
	require.Equal(t, "Ana: "+strings.Repeat("x", 100)+"...", writer.calls[0].Template.Message)
	require.Equal(t, realtime.EventCommentNew, pusher.pushes[0].event)
}

func TestFanoutNoRecipientsSkipsStore(t *testing.T) {
	writer := &recordingWriter{}
	pusher := &recordingPusher{}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternCommentCreated, events.CommentCreated{
		TaskID: "t1", CommentID: "c1", AuthorID: "u2", AssignedTo: []string{"u2"},
	})

	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))
	require.Empty(t, writer.calls)
	require.Empty(t, pusher.pushes)
}

func TestFanoutStoreFailureIsNotAcknowledged(t *testing.T) {
	writer := &recordingWriter{err: ErrStoreUnavailable}
	pusher := &recordingPusher{}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternTaskCreated, events.TaskCreated{TaskID: "t1", AssignedTo: []string{"u2"}})

	require.Equal(t, OutcomeFailed, coordinator.Handle(context.Background(), body))
	require.Len(t, writer.calls, 1)
	require.Empty(t, pusher.pushes)
}

func TestFanoutDeliveryFailureStillAcknowledged(t *testing.T) {
	writer := &recordingWriter{}
	pusher := &recordingPusher{failFor: "u2", online: map[string]bool{"u3": true}}
	coordinator := newTestCoordinator(t, writer, pusher)

	body := mustEncode(t, events.PatternTaskCreated, events.TaskCreated{TaskID: "t1", AssignedTo: []string{"u2", "u3"}})

	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))
	require.Len(t, pusher.pushes, 2)
}

func TestFanoutMalformedEventsAreAcknowledged(t *testing.T) {
	cases := map[string][]byte{
		"not json":        []byte("{{"),
		"unknown pattern": []byte(`{"pattern":"task.deleted","data":{"taskId":"t1"}}`),
		"missing task id": []byte(`{"pattern":"task.created","data":{"assignedTo":["u1"]}}`),
		"bad assignees":   []byte(`{"pattern":"task.created","data":{"taskId":"t1","assignedTo":"u1"}}`),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			writer := &recordingWriter{}
			coordinator := newTestCoordinator(t, writer, nil)

			require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))
			require.Empty(t, writer.calls)
		})
	}
}

func TestFanoutProcessingTimeout(t *testing.T) {
	writer := &recordingWriter{block: true}
	coordinator := newTestCoordinator(t, writer, nil, WithProcessingTimeout(20*time.Millisecond))

	body := mustEncode(t, events.PatternTaskCreated, events.TaskCreated{TaskID: "t1", AssignedTo: []string{"u2"}})

	require.Equal(t, OutcomeFailed, coordinator.Handle(context.Background(), body))
}

func TestFanoutWithStoreEndToEnd(t *testing.T) {
	store := newTestStore(t, nil)
	registry := realtime.NewRegistry()
	online := &channelRecorder{id: "c-u2"}
	registry.Register("u2", online)

	coordinator := newTestCoordinator(t, store, realtime.NewDispatcher(registry))

	body := mustEncode(t, events.PatternTaskCreated, events.TaskCreated{TaskID: "t1", Title: "Fix bug", AssignedTo: []string{"u2", "u3"}})
	require.Equal(t, OutcomeAcknowledged, coordinator.Handle(context.Background(), body))

	sent := online.messages()
	require.Len(t, sent, 1)
	require.Equal(t, realtime.EventTaskCreated, sent[0].Event)
	require.Equal(t, "u2", sent[0].Data.(NotificationDTO).UserID)

	offline, err := store.QueryRecent(context.Background(), "u3", 0, 0)
	require.NoError(t, err)
	require.Len(t, offline, 1)
}

func TestNewFanoutCoordinatorRequiresStore(t *testing.T) {
	_, err := NewFanoutCoordinator(nil, nil)
	require.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "acknowledged", OutcomeAcknowledged.String())
	require.Equal(t, "failed", OutcomeFailed.String())
	require.Equal(t, "unknown", Outcome(7).String())
}
