package services

import (
	"fmt"
	"strings"

	"github.com/pablohfr/notifications-service/internal/events"
	"github.com/pablohfr/notifications-service/internal/models"
)

const commentPreviewRunes = 100

// NotificationRequest pairs a template with the recipients that should receive it.
type NotificationRequest struct {
	Recipients []string
	Template   NotificationTemplate
}

// NormalizeTaskCreated notifies every assignee of a new task. The creator is
// not excluded.
func NormalizeTaskCreated(evt events.TaskCreated) (NotificationRequest, bool) {
	recipients := normaliseIDs(evt.AssignedTo)
	if len(recipients) == 0 {
		return NotificationRequest{}, false
	}

	return NotificationRequest{
		Recipients: recipients,
		Template: NotificationTemplate{
			Kind:    models.KindTaskAssigned,
			Title:   "New task assigned",
			Message: fmt.Sprintf("You were assigned to task \"%s\"", evt.Title),
			Metadata: map[string]any{
				"taskId":    evt.TaskID,
				"taskTitle": evt.Title,
				"createdBy": evt.CreatedBy,
			},
		},
	}, true
}

// NormalizeTaskUpdated notifies assignees other than the updater.
func NormalizeTaskUpdated(evt events.TaskUpdated) (NotificationRequest, bool) {
	recipients := excludeID(normaliseIDs(evt.AssignedTo), evt.UpdatedBy)
	if len(recipients) == 0 {
		return NotificationRequest{}, false
	}

	kind := models.KindTaskUpdated
	message := fmt.Sprintf("Task \"%s\" was updated", evt.Title)
	if status, ok := evt.StatusChange(); ok {
		kind = models.KindTaskStatusChanged
		message = fmt.Sprintf("Status of task \"%s\" changed to %s", evt.Title, status)
	}

	metadata := map[string]any{
		"taskId":    evt.TaskID,
		"taskTitle": evt.Title,
		"updatedBy": evt.UpdatedBy,
	}
	if evt.Changes != nil {
		metadata["changes"] = evt.Changes
	}

	return NotificationRequest{
		Recipients: recipients,
		Template: NotificationTemplate{
			Kind:     kind,
			Title:    "Task updated",
			Message:  message,
			Metadata: metadata,
		},
	}, true
}

// NormalizeCommentCreated notifies assignees other than the comment author.
func NormalizeCommentCreated(evt events.CommentCreated) (NotificationRequest, bool) {
	recipients := excludeID(normaliseIDs(evt.AssignedTo), evt.AuthorID)
	if len(recipients) == 0 {
		return NotificationRequest{}, false
	}

	return NotificationRequest{
		Recipients: recipients,
		Template: NotificationTemplate{
			Kind:    models.KindCommentCreated,
			Title:   "New comment",
			Message: fmt.Sprintf("%s: %s", evt.AuthorName, previewContent(evt.Content)),
			Metadata: map[string]any{
				"taskId":     evt.TaskID,
				"commentId":  evt.CommentID,
				"authorId":   evt.AuthorID,
				"authorName": evt.AuthorName,
			},
		},
	}, true
}

func previewContent(content string) string {
	runes := []rune(content)
	if len(runes) <= commentPreviewRunes {
		return content
	}
	var b strings.Builder
	b.WriteString(string(runes[:commentPreviewRunes]))
	b.WriteString("...")
	return b.String()
}
