// Package events decodes the task-lifecycle messages published by the tasks
// service. Messages arrive in the NestJS microservice envelope
// {"pattern": "<name>", "data": {...}}.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pablohfr/notifications-service/pkg/validator"
)

// Event patterns published by the tasks service.
const (
	PatternTaskCreated    = "task.created"
	PatternTaskUpdated    = "task.updated"
	PatternCommentCreated = "task.comment.created"
)

// ErrMalformedEvent marks a message that can never be processed successfully.
var ErrMalformedEvent = errors.New("events: malformed event")

// Envelope is the outer message shape.
type Envelope struct {
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

// TaskCreated is the payload of task.created.
type TaskCreated struct {
	TaskID     string   `json:"taskId" validate:"notblank"`
	Title      string   `json:"title"`
	CreatedBy  string   `json:"createdBy"`
	AssignedTo []string `json:"assignedTo"`
	Timestamp  string   `json:"timestamp"`
}

// TaskUpdated is the payload of task.updated.
type TaskUpdated struct {
	TaskID     string         `json:"taskId" validate:"notblank"`
	Title      string         `json:"title"`
	UpdatedBy  string         `json:"updatedBy"`
	Changes    map[string]any `json:"changes"`
	AssignedTo []string       `json:"assignedTo"`
	Timestamp  string         `json:"timestamp"`
}

// StatusChange returns the new status carried in the change set, if any.
func (e TaskUpdated) StatusChange() (string, bool) {
	raw, ok := e.Changes["status"]
	if !ok || raw == nil {
		return "", false
	}
	status := strings.TrimSpace(fmt.Sprint(raw))
	if status == "" {
		return "", false
	}
	return status, true
}

// CommentCreated is the payload of task.comment.created.
type CommentCreated struct {
	TaskID     string   `json:"taskId" validate:"notblank"`
	CommentID  string   `json:"commentId" validate:"notblank"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Content    string   `json:"content"`
	AssignedTo []string `json:"assignedTo"`
	Timestamp  string   `json:"timestamp"`
}

// DecodeEnvelope parses the outer message. Any failure wraps ErrMalformedEvent.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformedEvent, err)
	}
	env.Pattern = strings.TrimSpace(env.Pattern)
	if env.Pattern == "" {
		return Envelope{}, fmt.Errorf("%w: envelope: missing pattern", ErrMalformedEvent)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Envelope{}, fmt.Errorf("%w: %s: missing data", ErrMalformedEvent, env.Pattern)
	}
	return env, nil
}

// DecodeData unmarshals and validates the payload carried by env.
func DecodeData[T any](env Envelope) (T, error) {
	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return data, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Pattern, err)
	}
	if err := validator.ValidateStruct(data); err != nil {
		return data, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Pattern, err)
	}
	return data, nil
}

// Encode builds an envelope for pattern. Used by tooling and tests that publish events.
func Encode(pattern string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", pattern, err)
	}
	return json.Marshal(Envelope{Pattern: pattern, Data: raw})
}
