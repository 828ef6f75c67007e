package models

import "gorm.io/datatypes"

// NotificationKind is the closed set of notification types.
type NotificationKind string

const (
	KindTaskCreated       NotificationKind = "TASK_CREATED"
	KindTaskUpdated       NotificationKind = "TASK_UPDATED"
	KindTaskAssigned      NotificationKind = "TASK_ASSIGNED"
	KindTaskStatusChanged NotificationKind = "TASK_STATUS_CHANGED"
	KindCommentCreated    NotificationKind = "COMMENT_CREATED"
)

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindTaskCreated, KindTaskUpdated, KindTaskAssigned, KindTaskStatusChanged, KindCommentCreated:
		return true
	}
	return false
}

// Notification is a persisted, immutable notice addressed to one recipient.
type Notification struct {
	BaseModel

	UserID   string           `gorm:"type:varchar(64);not null;index" json:"userId"`
	Kind     NotificationKind `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Title    string           `gorm:"type:varchar(255);not null" json:"title"`
	Message  string           `gorm:"type:text;not null" json:"message"`
	Metadata datatypes.JSON   `json:"metadata,omitempty"`
}

// TableName pins the table name regardless of naming strategy.
func (Notification) TableName() string {
	return "notifications"
}
