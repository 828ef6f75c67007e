package realtime

// Outbound event names carried in the "event" field of every frame.
const (
	EventTaskCreated = "task:created"
	EventTaskUpdated = "task:updated"
	EventCommentNew  = "comment:new"
	EventHistory     = "notifications:history"
	EventPong        = "pong"
)
