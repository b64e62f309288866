// internal/models/event.go
package models

// NotificationEvent is the closed set of domain events the dispatcher
// consumes. The unexported method seals the union so the dispatcher can
// switch exhaustively instead of probing for field presence.
type NotificationEvent interface {
	EventType() NotificationType
	sealed()
}

// StatusChangeEvent fires when a report transitions between statuses.
type StatusChangeEvent struct {
	ReportID    string
	ReportTitle string
	OldStatus   string
	NewStatus   string
}

func (StatusChangeEvent) EventType() NotificationType { return TypeStatusChange }
func (StatusChangeEvent) sealed()                     {}

// NewCommentEvent fires when someone comments on a report.
type NewCommentEvent struct {
	ReportID      string
	ReportTitle   string
	CommenterName string
	CommentText   string
}

func (NewCommentEvent) EventType() NotificationType { return TypeNewComment }
func (NewCommentEvent) sealed()                     {}
