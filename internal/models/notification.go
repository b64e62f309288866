// internal/models/notification.go
package models

import "time"

// NotificationType identifies what triggered a notification.
type NotificationType string

const (
	TypeStatusChange NotificationType = "status_change"
	TypeNewComment   NotificationType = "new_comment"
	TypeSystem       NotificationType = "system"
)

// Notification is the persisted in-app notification record. Created exactly
// once per event per recipient; only the Read flag is ever mutated, and only
// from false to true.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
	ReportID  string           `json:"report_id,omitempty"`
}
