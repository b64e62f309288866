// internal/models/preferences.go
package models

import "time"

// NotificationPreferences is the per-user channel/event toggle matrix.
// A user with no stored row gets the all-enabled default.
type NotificationPreferences struct {
	UserID              string    `json:"user_id"`
	EmailEnabled        bool      `json:"email_enabled"`
	PushEnabled         bool      `json:"push_enabled"`
	EmailOnStatusChange bool      `json:"email_on_status_change"`
	EmailOnComment      bool      `json:"email_on_comment"`
	PushOnStatusChange  bool      `json:"push_on_status_change"`
	PushOnComment       bool      `json:"push_on_comment"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultPreferences returns the all-enabled defaults synthesized for users
// who have never saved preferences. Not persisted on read.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{
		UserID:              userID,
		EmailEnabled:        true,
		PushEnabled:         true,
		EmailOnStatusChange: true,
		EmailOnComment:      true,
		PushOnStatusChange:  true,
		PushOnComment:       true,
	}
}
