// internal/notify/preferences.go
package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"

	commonerrors "civiclens/internal/common/errors"
	"civiclens/internal/common/logger"
	"civiclens/internal/models"
)

// PreferenceStore reads and writes the per-user notification toggle matrix.
// Reads degrade to the all-enabled default instead of failing: a missing or
// unreadable preference row must never block a dispatch.
type PreferenceStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPreferenceStore(db *sql.DB, log logger.Logger) *PreferenceStore {
	return &PreferenceStore{
		db:     db,
		logger: log.With(map[string]interface{}{"component": "preference-store"}),
	}
}

// Get loads preferences for a user, synthesizing the default when no row
// exists. The default is not persisted on read.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (models.NotificationPreferences, error) {
	var prefs models.NotificationPreferences
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email_enabled, push_enabled,
		       email_on_status_change, email_on_comment,
		       push_on_status_change, push_on_comment, updated_at
		FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&prefs.UserID, &prefs.EmailEnabled, &prefs.PushEnabled,
			&prefs.EmailOnStatusChange, &prefs.EmailOnComment,
			&prefs.PushOnStatusChange, &prefs.PushOnComment, &prefs.UpdatedAt)

	if err == nil {
		return prefs, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPreferences(userID), nil
	}

	stdErr := commonerrors.NewPreferenceLoadFailedError(err)
	s.logger.Warn("preference load failed, using defaults", map[string]interface{}{
		"userId": userID,
		"error":  err.Error(),
	})
	return models.DefaultPreferences(userID), stdErr
}

// Put upserts preferences, last-write-wins.
func (s *PreferenceStore) Put(ctx context.Context, prefs models.NotificationPreferences) error {
	prefs.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences
			(user_id, email_enabled, push_enabled,
			 email_on_status_change, email_on_comment,
			 push_on_status_change, push_on_comment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			push_enabled = EXCLUDED.push_enabled,
			email_on_status_change = EXCLUDED.email_on_status_change,
			email_on_comment = EXCLUDED.email_on_comment,
			push_on_status_change = EXCLUDED.push_on_status_change,
			push_on_comment = EXCLUDED.push_on_comment,
			updated_at = EXCLUDED.updated_at`,
		prefs.UserID, prefs.EmailEnabled, prefs.PushEnabled,
		prefs.EmailOnStatusChange, prefs.EmailOnComment,
		prefs.PushOnStatusChange, prefs.PushOnComment, prefs.UpdatedAt)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("preference upsert", err)
	}
	return nil
}
