// internal/notify/store.go
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	commonerrors "civiclens/internal/common/errors"
	"civiclens/internal/common/logger"
	"civiclens/internal/models"

	"github.com/google/uuid"
)

// ChangeKind tags a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is the payload published on a user's notification channel
// after every durable mutation, keeping the live feed consistent without
// polling.
type ChangeEvent struct {
	Kind         ChangeKind          `json:"kind"`
	Notification models.Notification `json:"notification"`
}

// ChannelFor returns the per-user change-feed channel name.
func ChannelFor(userID string) string {
	return "notifications:" + userID
}

// Publisher is the change-feed output; satisfied by database.RedisClient.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Store owns the durable notification records. Every mutation publishes a
// ChangeEvent; publish failures are logged but never fail the durable
// operation, since the store remains authoritative.
type Store struct {
	db        *sql.DB
	publisher Publisher
	logger    logger.Logger
}

func NewStore(db *sql.DB, publisher Publisher, log logger.Logger) *Store {
	return &Store{
		db:        db,
		publisher: publisher,
		logger:    log.With(map[string]interface{}{"component": "notification-store"}),
	}
}

// Insert writes one notification record. The caller may leave ID and
// CreatedAt zero; they are filled in before the write.
func (s *Store) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, read, created_at, report_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Read, n.CreatedAt, nullable(n.ReportID))
	if err != nil {
		return commonerrors.NewNotificationWriteFailedError(err)
	}

	s.publish(ctx, ChangeEvent{Kind: ChangeInsert, Notification: *n})
	return nil
}

// MarkRead flips the read flag to true. The flag is monotonic: the guard on
// read=false makes concurrent duplicate calls from multiple sessions affect
// exactly one row between them, and re-marking publishes nothing.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND read = false
		RETURNING id, user_id, type, title, message, read, created_at, COALESCE(report_id, '')`, id)

	n, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			// Already read or unknown id; nothing to do.
			return nil
		}
		return commonerrors.NewQueryExecutionFailedError("mark read", err)
	}

	s.publish(ctx, ChangeEvent{Kind: ChangeUpdate, Notification: n})
	return nil
}

// MarkAllRead flips every unread notification for a user and returns how
// many were flipped.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE notifications SET read = true
		WHERE user_id = $1 AND read = false
		RETURNING id, user_id, type, title, message, read, created_at, COALESCE(report_id, '')`, userID)
	if err != nil {
		return 0, commonerrors.NewQueryExecutionFailedError("mark all read", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return count, commonerrors.NewQueryExecutionFailedError("mark all read scan", err)
		}
		count++
		s.publish(ctx, ChangeEvent{Kind: ChangeUpdate, Notification: n})
	}
	return count, rows.Err()
}

// Delete removes a notification. User-initiated housekeeping only.
func (s *Store) Delete(ctx context.Context, id string) error {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM notifications
		WHERE id = $1
		RETURNING id, user_id, type, title, message, read, created_at, COALESCE(report_id, '')`, id)

	n, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return commonerrors.NewQueryExecutionFailedError("delete notification", err)
	}

	s.publish(ctx, ChangeEvent{Kind: ChangeDelete, Notification: n})
	return nil
}

// Recent returns the newest notifications for a user, most recent first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, read, created_at, COALESCE(report_id, '')
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("recent notifications", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("recent notifications scan", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount returns the durable unread count for a user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false`, userID).
		Scan(&count)
	if err != nil {
		return 0, commonerrors.NewQueryExecutionFailedError("unread count", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (models.Notification, error) {
	var n models.Notification
	var typ string
	err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Read, &n.CreatedAt, &n.ReportID)
	if err != nil {
		return models.Notification{}, err
	}
	n.Type = models.NotificationType(typ)
	return n, nil
}

func (s *Store) publish(ctx context.Context, event ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("change event marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.publisher.Publish(ctx, ChannelFor(event.Notification.UserID), payload); err != nil {
		s.logger.Warn("change event publish failed", map[string]interface{}{
			"channel": ChannelFor(event.Notification.UserID),
			"error":   err.Error(),
		})
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
