// internal/notify/dispatcher.go
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"civiclens/internal/common/logger"
	"civiclens/internal/common/metrics"
	"civiclens/internal/common/observability"
	"civiclens/internal/models"
)

// maxCommentPreview bounds how much comment text a push body carries.
const maxCommentPreview = 100

// PushChannel is the push delivery surface; satisfied by PushAdapter.
type PushChannel interface {
	Notify(ctx context.Context, pctx PushContext, title, body, tag string)
}

// EmailChannel is the email delivery surface; satisfied by EmailAdapter.
type EmailChannel interface {
	Notify(ctx context.Context, userID string, eventType models.NotificationType, data map[string]interface{})
}

// PermissionSource supplies the recipient's push permission snapshot;
// satisfied by PermissionRegistry.
type PermissionSource interface {
	Snapshot(ctx context.Context, userID string) PushContext
}

// RecordStore is the durable side of dispatch; satisfied by Store.
type RecordStore interface {
	Insert(ctx context.Context, n *models.Notification) error
}

// Preferences gates the optional channels; satisfied by PreferenceStore.
type Preferences interface {
	Get(ctx context.Context, userID string) (models.NotificationPreferences, error)
}

// Dispatcher fans a domain event out to the durable record plus the
// preference-gated push and email channels. The record write always happens:
// preferences only silence the outbound channels, never the in-app history.
type Dispatcher struct {
	config      *Config
	store       RecordStore
	preferences Preferences
	push        PushChannel
	email       EmailChannel
	permissions PermissionSource
	obs         *observability.Observability
	logger      logger.Logger
}

func NewDispatcher(config *Config, store RecordStore, prefs Preferences,
	push PushChannel, email EmailChannel, permissions PermissionSource,
	obs *observability.Observability, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		config:      config,
		store:       store,
		preferences: prefs,
		push:        push,
		email:       email,
		permissions: permissions,
		obs:         obs,
		logger:      log.With(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Dispatch processes one event for one recipient: writes the notification
// record, then sends on each channel the recipient has enabled. Dispatch is
// fire-and-forget: record and channel failures are logged, never propagated,
// and a failed record write does not stop the channel sends.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.NotificationEvent, recipientID string) {
	start := time.Now()
	eventType := event.EventType()

	prefs, err := d.preferences.Get(ctx, recipientID)
	if err != nil {
		// Get already degraded to defaults; just note it.
		d.logger.Warn("dispatching with default preferences", map[string]interface{}{
			"userId": recipientID,
			"error":  err.Error(),
		})
	}

	content := deriveContent(event)

	record := &models.Notification{
		UserID:   recipientID,
		Type:     eventType,
		Title:    content.title,
		Message:  content.message,
		ReportID: content.reportID,
	}
	if err := d.store.Insert(ctx, record); err != nil {
		d.logger.Error("notification record write failed", map[string]interface{}{
			"userId": recipientID,
			"type":   string(eventType),
			"error":  err.Error(),
		})
	}

	var wg sync.WaitGroup

	if d.config.PushEnabled && prefs.PushEnabled && pushToggle(prefs, eventType) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx := d.permissions.Snapshot(ctx, recipientID)
			d.push.Notify(ctx, pctx, content.title, content.pushBody, content.tag)
		}()
	}

	if d.config.EmailEnabled && prefs.EmailEnabled && emailToggle(prefs, eventType) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.email.Notify(ctx, recipientID, eventType, content.emailData)
		}()
	}

	wg.Wait()

	metrics.NotificationsDispatched.WithLabelValues(string(eventType)).Inc()
	if d.obs != nil {
		d.obs.RecordDispatch(ctx, string(eventType))
		d.obs.RecordDispatchDuration(ctx, time.Since(start), string(eventType))
	}
}

func pushToggle(prefs models.NotificationPreferences, t models.NotificationType) bool {
	switch t {
	case models.TypeStatusChange:
		return prefs.PushOnStatusChange
	case models.TypeNewComment:
		return prefs.PushOnComment
	}
	return true
}

func emailToggle(prefs models.NotificationPreferences, t models.NotificationType) bool {
	switch t {
	case models.TypeStatusChange:
		return prefs.EmailOnStatusChange
	case models.TypeNewComment:
		return prefs.EmailOnComment
	}
	return true
}

// eventContent is everything dispatch derives from an event once, shared by
// the record and both channels.
type eventContent struct {
	title     string
	message   string
	pushBody  string
	tag       string
	reportID  string
	emailData map[string]interface{}
}

func deriveContent(event models.NotificationEvent) eventContent {
	switch e := event.(type) {
	case models.StatusChangeEvent:
		message := fmt.Sprintf("Your report %q is now %s", e.ReportTitle, e.NewStatus)
		return eventContent{
			title:    "Report Status Updated",
			message:  message,
			pushBody: message,
			tag:      "report-" + e.ReportID,
			reportID: e.ReportID,
			emailData: map[string]interface{}{
				"reportTitle": e.ReportTitle,
				"oldStatus":   e.OldStatus,
				"newStatus":   e.NewStatus,
			},
		}
	case models.NewCommentEvent:
		return eventContent{
			title:    "New Comment on Your Report",
			message:  fmt.Sprintf("%s commented on %q", e.CommenterName, e.ReportTitle),
			pushBody: fmt.Sprintf("%s: %s", e.CommenterName, truncateComment(e.CommentText)),
			tag:      "comment-" + e.ReportID,
			reportID: e.ReportID,
			emailData: map[string]interface{}{
				"reportTitle":   e.ReportTitle,
				"commenterName": e.CommenterName,
				"commentText":   truncateComment(e.CommentText),
			},
		}
	}
	// Unreachable while the event union stays sealed.
	return eventContent{title: "Notification", emailData: map[string]interface{}{}}
}

func truncateComment(text string) string {
	runes := []rune(text)
	if len(runes) <= maxCommentPreview {
		return text
	}
	return string(runes[:maxCommentPreview]) + "..."
}
