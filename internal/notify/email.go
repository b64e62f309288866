// internal/notify/email.go
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"civiclens/internal/common/aws"
	commonerrors "civiclens/internal/common/errors"
	"civiclens/internal/common/logger"
	"civiclens/internal/common/metrics"
	"civiclens/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailAdapter delegates to the outbound-mail service. Per the dispatch
// contract every failure is caught and logged here; nothing propagates to
// the dispatcher.
type EmailAdapter struct {
	config    *Config
	db        *sql.DB
	ses       aws.SESAPI
	templates map[models.NotificationType]emailTemplate
	logger    logger.Logger
}

type emailTemplate struct {
	subject string
	text    string
	html    string
}

func NewEmailAdapter(config *Config, db *sql.DB, sesClient aws.SESAPI, log logger.Logger) *EmailAdapter {
	return &EmailAdapter{
		config:    config,
		db:        db,
		ses:       sesClient,
		templates: loadEmailTemplates(),
		logger:    log.With(map[string]interface{}{"component": "email-adapter"}),
	}
}

// Notify renders and sends one email for the given event type. Void by
// contract: failures are logged and counted, never surfaced.
func (a *EmailAdapter) Notify(ctx context.Context, userID string, eventType models.NotificationType, data map[string]interface{}) {
	if a.ses == nil {
		a.logger.Debug("email channel disabled, skipping", map[string]interface{}{
			"userId": userID,
		})
		metrics.ChannelSends.WithLabelValues("email", "skipped").Inc()
		return
	}

	email, err := a.recipientEmail(ctx, userID)
	if err != nil {
		a.logger.Warn("email recipient lookup failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		metrics.ChannelSends.WithLabelValues("email", "failed").Inc()
		return
	}

	template, exists := a.templates[eventType]
	if !exists {
		a.logger.Warn("no email template for event type", map[string]interface{}{
			"type": string(eventType),
		})
		metrics.ChannelSends.WithLabelValues("email", "failed").Inc()
		return
	}

	subject := renderTemplate(template.subject, data)
	textBody := renderTemplate(template.text, data)
	htmlBody := renderTemplate(template.html, data)

	_, err = a.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: awssdk.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: awssdk.String(textBody)},
				Html: &types.Content{Data: awssdk.String(htmlBody)},
			},
		},
		Source: awssdk.String(a.config.FromEmail),
	})
	if err != nil {
		stdErr := commonerrors.NewChannelDeliveryFailedError("email", err)
		a.logger.Error("email delivery failed", map[string]interface{}{
			"userId": userID,
			"error":  stdErr.Details,
		})
		metrics.ChannelSends.WithLabelValues("email", "failed").Inc()
		return
	}

	metrics.ChannelSends.WithLabelValues("email", "sent").Inc()
}

func (a *EmailAdapter) recipientEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := a.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", fmt.Errorf("user %s has no email address", userID)
	}
	return email, nil
}

// renderTemplate substitutes {{placeholder}} tokens and strips any that have
// no value, so a sparse data map still renders cleanly.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}

func loadEmailTemplates() map[models.NotificationType]emailTemplate {
	return map[models.NotificationType]emailTemplate{
		models.TypeStatusChange: {
			subject: "Report Status Update - CivicLens",
			text:    `Your report "{{reportTitle}}" has been updated to: {{newStatus}}.`,
			html:    statusChangeHTML,
		},
		models.TypeNewComment: {
			subject: "New Comment on Your Report - CivicLens",
			text:    `{{commenterName}} commented on "{{reportTitle}}": {{commentText}}`,
			html:    newCommentHTML,
		},
	}
}

const statusChangeHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, #0D9488 0%, #1E3A8A 100%); color: white; padding: 30px; text-align: center; border-radius: 10px 10px 0 0;">
      <h1>CivicLens</h1>
      <p>Report Status Update</p>
    </div>
    <div style="background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px;">
      <h2>Your Report Has Been Updated!</h2>
      <p><strong>Report:</strong> {{reportTitle}}</p>
      <p><strong>New Status:</strong> <span style="display: inline-block; padding: 8px 16px; background: #0D9488; color: white; border-radius: 20px; font-weight: bold;">{{newStatus}}</span></p>
      <p>Thank you for using CivicLens to make your community better. We'll continue to keep you updated on the progress of your report.</p>
    </div>
  </div>
</body>
</html>`

const newCommentHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, #0D9488 0%, #1E3A8A 100%); color: white; padding: 30px; text-align: center; border-radius: 10px 10px 0 0;">
      <h1>CivicLens</h1>
      <p>New Comment</p>
    </div>
    <div style="background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px;">
      <h2>Someone commented on your report</h2>
      <p><strong>Report:</strong> {{reportTitle}}</p>
      <p><strong>{{commenterName}}</strong> wrote:</p>
      <blockquote style="border-left: 4px solid #0D9488; margin: 0; padding-left: 16px;">{{commentText}}</blockquote>
    </div>
  </div>
</body>
</html>`
