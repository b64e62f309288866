// internal/notify/push.go
package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"civiclens/internal/common/aws"
	commonerrors "civiclens/internal/common/errors"
	"civiclens/internal/common/logger"
	"civiclens/internal/common/metrics"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// PermissionState mirrors the platform notification permission: a prompt has
// either never been shown, been accepted, or been declined.
type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// PushContext is the explicit per-call context handed to the push adapter:
// recipient plus a permission snapshot, instead of ambient session state.
type PushContext struct {
	UserID      string
	Permission  PermissionState
	EndpointARN string
}

// pushTTLSeconds bounds how long an undelivered push stays alive; delivered
// notifications self-dismiss on the same interval.
const pushTTLSeconds = "5"

// PushAdapter delivers over the platform push channel when permission was
// granted, and falls back to an in-process toast otherwise. A dispatched
// event always surfaces somewhere; gating only picks the surface.
type PushAdapter struct {
	config *Config
	sns    aws.SNSAPI
	logger logger.Logger
}

func NewPushAdapter(config *Config, snsClient aws.SNSAPI, log logger.Logger) *PushAdapter {
	return &PushAdapter{
		config: config,
		sns:    snsClient,
		logger: log.With(map[string]interface{}{"component": "push-adapter"}),
	}
}

// Notify sends one push. reportTag coalesces repeated updates for the same
// report into one visible notification slot. Never returns an error: any
// delivery failure degrades to the toast surface and is logged.
func (a *PushAdapter) Notify(ctx context.Context, pctx PushContext, title, body, reportTag string) {
	if a.sns == nil || pctx.Permission != PermissionGranted || pctx.EndpointARN == "" {
		a.toast(pctx.UserID, title, body)
		metrics.ChannelSends.WithLabelValues("push", "toast").Inc()
		return
	}

	_, err := a.sns.Publish(ctx, &sns.PublishInput{
		TargetArn: awssdk.String(pctx.EndpointARN),
		Message:   awssdk.String(body),
		Subject:   awssdk.String(title),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tag": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(reportTag),
			},
			"ttl": {
				DataType:    awssdk.String("Number"),
				StringValue: awssdk.String(pushTTLSeconds),
			},
		},
	})
	if err != nil {
		stdErr := commonerrors.NewChannelDeliveryFailedError("push", err)
		a.logger.Error("push delivery failed", map[string]interface{}{
			"userId": pctx.UserID,
			"error":  stdErr.Details,
		})
		metrics.ChannelSends.WithLabelValues("push", "failed").Inc()
		a.toast(pctx.UserID, title, body)
		return
	}

	metrics.ChannelSends.WithLabelValues("push", "sent").Inc()
}

// toast is the in-process ephemeral surface used whenever native push is
// unavailable.
func (a *PushAdapter) toast(userID, title, body string) {
	a.logger.Info("toast notification", map[string]interface{}{
		"surface": "toast",
		"userId":  userID,
		"title":   title,
		"body":    body,
	})
}

// PermissionRegistry persists each user's push permission and platform
// endpoint. Prompting is an explicit operation invoked at session start for
// authenticated users, never implicitly from inside the adapter.
type PermissionRegistry struct {
	db     *sql.DB
	config *Config
	sns    aws.SNSAPI
	logger logger.Logger
}

func NewPermissionRegistry(db *sql.DB, config *Config, snsClient aws.SNSAPI, log logger.Logger) *PermissionRegistry {
	return &PermissionRegistry{
		db:     db,
		config: config,
		sns:    snsClient,
		logger: log.With(map[string]interface{}{"component": "push-permissions"}),
	}
}

// Snapshot reads the current permission state without prompting. Unknown
// users are in the default (never asked) state.
func (r *PermissionRegistry) Snapshot(ctx context.Context, userID string) PushContext {
	var state string
	var endpointARN string
	err := r.db.QueryRowContext(ctx, `
		SELECT permission, COALESCE(endpoint_arn, '')
		FROM push_subscriptions WHERE user_id = $1`, userID).
		Scan(&state, &endpointARN)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("permission snapshot failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
		return PushContext{UserID: userID, Permission: PermissionDefault}
	}

	return PushContext{
		UserID:      userID,
		Permission:  PermissionState(state),
		EndpointARN: endpointARN,
	}
}

// RequestPermission prompts once for push permission by registering the
// device with the platform. A previous denial is final: the registry never
// re-prompts after it.
func (r *PermissionRegistry) RequestPermission(ctx context.Context, userID, deviceToken string) (bool, error) {
	current := r.Snapshot(ctx, userID)
	switch current.Permission {
	case PermissionGranted:
		return true, nil
	case PermissionDenied:
		return false, nil
	}

	if r.sns == nil {
		r.logger.Warn("push registration requested with sns disabled", map[string]interface{}{
			"userId": userID,
		})
		return false, nil
	}

	out, err := r.sns.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: awssdk.String(r.config.PlatformApplicationARN),
		Token:                  awssdk.String(deviceToken),
	})
	if err != nil {
		if storeErr := r.store(ctx, userID, PermissionDenied, ""); storeErr != nil {
			r.logger.Warn("permission state write failed", map[string]interface{}{
				"userId": userID,
				"error":  storeErr.Error(),
			})
		}
		return false, nil
	}

	if err := r.store(ctx, userID, PermissionGranted, awssdk.ToString(out.EndpointArn)); err != nil {
		return true, err
	}
	return true, nil
}

func (r *PermissionRegistry) store(ctx context.Context, userID string, state PermissionState, endpointARN string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, permission, endpoint_arn, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			permission = EXCLUDED.permission,
			endpoint_arn = EXCLUDED.endpoint_arn,
			updated_at = EXCLUDED.updated_at`,
		userID, string(state), nullable(endpointARN), time.Now().UTC())
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("push subscription upsert", err)
	}
	return nil
}
