// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClassificationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_requests_total",
			Help: "Total number of classification requests by outcome",
		},
		[]string{"outcome"},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "classification_duration_seconds",
			Help: "Duration of classification calls in seconds",
		},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of notification events dispatched",
		},
		[]string{"event_type"},
	)

	ChannelSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_sends_total",
			Help: "Total number of channel delivery attempts by status",
		},
		[]string{"channel", "status"},
	)

	FeedUnread = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_unread_notifications",
			Help: "Current unread notification count per live feed",
		},
		[]string{"user_id"},
	)
)
