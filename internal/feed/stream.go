// internal/feed/stream.go
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"civiclens/internal/common/database"
	"civiclens/internal/common/logger"
	"civiclens/internal/notify"

	"github.com/redis/go-redis/v9"
)

// Stream is a live source of change events for one user's notifications.
// Events closes when the stream does.
type Stream interface {
	Events() <-chan notify.ChangeEvent
	Close() error
}

// RedisStream adapts a redis subscription on the user's notification channel
// into a typed event stream. Messages that fail to decode are dropped with a
// warning rather than tearing the stream down.
type RedisStream struct {
	pubsub    *redis.PubSub
	events    chan notify.ChangeEvent
	logger    logger.Logger
	closeOnce sync.Once
}

// OpenStream subscribes to the given user's change-feed channel and starts
// pumping decoded events until Close is called.
func OpenStream(ctx context.Context, client *database.RedisClient, userID string, log logger.Logger) *RedisStream {
	s := &RedisStream{
		pubsub: client.Subscribe(ctx, notify.ChannelFor(userID)),
		events: make(chan notify.ChangeEvent, 16),
		logger: log.With(map[string]interface{}{
			"component": "feed-stream",
			"userId":    userID,
		}),
	}
	go s.pump()
	return s
}

func (s *RedisStream) pump() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var event notify.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warn("dropping undecodable change event", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			continue
		}
		s.events <- event
	}
}

func (s *RedisStream) Events() <-chan notify.ChangeEvent {
	return s.events
}

// Close unsubscribes; the event channel closes once in-flight messages drain.
// Safe to call more than once.
func (s *RedisStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
