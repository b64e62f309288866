// internal/feed/subscriber.go
package feed

import (
	"context"
	"sync"

	"civiclens/internal/common/logger"
	"civiclens/internal/common/metrics"
	"civiclens/internal/models"
	"civiclens/internal/notify"
)

// FeedStore is the durable side the subscriber bootstraps from and writes
// through to; satisfied by notify.Store.
type FeedStore interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber maintains a live in-memory projection of one user's notification
// feed: a recent window plus an unread counter that always equals the number
// of unread entries inside the window. It bootstraps from the store, then
// folds change events from the stream into the projection. Local mutations
// are applied optimistically; the change feed reconciles them, and the
// read-flag flip rule keeps double-application harmless.
type Subscriber struct {
	userID string
	limit  int
	store  FeedStore
	stream Stream
	logger logger.Logger

	mu     sync.Mutex
	items  []models.Notification
	unread int

	changed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber loads the initial window, counts its unread entries, then
// starts consuming the stream. The caller owns the stream's lifecycle through
// Close.
func NewSubscriber(ctx context.Context, store FeedStore, stream Stream, userID string, limit int, log logger.Logger) (*Subscriber, error) {
	items, err := store.Recent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}

	s := &Subscriber{
		userID: userID,
		limit:  limit,
		store:  store,
		stream: stream,
		logger: log.With(map[string]interface{}{
			"component": "feed-subscriber",
			"userId":    userID,
		}),
		items:   items,
		unread:  unread,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.gauge()

	go s.consume()
	return s, nil
}

func (s *Subscriber) consume() {
	defer close(s.done)
	for event := range s.stream.Events() {
		s.apply(event)
	}
}

// apply folds one change event into the projection. Events for ids outside
// the current window are ignored except for inserts; the counter covers the
// window only, and the durable store stays authoritative for anything older.
func (s *Subscriber) apply(event notify.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := event.Notification
	switch event.Kind {
	case notify.ChangeInsert:
		if s.indexOf(n.ID) >= 0 {
			return
		}
		s.items = append([]models.Notification{n}, s.items...)
		if !n.Read {
			s.unread++
		}
		// Entries trimmed off the window leave the counter with them.
		for len(s.items) > s.limit {
			if last := s.items[len(s.items)-1]; !last.Read {
				s.decrementUnread()
			}
			s.items = s.items[:len(s.items)-1]
		}

	case notify.ChangeUpdate:
		i := s.indexOf(n.ID)
		if i < 0 {
			return
		}
		if !s.items[i].Read && n.Read {
			s.decrementUnread()
		}
		s.items[i] = n

	case notify.ChangeDelete:
		i := s.indexOf(n.ID)
		if i < 0 {
			return
		}
		if !s.items[i].Read {
			s.decrementUnread()
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
	}

	s.gauge()
	s.signal()
}

// MarkAsRead flips one notification locally and writes through. The local
// flip is optimistic and not rolled back on write failure; the guard against
// flipping an already-read item keeps repeats and echoed change events from
// over-decrementing.
func (s *Subscriber) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 && !s.items[i].Read {
		s.items[i].Read = true
		s.decrementUnread()
		s.gauge()
		s.signal()
	}
	s.mu.Unlock()

	if err := s.store.MarkRead(ctx, id); err != nil {
		s.logger.Warn("mark read write-through failed", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
		return err
	}
	return nil
}

// MarkAllAsRead flips the whole window locally, zeroes the counter, and
// writes through.
func (s *Subscriber) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.gauge()
	s.signal()
	s.mu.Unlock()

	if _, err := s.store.MarkAllRead(ctx, s.userID); err != nil {
		s.logger.Warn("mark all read write-through failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Delete removes one notification locally and writes through.
func (s *Subscriber) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		if !s.items[i].Read {
			s.decrementUnread()
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.gauge()
		s.signal()
	}
	s.mu.Unlock()

	return s.store.Delete(ctx, id)
}

// Snapshot returns a copy of the current window and the unread count.
func (s *Subscriber) Snapshot() ([]models.Notification, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.Notification, len(s.items))
	copy(items, s.items)
	return items, s.unread
}

// Changed yields a signal after every projection change. The channel is
// coalescing: consumers read the latest state through Snapshot, so missed
// intermediate signals lose nothing.
func (s *Subscriber) Changed() <-chan struct{} {
	return s.changed
}

// signal is non-blocking; a pending signal already covers this change.
func (s *Subscriber) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// UnreadCount returns the number of unread entries in the window.
func (s *Subscriber) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Close stops consuming and closes the underlying stream. Idempotent; blocks
// until the consumer goroutine exits.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	<-s.done
	return err
}

func (s *Subscriber) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// decrementUnread floors at zero; duplicate or out-of-order events must not
// drive the counter negative.
func (s *Subscriber) decrementUnread() {
	if s.unread > 0 {
		s.unread--
	}
}

func (s *Subscriber) gauge() {
	metrics.FeedUnread.WithLabelValues(s.userID).Set(float64(s.unread))
}
