// internal/feed/subscriber_test.go
package feed

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"civiclens/internal/common/database"
	"civiclens/internal/common/logger"
	"civiclens/internal/models"
	"civiclens/internal/notify"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory Stream fed directly by the test.
type fakeStream struct {
	ch        chan notify.ChangeEvent
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan notify.ChangeEvent, 16)}
}

func (f *fakeStream) Events() <-chan notify.ChangeEvent { return f.ch }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.ch) })
	return nil
}

func (f *fakeStream) emit(kind notify.ChangeKind, n models.Notification) {
	f.ch <- notify.ChangeEvent{Kind: kind, Notification: n}
}

// fakeFeedStore serves a canned bootstrap and records write-throughs.
type fakeFeedStore struct {
	mu          sync.Mutex
	recent      []models.Notification
	markedRead  []string
	markedAll   int
	deleted     []string
	markReadErr error
}

func (f *fakeFeedStore) Recent(_ context.Context, _ string, _ int) ([]models.Notification, error) {
	return append([]models.Notification(nil), f.recent...), nil
}

func (f *fakeFeedStore) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *fakeFeedStore) MarkAllRead(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedAll++
	return len(f.recent), nil
}

func (f *fakeFeedStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func notif(id string, read bool) models.Notification {
	return models.Notification{
		ID:        id,
		UserID:    "user-1",
		Type:      models.TypeStatusChange,
		Title:     "t",
		Message:   "m",
		Read:      read,
		CreatedAt: time.Now().UTC(),
	}
}

func newTestSubscriber(t *testing.T, store *fakeFeedStore, stream Stream) *Subscriber {
	t.Helper()
	sub, err := NewSubscriber(context.Background(), store, stream, "user-1", 50, logger.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func waitForUnread(t *testing.T, sub *Subscriber, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return sub.UnreadCount() == want },
		2*time.Second, 10*time.Millisecond, "unread count should reach %d", want)
}

func TestSubscriber_BootstrapsFromStore(t *testing.T) {
	store := &fakeFeedStore{
		recent: []models.Notification{notif("n-2", false), notif("n-1", true)},
	}
	sub := newTestSubscriber(t, store, newFakeStream())

	items, unread := sub.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, "n-2", items[0].ID)
	assert.Equal(t, 1, unread, "the counter is derived from the loaded window")
}

func TestSubscriber_InsertPrependsAndIncrements(t *testing.T) {
	store := &fakeFeedStore{recent: []models.Notification{notif("n-1", true)}}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	stream.emit(notify.ChangeInsert, notif("n-2", false))
	waitForUnread(t, sub, 1)

	items, _ := sub.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, "n-2", items[0].ID, "newest entry is prepended")
}

func TestSubscriber_WindowTrimsAtLimit(t *testing.T) {
	store := &fakeFeedStore{}
	stream := newFakeStream()
	sub, err := NewSubscriber(context.Background(), store, stream, "user-1", 3, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		stream.emit(notify.ChangeInsert, notif(fmt.Sprintf("n-%d", i), false))
	}
	require.Eventually(t, func() bool {
		items, _ := sub.Snapshot()
		return len(items) > 0 && items[0].ID == "n-4"
	}, 2*time.Second, 10*time.Millisecond)

	items, unread := sub.Snapshot()
	assert.Len(t, items, 3, "window holds the newest entries only")
	assert.Equal(t, "n-4", items[0].ID)
	assert.Equal(t, 3, unread, "the counter matches the unread entries left in the window")
}

func TestSubscriber_UpdateFlipsReadAndDecrements(t *testing.T) {
	store := &fakeFeedStore{recent: []models.Notification{notif("n-1", false)}}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	stream.emit(notify.ChangeUpdate, notif("n-1", true))
	waitForUnread(t, sub, 0)

	items, _ := sub.Snapshot()
	assert.True(t, items[0].Read)
}

func TestSubscriber_UpdateForUnknownIDIsIgnored(t *testing.T) {
	store := &fakeFeedStore{recent: []models.Notification{notif("n-1", false)}}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	stream.emit(notify.ChangeUpdate, notif("ghost", true))
	// Give the consumer a beat, then confirm nothing moved.
	time.Sleep(50 * time.Millisecond)

	items, unread := sub.Snapshot()
	assert.Len(t, items, 1)
	assert.Equal(t, 1, unread)
}

func TestSubscriber_MarkAsReadIsIdempotent(t *testing.T) {
	store := &fakeFeedStore{recent: []models.Notification{notif("n-1", false)}}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	ctx := context.Background()
	require.NoError(t, sub.MarkAsRead(ctx, "n-1"))
	require.NoError(t, sub.MarkAsRead(ctx, "n-1"))
	assert.Equal(t, 0, sub.UnreadCount(), "a repeat mark must not go negative")

	// The echoed change event from the first mark must not decrement again.
	stream.emit(notify.ChangeUpdate, notif("n-1", true))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.UnreadCount())
}

func TestSubscriber_OutOfWindowMarkKeepsCounterConsistent(t *testing.T) {
	// Window of one: an older unread notification exists durably but is not
	// loaded. Marking it read must leave the counter equal to the unread
	// entries actually in the window.
	store := &fakeFeedStore{recent: []models.Notification{notif("n-new", false)}}
	stream := newFakeStream()
	sub, err := NewSubscriber(context.Background(), store, stream, "user-1", 1, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.MarkAsRead(context.Background(), "n-old"))
	stream.emit(notify.ChangeUpdate, notif("n-old", true))
	time.Sleep(50 * time.Millisecond)

	items, unread := sub.Snapshot()
	require.Len(t, items, 1)
	assert.False(t, items[0].Read)
	assert.Equal(t, 1, unread, "counter equals the in-window unread count")
	assert.Contains(t, store.markedRead, "n-old", "the write-through still lands durably")
}

func TestSubscriber_MarkAllAsReadZeroesCounter(t *testing.T) {
	store := &fakeFeedStore{
		recent: []models.Notification{notif("n-3", false), notif("n-2", false), notif("n-1", true)},
	}
	sub := newTestSubscriber(t, store, newFakeStream())

	require.NoError(t, sub.MarkAllAsRead(context.Background()))

	items, unread := sub.Snapshot()
	assert.Equal(t, 0, unread)
	for _, n := range items {
		assert.True(t, n.Read)
	}
	assert.Equal(t, 1, store.markedAll)
}

func TestSubscriber_OptimisticMarkSurvivesWriteFailure(t *testing.T) {
	store := &fakeFeedStore{
		recent:      []models.Notification{notif("n-1", false)},
		markReadErr: fmt.Errorf("store down"),
	}
	sub := newTestSubscriber(t, store, newFakeStream())

	err := sub.MarkAsRead(context.Background(), "n-1")
	assert.Error(t, err)
	assert.Equal(t, 0, sub.UnreadCount(), "the optimistic flip is not rolled back")
}

func TestSubscriber_DeleteEventRemovesAndAdjustsCounter(t *testing.T) {
	store := &fakeFeedStore{
		recent: []models.Notification{notif("n-2", false), notif("n-1", true)},
	}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	stream.emit(notify.ChangeDelete, notif("n-2", false))
	waitForUnread(t, sub, 0)

	items, _ := sub.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "n-1", items[0].ID)
}

func TestSubscriber_OutOfOrderEventsCannotGoNegative(t *testing.T) {
	store := &fakeFeedStore{recent: []models.Notification{notif("n-1", true)}}
	stream := newFakeStream()
	sub := newTestSubscriber(t, store, stream)

	// Updates for an already-read item and a deletion of it in quick
	// succession must leave the counter at zero.
	stream.emit(notify.ChangeUpdate, notif("n-1", true))
	stream.emit(notify.ChangeDelete, notif("n-1", true))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, sub.UnreadCount())
}

func TestSubscriber_CloseIsIdempotent(t *testing.T) {
	store := &fakeFeedStore{}
	sub, err := NewSubscriber(context.Background(), store, newFakeStream(), "user-1", 50, logger.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestSubscriber_LiveFeedOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Bootstrap: empty feed.
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("user-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "title", "message", "read", "created_at", "report_id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	client := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer client.Close()

	log := logger.NewTestLogger(t)
	ctx := context.Background()

	store := notify.NewStore(db, client, log)
	stream := OpenStream(ctx, client, "user-1", log)
	sub, err := NewSubscriber(ctx, store, stream, "user-1", 50, log)
	require.NoError(t, err)
	defer sub.Close()

	// Let the subscription settle before the first publish.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, store.Insert(ctx, &models.Notification{
		UserID:  "user-1",
		Type:    models.TypeNewComment,
		Title:   "New Comment on Your Report",
		Message: "Ann commented",
	}))

	waitForUnread(t, sub, 1)
	items, _ := sub.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, models.TypeNewComment, items[0].Type)
}
