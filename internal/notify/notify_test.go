package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	events []*Event
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return s.err
}

func (s *recordingSender) received() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Event(nil), s.events...)
}

type panickingSender struct{}

func (panickingSender) Name() string { return "panics" }

func (panickingSender) Send(context.Context, *Event) error { panic("boom") }

func TestAccountEvent(t *testing.T) {
	ok := AccountEvent("cycle-1", model.AccountSyncInfo{Email: "a@gmail.com", UnreadCount: 3})
	assert.Equal(t, EventAccountSynced, ok.Type)
	assert.Equal(t, "cycle-1", ok.CycleID)
	assert.NotEmpty(t, ok.ID)
	assert.Empty(t, ok.Error)
	require.NotNil(t, ok.Account)
	assert.Equal(t, 3, ok.Account.UnreadCount)

	failed := AccountEvent("cycle-1", model.AccountSyncInfo{Email: "a@gmail.com", Error: "denied"})
	assert.Equal(t, EventAccountFailed, failed.Type)
	assert.Equal(t, "denied", failed.Error)
	assert.NotEqual(t, ok.ID, failed.ID)
}

func TestDispatcherSync(t *testing.T) {
	d := NewDispatcher(false)
	assert.False(t, d.HasSenders())

	first := &recordingSender{name: "first", err: errors.New("ignored")}
	second := &recordingSender{name: "second"}

	d.Register(first)
	d.Register(panickingSender{})
	d.Register(second)
	assert.Len(t, d.Senders(), 3)

	d.Dispatch(context.Background(), NetworkDownEvent("c", errors.New("offline")))

	assert.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1, "panic and error in other senders do not stop delivery")
	assert.Equal(t, "offline", second.received()[0].Error)

	d.Unregister("first")
	d.Dispatch(context.Background(), NewEvent(EventCycleFinished, "c"))

	assert.Len(t, first.received(), 1)
	assert.Len(t, second.received(), 2)
}

func TestDispatcherAsync(t *testing.T) {
	d := NewDispatcher(true)
	ch := NewChannelSender(1)
	d.Register(ch)

	d.Dispatch(context.Background(), AccountEvent("c", model.AccountSyncInfo{Email: "a@gmail.com"}))

	select {
	case e := <-ch.Events():
		assert.Equal(t, "a@gmail.com", e.Account.Email)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestChannelSenderRespectsContext(t *testing.T) {
	ch := NewChannelSender(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, ch.Send(ctx, NewEvent(EventCycleFinished, "c")), context.Canceled)
}

func TestStatusSender(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)

	d := NewDispatcher(false)
	d.Register(NewStatusSender(db))
	d.Register(NewLogSender(nil))

	ctx := context.Background()

	d.Dispatch(ctx, AccountEvent("c1", model.AccountSyncInfo{Email: "a@gmail.com", Error: "token invalid or expired, please re-authorize"}))
	d.Dispatch(ctx, AccountEvent("c2", model.AccountSyncInfo{Email: "a@gmail.com", Error: "still broken"}))

	status, err := db.GetStatus("a@gmail.com")
	require.NoError(t, err)
	assert.True(t, status.PersistentError)
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Equal(t, "still broken", status.LastError)

	d.Dispatch(ctx, AccountEvent("c3", model.AccountSyncInfo{Email: "a@gmail.com", UnreadCount: 9}))

	status, err = db.GetStatus("a@gmail.com")
	require.NoError(t, err)
	assert.False(t, status.PersistentError)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Equal(t, 9, status.UnreadCount)

	started := time.Now().Add(-time.Second)
	d.Dispatch(ctx, CycleEvent(database.Cycle{ID: "c3", Trigger: "manual", StartedAt: started, FinishedAt: time.Now(), Accounts: 1}))

	cycles, err := db.RecentCycles(10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "c3", cycles[0].ID)
}
