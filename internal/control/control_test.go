package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/crypto/tokencipher"
	"github.com/inovacc/inboxd/internal/gmail"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/inovacc/inboxd/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var testCipher = tokencipher.New(tokencipher.StaticKey(bytes.Repeat([]byte{0x24}, 32)))

type memStore struct {
	mu       sync.Mutex
	accounts []*model.Account
}

func (s *memStore) LoadAccounts() ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}

	return out, nil
}

func (s *memStore) GetAccount(email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email(), email) {
			return a.Clone(), nil
		}
	}

	return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, email)
}

func (s *memStore) SaveAccount(account *model.Account) error {
	return nil
}

// mailbox reports a fixed unread count. When gate is set, UnreadCount blocks
// until it is closed.
type mailbox struct {
	unread int
	gate   chan struct{}
	calls  atomic.Int32
}

func (m *mailbox) UnreadCount(ctx context.Context, _ string) (int, error) {
	m.calls.Add(1)

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return m.unread, nil
}

func (m *mailbox) UserInfo(context.Context, string) (*gmail.UserInfo, error) {
	return &gmail.UserInfo{Email: "ada@gmail.com", Name: "Ada"}, nil
}

type noRefresh struct{}

func (noRefresh) Refresh(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("refresh not expected")
}

// startDaemon runs an engine loop plus a control server and returns a
// connected client.
func startDaemon(t *testing.T, mb *mailbox, interval time.Duration) (*syncer.Engine, *Client) {
	t.Helper()

	account, err := model.NewAccount(testCipher, "ada@gmail.com", "Ada", "access-1", "refresh-1", time.Hour)
	require.NoError(t, err)

	engine, err := syncer.New(syncer.Options{
		Store:     &memStore{accounts: []*model.Account{account}},
		Client:    mb,
		Refresher: noRefresh{},
		Cipher:    testCipher,
		Sync:      config.Sync{Interval: interval, RefreshThreshold: 5 * time.Minute},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	t.Cleanup(func() {
		engine.Stop()
		cancel()
	})

	srv := NewServer(engine)

	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { srv.Stop(time.Second) })

	client, err := Connect(context.Background(), addr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return engine, client
}

func TestSyncNowThroughDaemonIsThrottled(t *testing.T) {
	mb := &mailbox{unread: 7}
	engine, client := startDaemon(t, mb, 50*time.Millisecond)

	require.Eventually(t, func() bool { return mb.calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	report, err := client.SyncNow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "ada@gmail.com", report.Results[0].Email)
	assert.Equal(t, 7, report.Results[0].UnreadCount)
	assert.Equal(t, syncer.TriggerManual, report.Cycle.Trigger)
	assert.True(t, engine.Running())

	report, err = client.SyncNow(context.Background())
	assert.Nil(t, report)
	require.ErrorIs(t, err, syncer.ErrThrottled)
	assert.Contains(t, err.Error(), "too soon")

	assert.True(t, engine.Running())
}

func TestSyncAccountJoinsScheduledCycle(t *testing.T) {
	mb := &mailbox{unread: 3, gate: make(chan struct{})}
	_, client := startDaemon(t, mb, time.Hour)

	// the first scheduled cycle is now blocked inside UnreadCount
	require.Eventually(t, func() bool { return mb.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	type outcome struct {
		info model.AccountSyncInfo
		err  error
	}

	done := make(chan outcome, 1)

	go func() {
		info, err := client.SyncAccount(context.Background(), "ada@gmail.com")
		done <- outcome{info, err}
	}()

	time.Sleep(100 * time.Millisecond)
	close(mb.gate)

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, "ada@gmail.com", o.info.Email)
		assert.Equal(t, 3, o.info.UnreadCount)
	case <-time.After(5 * time.Second):
		t.Fatal("SyncAccount did not return")
	}

	assert.Equal(t, int32(1), mb.calls.Load())
}

func TestSyncAccountUnknownEmail(t *testing.T) {
	_, client := startDaemon(t, &mailbox{unread: 1}, time.Hour)

	info, err := client.SyncAccount(context.Background(), "nobody@gmail.com")
	require.ErrorIs(t, err, store.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "nobody@gmail.com")
	assert.Empty(t, info.Email)
}

type panicSyncer struct{}

func (panicSyncer) SyncNow(context.Context) (*syncer.Report, error) {
	panic("boom")
}

func (panicSyncer) SyncAccount(context.Context, string) (model.AccountSyncInfo, error) {
	panic("boom")
}

func TestServerRecoversFromPanic(t *testing.T) {
	srv := NewServer(panicSyncer{})

	addr, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { srv.Stop(time.Second) })

	client, err := Connect(context.Background(), addr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	_, err = client.SyncNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(errors.Unwrap(err)))

	// the server keeps serving after a panic
	_, err = client.SyncAccount(context.Background(), "ada@gmail.com")
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(errors.Unwrap(err)))
}

func TestConnectWithoutDaemon(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = Connect(context.Background(), addr)
	assert.ErrorIs(t, err, ErrNoDaemon)
}

func TestRemoteErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"throttled", syncer.ErrThrottled, KindThrottled},
		{"network", fmt.Errorf("%w: skipped 2 remaining accounts", syncer.ErrNetworkUnavailable), KindNetwork},
		{"not found", fmt.Errorf("%w: x@gmail.com", store.ErrAccountNotFound), KindNotFound},
		{"canceled", fmt.Errorf("cycle: %w", context.Canceled), KindCanceled},
		{"other", errors.New("disk full"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := toRemoteError(tt.err)
			require.NotNil(t, remote)
			assert.Equal(t, tt.kind, remote.Kind)
			assert.Equal(t, tt.err.Error(), remote.Error())

			if tt.kind != "" {
				assert.ErrorIs(t, remote, errors.Unwrap(remote))
				assert.True(t, errors.Is(tt.err, errors.Unwrap(remote)))
			} else {
				assert.NoError(t, errors.Unwrap(remote))
			}
		})
	}

	assert.Nil(t, toRemoteError(nil))
	assert.NoError(t, toRemoteError(nil).err())
}

func TestDiscover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	alive := func(pid int) bool { return pid == os.Getpid() }
	dead := func(int) bool { return false }

	_, err := Discover(path, alive)
	require.ErrorIs(t, err, ErrNoDaemon)

	require.NoError(t, WriteInfo(path, "127.0.0.1:40123"))

	info, err := Discover(path, alive)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:40123", info.Address)
	assert.Equal(t, os.Getpid(), info.PID)

	_, err = Discover(path, dead)
	require.ErrorIs(t, err, ErrNoDaemon)
	assert.NoFileExists(t, path)
}

func TestRemoveInfoKeepsOtherDaemonsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"address":"127.0.0.1:1","pid":1}`), 0o600))

	RemoveInfo(path)
	assert.FileExists(t, path)

	require.NoError(t, WriteInfo(path, "127.0.0.1:2"))
	RemoveInfo(path)
	assert.NoFileExists(t, path)
}
