package syncer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/crypto/tokencipher"
	"github.com/inovacc/inboxd/internal/gmail"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/notify"
	"github.com/inovacc/inboxd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

var testCipher = tokencipher.New(tokencipher.StaticKey(bytes.Repeat([]byte{0x42}, 32)))

// memStore hands out copies so only SaveAccount changes what is stored.
type memStore struct {
	mu       sync.Mutex
	accounts []*model.Account
	saves    int
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

	return nil, store.ErrAccountNotFound
}

func (s *memStore) SaveAccount(account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++

	for i, a := range s.accounts {
		if strings.EqualFold(a.Email(), account.Email()) {
			s.accounts[i] = account.Clone()
			return nil
		}
	}

	s.accounts = append(s.accounts, account.Clone())

	return nil
}

func (s *memStore) get(t *testing.T, email string) *model.Account {
	t.Helper()

	a, err := s.GetAccount(email)
	require.NoError(t, err)

	return a
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

// fakeClient answers per access token. Unknown tokens get 401.
type fakeClient struct {
	unreadCalls   atomic.Int32
	userInfoCalls atomic.Int32

	unread   func(token string) (int, error)
	userInfo func(token string) (*gmail.UserInfo, error)
}

func (c *fakeClient) UnreadCount(_ context.Context, token string) (int, error) {
	c.unreadCalls.Add(1)
	return c.unread(token)
}

func (c *fakeClient) UserInfo(_ context.Context, token string) (*gmail.UserInfo, error) {
	c.userInfoCalls.Add(1)
	return c.userInfo(token)
}

func unauthorized() error {
	return &gmail.APIError{Endpoint: "/test", StatusCode: http.StatusUnauthorized}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		unread: func(token string) (int, error) {
			if !strings.HasPrefix(token, "access") {
				return 0, unauthorized()
			}

			return 5, nil
		},
		userInfo: func(token string) (*gmail.UserInfo, error) {
			if !strings.HasPrefix(token, "access") {
				return nil, unauthorized()
			}

			return &gmail.UserInfo{Email: "ignored@gmail.com", Name: "Fresh Name", Picture: "https://pic/1"}, nil
		},
	}
}

type stubRefresher struct {
	calls atomic.Int32
	token string
	err   error
}

func (r *stubRefresher) Refresh(context.Context, string) (*oauth2.Token, error) {
	r.calls.Add(1)

	if r.err != nil {
		return nil, r.err
	}

	return &oauth2.Token{AccessToken: r.token, ExpiresIn: 3600}, nil
}

type stubProber struct {
	calls    atomic.Int32
	degraded bool
	err      error
}

func (p *stubProber) Check(context.Context) (bool, error) {
	p.calls.Add(1)
	return p.degraded, p.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (s *recordingSink) Dispatch(_ context.Context, e *notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(eventType string) []*notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*notify.Event

	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}

	return out
}

func (s *recordingSink) accountEvents() []*notify.Event {
	return append(s.ofType(notify.EventAccountSynced), s.ofType(notify.EventAccountFailed)...)
}

func newAccount(t *testing.T, email, access string, expiresIn time.Duration) *model.Account {
	t.Helper()

	a, err := model.NewAccount(testCipher, email, "Stored Name", access, "refresh-"+email, time.Hour)
	require.NoError(t, err)

	rec := a.Record()
	rec.ExpiresAt = time.Now().Add(expiresIn)

	a, err = model.FromRecord(rec)
	require.NoError(t, err)

	return a
}

type harness struct {
	store     *memStore
	client    *fakeClient
	refresher *stubRefresher
	prober    *stubProber
	sink      *recordingSink
	engine    *Engine
}

func newHarness(t *testing.T, accounts ...*model.Account) *harness {
	t.Helper()

	h := &harness{
		store:     &memStore{accounts: accounts},
		client:    newFakeClient(),
		refresher: &stubRefresher{token: "access-refreshed"},
		prober:    &stubProber{},
		sink:      &recordingSink{},
	}

	cfg := config.DefaultSync()
	cfg.InitialDelay = 0
	cfg.Interval = 20 * time.Millisecond

	engine, err := New(Options{
		Store:     h.store,
		Client:    h.client,
		Refresher: h.refresher,
		Cipher:    testCipher,
		Prober:    h.prober,
		Sink:      h.sink,
		Sync:      cfg,
		Limiter:   rate.NewLimiter(rate.Inf, 1),
	})
	require.NoError(t, err)

	h.engine = engine

	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestCycleWithoutAccounts(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, report.Results)

	assert.Zero(t, h.client.unreadCalls.Load())
	assert.Zero(t, h.client.userInfoCalls.Load())
	assert.Zero(t, h.prober.calls.Load())
	assert.Empty(t, h.sink.accountEvents())
	assert.Len(t, h.sink.ofType(notify.EventCycleFinished), 1)
}

func TestCycleSuccess(t *testing.T) {
	h := newHarness(t,
		newAccount(t, "a@gmail.com", "access-a", time.Hour),
		newAccount(t, "b@gmail.com", "access-b", time.Hour),
	)

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, "a@gmail.com", report.Results[0].Email)
	assert.Equal(t, "b@gmail.com", report.Results[1].Email)

	for _, r := range report.Results {
		assert.False(t, r.Failed())
		assert.Equal(t, 5, r.UnreadCount)
		assert.Equal(t, "Fresh Name", r.DisplayName)
		assert.Equal(t, "https://pic/1", r.AvatarURL)
		assert.False(t, r.NetworkIssue)
	}

	assert.Zero(t, h.refresher.calls.Load())
	assert.Equal(t, 2, h.store.saveCount(), "profile changes are persisted")
	assert.Equal(t, "Fresh Name", h.store.get(t, "a@gmail.com").DisplayName())

	assert.Len(t, h.sink.ofType(notify.EventAccountSynced), 2)

	cycles := h.sink.ofType(notify.EventCycleFinished)
	require.Len(t, cycles, 1)
	assert.Equal(t, 2, cycles[0].Cycle.Accounts)
	assert.Zero(t, cycles[0].Cycle.Failures)
	assert.Equal(t, report.Cycle.ID, cycles[0].CycleID)

	// unchanged profile on the next cycle means no save
	_, err = h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.saveCount())
}

func TestCycleSkipsInactive(t *testing.T) {
	inactive := newAccount(t, "off@gmail.com", "access-off", time.Hour)
	inactive.SetActive(false)

	h := newHarness(t, inactive, newAccount(t, "on@gmail.com", "access-on", time.Hour))

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "on@gmail.com", report.Results[0].Email)
	assert.Equal(t, int32(1), h.client.unreadCalls.Load())
}

func TestCycleDegradedNetwork(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))
	h.prober.degraded = true

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].NetworkIssue)
	assert.False(t, report.Results[0].Failed())
}

func TestCycleAbortsWhenProbeFails(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))
	h.prober.err = &NetworkError{Attempts: 4, Err: errors.New("no route to host")}

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Empty(t, report.Results)

	assert.Zero(t, h.client.unreadCalls.Load())
	assert.Zero(t, h.refresher.calls.Load())
	assert.Empty(t, h.sink.accountEvents())
	require.Len(t, h.sink.ofType(notify.EventNetworkDown), 1)

	cycles := h.sink.ofType(notify.EventCycleFinished)
	require.Len(t, cycles, 1)
	assert.Contains(t, cycles[0].Cycle.Error, "network unavailable")
}

func TestCycleRefreshesExpiredToken(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-old", -time.Minute))

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Failed())

	assert.Equal(t, int32(1), h.refresher.calls.Load())

	stored := h.store.get(t, "a@gmail.com")
	assert.False(t, stored.IsTokenExpiring(time.Minute))

	access, err := stored.DecryptAccessToken(testCipher)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", access)
}

func TestCycleIdentityUnauthorizedRetriesOnce(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-old", time.Hour))

	h.client.userInfo = func(token string) (*gmail.UserInfo, error) {
		if token != "access-refreshed" {
			return nil, unauthorized()
		}

		return &gmail.UserInfo{Email: "a@gmail.com", Name: "A"}, nil
	}

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Failed())
	assert.Equal(t, "A", report.Results[0].DisplayName)

	assert.Equal(t, int32(1), h.refresher.calls.Load())
	assert.Equal(t, int32(2), h.client.userInfoCalls.Load())
	assert.Equal(t, int32(1), h.client.unreadCalls.Load())

	access, err := h.store.get(t, "a@gmail.com").DecryptAccessToken(testCipher)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", access, "forced refresh is persisted")
}

func TestCycleIdentityUnauthorizedAfterRefresh(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-old", time.Hour))
	h.client.userInfo = func(string) (*gmail.UserInfo, error) { return nil, unauthorized() }

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err, "per-account failures do not end the cycle")
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.Equal(t, ErrReauthorize.Error(), result.Error)
	assert.Equal(t, 5, result.UnreadCount)
	assert.Equal(t, "Stored Name", result.DisplayName)

	assert.Equal(t, int32(1), h.refresher.calls.Load())
	assert.Equal(t, int32(2), h.client.userInfoCalls.Load())
	assert.Len(t, h.sink.ofType(notify.EventAccountFailed), 1)
}

func TestCycleInvalidGrantLeavesRefreshToken(t *testing.T) {
	account := newAccount(t, "a@gmail.com", "access-old", time.Hour)
	before := account.EncryptedRefreshToken()

	h := newHarness(t, account)
	h.client.userInfo = func(string) (*gmail.UserInfo, error) { return nil, unauthorized() }
	h.refresher.err = &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}, ErrorCode: "invalid_grant"}

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	assert.Equal(t, gmail.ErrInvalidGrant.Error(), report.Results[0].Error)
	assert.Equal(t, int32(1), h.refresher.calls.Load())
	assert.Equal(t, int32(1), h.client.userInfoCalls.Load())
	assert.Zero(t, h.store.saveCount())
	assert.Equal(t, before, h.store.get(t, "a@gmail.com").EncryptedRefreshToken())
}

func TestCycleIdentityFailureKeepsUnread(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))
	h.client.userInfo = func(string) (*gmail.UserInfo, error) {
		return nil, &gmail.APIError{Endpoint: "/userinfo", StatusCode: http.StatusInternalServerError, Body: "backend"}
	}

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.True(t, result.Failed())
	assert.Contains(t, result.Error, "500")
	assert.Equal(t, 5, result.UnreadCount)
	assert.Equal(t, "Stored Name", result.DisplayName)
	assert.Zero(t, h.refresher.calls.Load())
}

func TestCycleIsolatesAccountFailures(t *testing.T) {
	h := newHarness(t,
		newAccount(t, "bad@gmail.com", "broken", time.Hour),
		newAccount(t, "good@gmail.com", "access-good", time.Hour),
	)
	h.refresher.err = errors.New("token endpoint exploded")

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.True(t, report.Results[0].Failed())
	assert.False(t, report.Results[1].Failed())
	assert.Equal(t, 1, report.Cycle.Failures)
}

func TestCycleNetworkErrorSkipsRemaining(t *testing.T) {
	h := newHarness(t,
		newAccount(t, "a@gmail.com", "access-a", time.Hour),
		newAccount(t, "b@gmail.com", "access-b", time.Hour),
		newAccount(t, "c@gmail.com", "access-c", time.Hour),
	)
	h.client.unread = func(string) (int, error) {
		return 0, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}

	report, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Error, "network unavailable")
	assert.Equal(t, int32(1), h.client.unreadCalls.Load())
	assert.Len(t, h.sink.accountEvents(), 1)
}

func TestSyncNowThrottled(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))
	h.engine.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	_, err := h.engine.SyncNow(context.Background())
	require.NoError(t, err)

	_, err = h.engine.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(1), h.client.unreadCalls.Load())
}

func TestSyncAccount(t *testing.T) {
	h := newHarness(t,
		newAccount(t, "a@gmail.com", "access-a", time.Hour),
		newAccount(t, "b@gmail.com", "access-b", time.Hour),
	)

	info, err := h.engine.SyncAccount(context.Background(), "B@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "b@gmail.com", info.Email)
	assert.Equal(t, 5, info.UnreadCount)
	assert.Equal(t, int32(1), h.client.unreadCalls.Load())

	_, err = h.engine.SyncAccount(context.Background(), "missing@gmail.com")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestSyncAccountCoalesces(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	h.client.unread = func(string) (int, error) {
		started <- struct{}{}
		<-release

		return 3, nil
	}

	var wg sync.WaitGroup

	results := make([]int, 2)

	run := func(i int) {
		defer wg.Done()

		info, err := h.engine.SyncAccount(context.Background(), "a@gmail.com")
		assert.NoError(t, err)

		results[i] = info.UnreadCount
	}

	wg.Add(1)
	go run(0)
	<-started

	wg.Add(1)
	go run(1)

	// let the second caller join the in-flight sync
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), h.client.unreadCalls.Load())
	assert.Equal(t, []int{3, 3}, results)
}

func TestEngineStartStop(t *testing.T) {
	h := newHarness(t, newAccount(t, "a@gmail.com", "access-a", time.Hour))

	require.NoError(t, h.engine.Start(context.Background()))
	assert.True(t, h.engine.Running())
	assert.ErrorIs(t, h.engine.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return len(h.sink.ofType(notify.EventCycleFinished)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.engine.Stop()
	assert.False(t, h.engine.Running())

	cycles := len(h.sink.ofType(notify.EventCycleFinished))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, cycles, len(h.sink.ofType(notify.EventCycleFinished)), "no cycles after Stop")

	// stopping twice is a no-op
	h.engine.Stop()
}

func TestEngineStopsWithContext(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.engine.Start(ctx))

	cancel()
	h.engine.Wait()
	assert.False(t, h.engine.Running())
}
