// Package syncer runs the periodic Gmail sync loop and on-demand syncs.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/gmail"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/notify"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("sync engine already running")

	// ErrThrottled is returned by SyncNow when called too often.
	ErrThrottled = errors.New("sync requested too soon, try again shortly")

	// ErrReauthorize is the result error when a forced refresh did not make
	// the provider accept the token.
	ErrReauthorize = errors.New("token invalid or expired, please re-authorize")
)

// Cycle triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerAccount  = "account"
)

// DefaultSyncNowEvery is the minimum spacing between SyncNow calls.
const DefaultSyncNowEvery = 5 * time.Second

// AccountStore is the persistence the engine reads accounts from.
type AccountStore interface {
	LoadAccounts() ([]*model.Account, error)
	GetAccount(email string) (*model.Account, error)
	SaveAccount(account *model.Account) error
}

// MailClient fetches the per-account summary.
type MailClient interface {
	UnreadCount(ctx context.Context, accessToken string) (int, error)
	UserInfo(ctx context.Context, accessToken string) (*gmail.UserInfo, error)
}

// NetworkProber reports whether the network is reachable.
type NetworkProber interface {
	Check(ctx context.Context) (degraded bool, err error)
}

// Sink receives results as events. *notify.Dispatcher satisfies it.
type Sink interface {
	Dispatch(ctx context.Context, event *notify.Event)
}

// Options wires the engine's collaborators.
type Options struct {
	Store     AccountStore
	Client    MailClient
	Refresher gmail.Refresher
	Cipher    model.SecretCipher
	Prober    NetworkProber
	Sink      Sink

	Sync config.Sync

	// Limiter throttles SyncNow. Nil uses one call per DefaultSyncNowEvery.
	Limiter *rate.Limiter
}

// Report summarizes one cycle.
type Report struct {
	Cycle   database.Cycle
	Results []model.AccountSyncInfo
}

// Engine owns the periodic sync loop.
type Engine struct {
	store     AccountStore
	client    MailClient
	refresher gmail.Refresher
	cipher    model.SecretCipher
	prober    NetworkProber
	sink      Sink
	cfg       config.Sync
	limiter   *rate.Limiter

	running atomic.Bool
	group   singleflight.Group

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an engine. Store, Client, Refresher and Cipher are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Client == nil || opts.Refresher == nil || opts.Cipher == nil {
		return nil, errors.New("sync engine needs a store, client, refresher and cipher")
	}

	cfg := opts.Sync
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultSync().Interval
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(DefaultSyncNowEvery), 1)
	}

	sink := opts.Sink
	if sink == nil {
		sink = notify.NewDispatcher(false)
	}

	return &Engine{
		store:     opts.Store,
		client:    opts.Client,
		refresher: opts.Refresher,
		cipher:    opts.Cipher,
		prober:    opts.Prober,
		sink:      sink,
		cfg:       cfg,
		limiter:   limiter,
	}, nil
}

// Start launches the periodic loop. The first cycle runs after the initial
// delay, then one per interval. ctx bounds the work of each cycle.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.stop = make(chan struct{})

	e.wg.Add(1)
	go e.run(ctx, e.stop)

	slog.Info("sync engine started", "interval", e.cfg.Interval, "initial_delay", e.cfg.InitialDelay)

	return nil
}

// Stop clears the running flag and waits for an in-flight cycle to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running.CompareAndSwap(true, false) {
		e.mu.Unlock()
		return
	}
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	slog.Info("sync engine stopped")
}

// Running reports whether the periodic loop is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Wait blocks until the loop exits.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()
	defer e.running.Store(false)

	select {
	case <-time.After(e.cfg.InitialDelay):
	case <-stop:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if !e.running.Load() {
			return
		}

		if _, err := e.RunCycle(ctx, TriggerSchedule); err != nil {
			slog.Warn("scheduled sync cycle ended early", "error", err)
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SyncNow runs one full cycle outside the schedule. It may overlap a
// scheduled cycle; per-account work is shared between them.
func (e *Engine) SyncNow(ctx context.Context) (*Report, error) {
	if !e.limiter.Allow() {
		return nil, ErrThrottled
	}

	return e.RunCycle(ctx, TriggerManual)
}

// SyncAccount syncs a single account by email.
func (e *Engine) SyncAccount(ctx context.Context, email string) (model.AccountSyncInfo, error) {
	account, err := e.store.GetAccount(email)
	if err != nil {
		return model.AccountSyncInfo{}, err
	}

	report, err := e.runCycle(ctx, TriggerAccount, []*model.Account{account})
	if len(report.Results) == 0 {
		if err == nil {
			err = fmt.Errorf("account %s is inactive", account.Email())
		}

		return model.AccountSyncInfo{Email: account.Email()}, err
	}

	return report.Results[0], err
}

// RunCycle loads the accounts and syncs them in stored order. The error is
// non-nil only when the cycle was cut short.
func (e *Engine) RunCycle(ctx context.Context, trigger string) (*Report, error) {
	accounts, err := e.store.LoadAccounts()
	if err != nil {
		// invalid records are skipped, the rest still sync
		slog.Error("failed to load some accounts", "error", err)
	}

	return e.runCycle(ctx, trigger, accounts)
}

func (e *Engine) runCycle(ctx context.Context, trigger string, accounts []*model.Account) (*Report, error) {
	cycle := database.Cycle{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	report := &Report{}

	active := make([]*model.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.IsActive() {
			active = append(active, a)
		} else {
			slog.Debug("skipping inactive account", "email", a.Email())
		}
	}

	var cycleErr error

	defer func() {
		cycle.FinishedAt = time.Now().UTC()
		if cycleErr != nil {
			cycle.Error = cycleErr.Error()
		}

		report.Cycle = cycle
		e.sink.Dispatch(ctx, notify.CycleEvent(cycle))
	}()

	if len(active) == 0 {
		return report, nil
	}

	slog.Debug("sync cycle starting", "cycle", cycle.ID, "trigger", trigger, "accounts", len(active))

	degraded := false
	if e.prober != nil {
		var err error
		if degraded, err = e.prober.Check(ctx); err != nil {
			cycleErr = err
			e.sink.Dispatch(ctx, notify.NetworkDownEvent(cycle.ID, err))

			return report, cycleErr
		}
	}

	for i, account := range active {
		info, err := e.syncShared(ctx, account)
		info.NetworkIssue = info.NetworkIssue || degraded

		report.Results = append(report.Results, info)
		cycle.Accounts++

		if info.Failed() {
			cycle.Failures++
		}

		e.sink.Dispatch(ctx, notify.AccountEvent(cycle.ID, info))

		if ctx.Err() != nil {
			cycleErr = ctx.Err()
			return report, cycleErr
		}

		// the network problem applies to the remaining accounts too
		if gmail.IsNetworkError(err) {
			cycleErr = fmt.Errorf("%w: skipped %d remaining accounts: %w", ErrNetworkUnavailable, len(active)-i-1, err)
			return report, cycleErr
		}
	}

	return report, nil
}

// syncShared coalesces concurrent syncs of the same email.
func (e *Engine) syncShared(ctx context.Context, account *model.Account) (model.AccountSyncInfo, error) {
	type outcome struct {
		info model.AccountSyncInfo
		err  error
	}

	v, _, _ := e.group.Do(account.Email(), func() (any, error) {
		info, err := e.syncAccount(ctx, account)
		return outcome{info: info, err: err}, nil
	})

	o := v.(outcome)

	return o.info, o.err
}

// syncAccount fetches the unread count and identity for one account. The
// returned info always describes the outcome; err is the cause when it
// failed.
func (e *Engine) syncAccount(ctx context.Context, account *model.Account) (model.AccountSyncInfo, error) {
	info := model.AccountSyncInfo{
		Email:       account.Email(),
		DisplayName: account.DisplayName(),
		AvatarURL:   account.AvatarURL(),
		SyncedAt:    time.Now().UTC(),
	}

	tokens := gmail.NewTokenManager(account, e.cipher, e.refresher, nil, e.cfg.RefreshThreshold)

	token, err := tokens.GetValidToken(ctx)
	if err != nil {
		info.Error = describe(err)
		return info, err
	}

	forced := false

	// retry runs call once more after a forced refresh when the provider
	// rejected the token. Only one forced refresh happens per account.
	retry := func(call func(token string) error) error {
		err := call(token)
		if !errors.Is(err, gmail.ErrUnauthorized) || forced {
			return err
		}

		forced = true
		slog.Info("access token rejected, forcing refresh", "email", info.Email)

		if token, err = tokens.ForceRefresh(ctx); err != nil {
			return err
		}

		if err := call(token); err != nil {
			if errors.Is(err, gmail.ErrUnauthorized) {
				return fmt.Errorf("%w: %w", ErrReauthorize, err)
			}

			return err
		}

		return nil
	}

	var unread int

	err = retry(func(token string) error {
		var err error
		unread, err = e.client.UnreadCount(ctx, token)

		return err
	})
	if err != nil {
		info.Error = describe(err)
		e.persist(account, tokens, false)

		return info, err
	}

	info.UnreadCount = unread

	var user *gmail.UserInfo

	err = retry(func(token string) error {
		var err error
		user, err = e.client.UserInfo(ctx, token)

		return err
	})
	if err != nil {
		info.Error = describe(err)
		e.persist(account, tokens, false)

		return info, err
	}

	changed := false

	if name := user.DisplayName(); name != "" && name != account.DisplayName() {
		account.SetDisplayName(name)
		changed = true
	}

	if user.Picture != "" && user.Picture != account.AvatarURL() {
		account.SetAvatarURL(user.Picture)
		changed = true
	}

	info.DisplayName = account.DisplayName()
	info.AvatarURL = account.AvatarURL()

	e.persist(account, tokens, changed)

	return info, nil
}

// persist saves the account when its tokens or profile changed. A failed
// save is logged; the refreshed token stays in memory for this cycle.
func (e *Engine) persist(account *model.Account, tokens *gmail.TokenManager, profileChanged bool) {
	if !tokens.Refreshed() && !profileChanged {
		return
	}

	if err := e.store.SaveAccount(account); err != nil {
		slog.Error("failed to save account after sync", "email", account.Email(), "error", err)
	}
}

// describe turns a per-account error into the message carried by the result.
func describe(err error) string {
	switch {
	case errors.Is(err, ErrReauthorize):
		return ErrReauthorize.Error()
	case errors.Is(err, gmail.ErrInvalidGrant):
		return gmail.ErrInvalidGrant.Error()
	case errors.Is(err, gmail.ErrUnauthorized):
		return ErrReauthorize.Error()
	case gmail.IsNetworkError(err):
		return fmt.Sprintf("%s: %v", ErrNetworkUnavailable, err)
	}

	return err.Error()
}
