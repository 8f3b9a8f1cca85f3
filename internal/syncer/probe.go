package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/inovacc/inboxd/internal/config"
)

// ErrNetworkUnavailable marks a cycle aborted because the network is down.
var ErrNetworkUnavailable = errors.New("network unavailable")

// NetworkError is returned when every probe attempt failed.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetworkUnavailable, e.Err}
}

// Backoff is an exponential delay policy capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait after the n-th failure, counting from zero.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for range n {
		if d >= b.Max {
			break
		}

		d *= 2
	}

	return min(d, b.Max)
}

// Prober checks general network reachability before a cycle touches any
// account.
type Prober struct {
	client   *http.Client
	url      string
	attempts int
	timeout  time.Duration
	backoff  Backoff

	sleep func(ctx context.Context, d time.Duration) error
}

// NewProber builds a prober from the sync settings.
func NewProber(cfg config.Sync, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}

	return &Prober{
		client:   client,
		url:      cfg.ProbeURL,
		attempts: max(cfg.ProbeAttempts, 1),
		timeout:  cfg.ProbeTimeout,
		backoff:  Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax},
		sleep:    sleepContext,
	}
}

// Check probes up to the attempt ceiling. degraded is true when at least one
// attempt failed, including when a later attempt succeeded.
func (p *Prober) Check(ctx context.Context) (degraded bool, err error) {
	var lastErr error

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			delay := p.backoff.Delay(attempt - 2)
			slog.Debug("network probe backing off", "attempt", attempt, "delay", delay)

			if err := p.sleep(ctx, delay); err != nil {
				return true, err
			}
		}

		if lastErr = p.probe(ctx); lastErr == nil {
			if attempt > 1 {
				slog.Info("network reachable after retries", "attempts", attempt)
			}

			return attempt > 1, nil
		}

		slog.Debug("network probe failed", "attempt", attempt, "url", p.url, "error", lastErr)
	}

	return true, &NetworkError{Attempts: p.attempts, Err: lastErr}
}

func (p *Prober) probe(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
