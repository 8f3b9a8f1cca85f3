package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/model"
	"golang.org/x/oauth2"
)

// DefaultRefreshThreshold is how close to expiry a token gets refreshed.
const DefaultRefreshThreshold = 5 * time.Minute

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes through the provider token endpoint.
type OAuthRefresher struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewOAuthRefresher creates a refresher for the given client registration.
func NewOAuthRefresher(oauth config.OAuth, endpoints Endpoints, httpClient *http.Client) *OAuthRefresher {
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}

	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	return &OAuthRefresher{
		conf:       newOAuth2Config(oauth, endpoints, ""),
		httpClient: httpClient,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	return exchangeWithPublicFallback(ctx, r.conf, func(c *oauth2.Config) (*oauth2.Token, error) {
		return c.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

// TokenManager hands out valid access tokens for one account.
type TokenManager struct {
	account   *model.Account
	cipher    model.SecretCipher
	refresher Refresher
	saver     AccountSaver
	threshold time.Duration

	mu         sync.Mutex
	refreshed  bool
	persistErr error
}

// NewTokenManager wraps account. saver may be nil to skip persistence.
func NewTokenManager(account *model.Account, cipher model.SecretCipher, refresher Refresher, saver AccountSaver, threshold time.Duration) *TokenManager {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}

	return &TokenManager{
		account:   account,
		cipher:    cipher,
		refresher: refresher,
		saver:     saver,
		threshold: threshold,
	}
}

func (m *TokenManager) Account() *model.Account {
	return m.account
}

// GetValidToken returns the access token, refreshing first when it expires
// within the threshold.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account.IsTokenExpiring(m.threshold) {
		slog.Debug("access token expiring, refreshing", "email", m.account.Email(), "expires_at", m.account.ExpiresAt())
		return m.refreshLocked(ctx)
	}

	return m.account.DecryptAccessToken(m.cipher)
}

// ForceRefresh refreshes regardless of the stored expiry.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshLocked(ctx)
}

// Refreshed reports whether any refresh succeeded through this manager.
func (m *TokenManager) Refreshed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshed
}

// PersistError returns the error from the last failed save, if any. The
// refreshed token stays usable either way.
func (m *TokenManager) PersistError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.persistErr
}

func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	email := m.account.Email()

	refreshToken, err := m.account.DecryptRefreshToken(m.cipher)
	if err != nil {
		return "", err
	}

	token, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", classifyRefreshError(email, err)
	}

	if token.AccessToken == "" {
		return "", &RefreshError{Email: email, Retryable: true, Err: errors.New("token response has no access token")}
	}

	rotated := ""
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		rotated = token.RefreshToken
	}

	if err := m.account.UpdateTokens(m.cipher, token.AccessToken, rotated, tokenTTL(token)); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	m.refreshed = true
	m.persistErr = nil

	slog.Info("access token refreshed", "email", email, "expires_at", m.account.ExpiresAt(), "rotated", rotated != "")

	if m.saver != nil {
		if err := m.saver.SaveAccount(m.account); err != nil {
			m.persistErr = err
			slog.Error("failed to persist refreshed token", "email", email, "error", err)
		}
	}

	return token.AccessToken, nil
}

func classifyRefreshError(email string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "unauthorized_client":
			return &RefreshError{Email: email, Retryable: false, Err: fmt.Errorf("%w: %w", ErrInvalidGrant, err)}
		}
	}

	return &RefreshError{Email: email, Retryable: true, Err: err}
}
