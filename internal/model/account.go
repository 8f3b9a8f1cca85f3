package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProviderGmail is the only account type currently supported.
const ProviderGmail = "gmail"

// DefaultTokenTTL is used when the token endpoint omits expires_in.
const DefaultTokenTTL = time.Hour

const encryptedPrefix = "encrypted:"

var (
	ErrEmptyEmail   = errors.New("account email is empty")
	ErrNotEncrypted = errors.New("token field is not encrypted")
)

// now is swapped in tests.
var now = time.Now

// SecretCipher encrypts and decrypts token fields.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(secret string) (string, error)
}

// Account is a stored mailbox credential. It is safe for concurrent use.
type Account struct {
	mu sync.RWMutex

	email        string
	displayName  string
	avatarURL    string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	active       bool
}

// NewAccount encrypts the plaintext tokens and builds an active account
// expiring ttl from now.
func NewAccount(c SecretCipher, email, displayName, accessToken, refreshToken string, ttl time.Duration) (*Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmptyEmail
	}

	encAccess, err := c.Encrypt(accessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	encRefresh, err := c.Encrypt(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	return &Account{
		email:        email,
		displayName:  displayName,
		accessToken:  encAccess,
		refreshToken: encRefresh,
		expiresAt:    expiryFor(ttl),
		active:       true,
	}, nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return now().UTC().Add(ttl)
}

func (a *Account) Email() string {
	return a.email
}

func (a *Account) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.displayName
}

func (a *Account) SetDisplayName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.displayName = name
}

func (a *Account) AvatarURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.avatarURL
}

func (a *Account) SetAvatarURL(u string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.avatarURL = u
}

func (a *Account) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.active
}

func (a *Account) SetActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active = active
}

func (a *Account) ExpiresAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.expiresAt
}

// EncryptedAccessToken returns the stored (encrypted) access token.
func (a *Account) EncryptedAccessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.accessToken
}

// EncryptedRefreshToken returns the stored (encrypted) refresh token.
func (a *Account) EncryptedRefreshToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.refreshToken
}

// IsTokenExpiring reports whether the access token expires within threshold.
func (a *Account) IsTokenExpiring(threshold time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return !a.expiresAt.After(now().UTC().Add(threshold))
}

// DecryptAccessToken returns the plaintext access token.
func (a *Account) DecryptAccessToken(c SecretCipher) (string, error) {
	token, err := c.Decrypt(a.EncryptedAccessToken())
	if err != nil {
		return "", fmt.Errorf("decrypt access token for %s: %w", a.email, err)
	}

	return token, nil
}

// DecryptRefreshToken returns the plaintext refresh token.
func (a *Account) DecryptRefreshToken(c SecretCipher) (string, error) {
	token, err := c.Decrypt(a.EncryptedRefreshToken())
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token for %s: %w", a.email, err)
	}

	return token, nil
}

// UpdateAccessToken replaces the access token and recomputes the expiry in a
// single step. On error the account is unchanged.
func (a *Account) UpdateAccessToken(c SecretCipher, accessToken string, ttl time.Duration) error {
	return a.UpdateTokens(c, accessToken, "", ttl)
}

// UpdateTokens is UpdateAccessToken that also rotates the refresh token when
// refreshToken is non-empty.
func (a *Account) UpdateTokens(c SecretCipher, accessToken, refreshToken string, ttl time.Duration) error {
	encAccess, err := c.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var encRefresh string
	if refreshToken != "" {
		if encRefresh, err = c.Encrypt(refreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.accessToken = encAccess
	a.expiresAt = expiryFor(ttl)

	if encRefresh != "" {
		a.refreshToken = encRefresh
	}

	return nil
}

// Clone returns an independent copy.
func (a *Account) Clone() *Account {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return &Account{
		email:        a.email,
		displayName:  a.displayName,
		avatarURL:    a.avatarURL,
		accessToken:  a.accessToken,
		refreshToken: a.refreshToken,
		expiresAt:    a.expiresAt,
		active:       a.active,
	}
}

// Validate checks the both-encrypted invariant.
func (a *Account) Validate() error {
	if a.email == "" {
		return ErrEmptyEmail
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if !strings.HasPrefix(a.accessToken, encryptedPrefix) {
		return fmt.Errorf("%s: access_token: %w", a.email, ErrNotEncrypted)
	}

	if !strings.HasPrefix(a.refreshToken, encryptedPrefix) {
		return fmt.Errorf("%s: refresh_token: %w", a.email, ErrNotEncrypted)
	}

	return nil
}
