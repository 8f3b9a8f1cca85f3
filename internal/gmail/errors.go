package gmail

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	// ErrPortsExhausted is returned when no port in the callback range can be bound.
	ErrPortsExhausted = errors.New("all callback ports exhausted")

	// ErrStateMismatch is returned when the callback state differs from the one sent.
	ErrStateMismatch = errors.New("state mismatch: possible CSRF attack")

	// ErrMissingCode is returned when the callback carries a state but no code.
	ErrMissingCode = errors.New("no authorization code received")

	// ErrMissingRefreshToken is returned when the token response has no refresh token.
	ErrMissingRefreshToken = errors.New("no refresh token in token response")

	// ErrAuthorizationDenied is returned when the user denies access.
	ErrAuthorizationDenied = errors.New("authorization denied by user")

	// ErrAuthorizationTimeout is returned when no callback arrives in time.
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization")

	// ErrInvalidGrant means the refresh token is revoked or expired.
	ErrInvalidGrant = errors.New("refresh token revoked or expired, please re-authorize")

	// ErrUnauthorized is returned by API calls answered with 401.
	ErrUnauthorized = errors.New("access token rejected")

	// ErrMissingEmail is returned when the identity endpoints return no email.
	ErrMissingEmail = errors.New("identity response has no email")
)

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Unwrap maps 401 responses to ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 {
		return ErrUnauthorized
	}

	return nil
}

// RefreshError describes a failed refresh. Retryable is false when the
// refresh token itself is dead.
type RefreshError struct {
	Email     string
	Retryable bool
	Err       error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh for %s failed: %v", e.Email, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a refresh failure worth retrying later.
func IsRetryable(err error) bool {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Retryable
	}

	return false
}

// IsNetworkError reports whether err comes from failing to reach the host
// (DNS failure, refused or timed-out connection) rather than from a response.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	return false
}
