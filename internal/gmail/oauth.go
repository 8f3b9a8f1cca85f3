package gmail

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/model"
	"golang.org/x/oauth2"
)

// AccountSaver persists an account, replacing any record with the same email.
type AccountSaver interface {
	SaveAccount(account *model.Account) error
}

// FlowOptions tune an AuthorizationFlow. Zero values select the defaults.
type FlowOptions struct {
	Ports      []int
	Timeout    time.Duration
	Endpoints  Endpoints
	HTTPClient *http.Client

	// OpenBrowser launches the authorization URL. Failure is logged and the
	// flow keeps waiting, since the user can open the URL by hand.
	OpenBrowser func(url string) error

	// OnAuthURL is called with the authorization URL before waiting.
	OnAuthURL func(url string)
}

// AuthorizationFlow runs the OAuth2 authorization-code flow with PKCE.
// Only one flow should run at a time.
type AuthorizationFlow struct {
	oauth  config.OAuth
	cipher model.SecretCipher
	saver  AccountSaver
	client *Client
	opts   FlowOptions
}

// NewAuthorizationFlow creates a flow for the given client registration.
func NewAuthorizationFlow(oauth config.OAuth, cipher model.SecretCipher, saver AccountSaver, opts FlowOptions) *AuthorizationFlow {
	if len(opts.Ports) == 0 {
		opts.Ports = DefaultCallbackPorts
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCallbackTimeout
	}

	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}

	return &AuthorizationFlow{
		oauth:  oauth,
		cipher: cipher,
		saver:  saver,
		client: NewClient(opts.HTTPClient, opts.Endpoints),
		opts:   opts,
	}
}

// Run drives the flow to completion and returns the saved account.
func (f *AuthorizationFlow) Run(ctx context.Context) (*model.Account, error) {
	if err := f.oauth.Validate(); err != nil {
		return nil, err
	}

	redirect, err := url.Parse(f.oauth.RedirectURI)
	if err != nil || redirect.Hostname() == "" {
		return nil, fmt.Errorf("invalid redirect URI %q", f.oauth.RedirectURI)
	}

	server, err := startCallbackServer(f.opts.Ports, redirect.Path)
	if err != nil {
		return nil, err
	}

	defer server.Close()

	redirect.Host = net.JoinHostPort(redirect.Hostname(), strconv.Itoa(server.Port()))
	conf := f.oauthConfig(redirect.String())

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	verifier := oauth2.GenerateVerifier()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	slog.Info("waiting for authorization callback", "port", server.Port(), "timeout", f.opts.Timeout)

	if f.opts.OnAuthURL != nil {
		f.opts.OnAuthURL(authURL)
	}

	if f.opts.OpenBrowser != nil {
		if err := f.opts.OpenBrowser(authURL); err != nil {
			slog.Warn("failed to open browser", "error", err)
		}
	}

	result, err := server.Wait(ctx, f.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("authorization callback failed: %w", err)
	}

	switch result.Kind {
	case CallbackDenied:
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, result.Error)
	case CallbackTimeout:
		return nil, fmt.Errorf("%w after %s", ErrAuthorizationTimeout, f.opts.Timeout)
	}

	if result.State != state {
		return nil, ErrStateMismatch
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.opts.HTTPClient)

	token, err := exchangeWithPublicFallback(ctx, conf, func(c *oauth2.Config) (*oauth2.Token, error) {
		return c.Exchange(ctx, result.Code, oauth2.VerifierOption(verifier))
	})
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	if token.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	identity, err := f.client.Identity(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity: %w", err)
	}

	account, err := model.NewAccount(f.cipher, identity.Email, identity.DisplayName(),
		token.AccessToken, token.RefreshToken, tokenTTL(token))
	if err != nil {
		return nil, err
	}

	account.SetAvatarURL(identity.Picture)

	if err := f.saver.SaveAccount(account); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	slog.Info("account authorized", "email", account.Email())

	return account, nil
}

func (f *AuthorizationFlow) oauthConfig(redirectURI string) *oauth2.Config {
	return newOAuth2Config(f.oauth, f.opts.Endpoints, redirectURI)
}

func newOAuth2Config(oauth config.OAuth, endpoints Endpoints, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		Endpoint:     endpoints.oauth2(),
		RedirectURL:  redirectURI,
		Scopes:       oauth.Scopes,
	}
}

// exchangeWithPublicFallback calls fn once, and once more without the client
// secret if the token endpoint treats this client as public.
func exchangeWithPublicFallback(ctx context.Context, conf *oauth2.Config, fn func(*oauth2.Config) (*oauth2.Token, error)) (*oauth2.Token, error) {
	token, err := fn(conf)
	if err == nil || conf.ClientSecret == "" || !isPublicClientError(err) {
		return token, err
	}

	slog.InfoContext(ctx, "token endpoint rejected client secret, retrying as public client")

	public := *conf
	public.ClientSecret = ""

	return fn(&public)
}

func isPublicClientError(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}

	if re.ErrorCode == "invalid_client" {
		return true
	}

	return re.ErrorCode == "" && re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}

// tokenTTL returns the lifetime of a freshly issued token.
func tokenTTL(token *oauth2.Token) time.Duration {
	if token.ExpiresIn > 0 {
		return time.Duration(token.ExpiresIn) * time.Second
	}

	if !token.Expiry.IsZero() {
		if ttl := time.Until(token.Expiry); ttl > 0 {
			return ttl
		}
	}

	return model.DefaultTokenTTL
}

// generateState generates a random state string for CSRF protection.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
