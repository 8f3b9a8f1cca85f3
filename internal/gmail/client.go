package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is a Gmail API client. Access tokens are passed per call so one
// client serves every account.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
}

// NewClient creates a new Gmail API client. A nil httpClient uses NewHTTPClient.
func NewClient(httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	return &Client{
		httpClient: httpClient,
		endpoints:  endpoints,
	}
}

// Label represents a Gmail label.
type Label struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MessagesTotal  int    `json:"messagesTotal"`
	MessagesUnread int    `json:"messagesUnread"`
	ThreadsTotal   int    `json:"threadsTotal"`
	ThreadsUnread  int    `json:"threadsUnread"`
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int    `json:"messagesTotal"`
	ThreadsTotal  int    `json:"threadsTotal"`
	HistoryID     string `json:"historyId"`
}

// UserInfo is the OpenID userinfo response.
type UserInfo struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// DisplayName returns the name, or the local part of the email when absent.
func (u *UserInfo) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}

	local, _, _ := strings.Cut(u.Email, "@")

	return local
}

// UnreadCount returns the number of unread messages in INBOX.
func (c *Client) UnreadCount(ctx context.Context, accessToken string) (int, error) {
	var label Label
	if err := c.get(ctx, accessToken, c.endpoints.GmailBaseURL+"/users/me/labels/INBOX", &label); err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}

	return label.MessagesUnread, nil
}

// GetProfile returns the mailbox profile.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	if err := c.get(ctx, accessToken, c.endpoints.GmailBaseURL+"/users/me/profile", &profile); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// UserInfo returns the account identity.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	var info UserInfo
	if err := c.get(ctx, accessToken, c.endpoints.UserInfoURL, &info); err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}

	return &info, nil
}

// Identity returns userinfo, filling the email from the Gmail profile when
// userinfo omits it.
func (c *Client) Identity(ctx context.Context, accessToken string) (*UserInfo, error) {
	info, err := c.UserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if info.Email == "" {
		profile, err := c.GetProfile(ctx, accessToken)
		if err != nil {
			return nil, err
		}

		info.Email = profile.EmailAddress
	}

	if info.Email == "" {
		return nil, ErrMissingEmail
	}

	return info, nil
}

func (c *Client) get(ctx context.Context, accessToken, reqURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &APIError{Endpoint: req.URL.Path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
