package gmail

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/inovacc/inboxd/internal/config"
	"github.com/inovacc/inboxd/internal/crypto/tokencipher"
	"github.com/inovacc/inboxd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider stands in for Google's token, userinfo and Gmail endpoints.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	tokenCalls    atomic.Int32
	userInfoCalls atomic.Int32
	unreadCalls   atomic.Int32

	mu        sync.Mutex
	tokenForm []map[string]string

	// token decides the token endpoint response for one request.
	token func(form map[string]string) (int, any)

	userInfo func(auth string) (int, any)
	unread   func(auth string) (int, any)
	profile  func(auth string) (int, any)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{t: t}
	p.token = func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
			"token_type":    "Bearer",
			"expires_in":    3599,
		}
	}
	p.userInfo = func(string) (int, any) {
		return http.StatusOK, map[string]any{"email": "user@gmail.com", "name": "Test User", "picture": "https://lh3.googleusercontent.com/a/pic"}
	}
	p.unread = func(string) (int, any) {
		return http.StatusOK, map[string]any{"id": "INBOX", "name": "INBOX", "messagesUnread": 12}
	}
	p.profile = func(string) (int, any) {
		return http.StatusOK, map[string]any{"emailAddress": "user@gmail.com"}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())

		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		p.mu.Lock()
		p.tokenForm = append(p.tokenForm, form)
		p.mu.Unlock()

		status, body := p.token(form)
		writeJSON(w, status, body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.userInfoCalls.Add(1)
		status, body := p.userInfo(r.Header.Get("Authorization"))
		writeJSON(w, status, body)
	})
	mux.HandleFunc("/gmail/v1/users/me/labels/INBOX", func(w http.ResponseWriter, r *http.Request) {
		p.unreadCalls.Add(1)
		status, body := p.unread(r.Header.Get("Authorization"))
		writeJSON(w, status, body)
	})
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		status, body := p.profile(r.Header.Get("Authorization"))
		writeJSON(w, status, body)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (p *fakeProvider) endpoints() Endpoints {
	return Endpoints{
		AuthURL:      p.server.URL + "/auth",
		TokenURL:     p.server.URL + "/token",
		UserInfoURL:  p.server.URL + "/userinfo",
		GmailBaseURL: p.server.URL + "/gmail/v1",
	}
}

func (p *fakeProvider) forms() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]map[string]string(nil), p.tokenForm...)
}

func tokenError(status int, code string) (int, any) {
	return status, map[string]any{"error": code, "error_description": strings.ReplaceAll(code, "_", " ")}
}

func testOAuth() config.OAuth {
	return config.OAuth{
		ClientID:     "client-123.apps.googleusercontent.com",
		ClientSecret: "secret-456",
		RedirectURI:  "http://localhost:8080",
		Scopes:       config.DefaultScopes,
	}
}

func testCipher() *tokencipher.Cipher {
	return tokencipher.New(tokencipher.StaticKey(bytes.Repeat([]byte{0x5a}, 32)))
}

type memSaver struct {
	mu    sync.Mutex
	saved []*model.Account
	err   error
}

func (s *memSaver) SaveAccount(a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = append(s.saved, a.Clone())

	return s.err
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.saved)
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return port
}
