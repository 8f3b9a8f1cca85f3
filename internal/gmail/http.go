package gmail

import (
	"net"
	"net/http"
	"time"

	"github.com/inovacc/inboxd/internal/application"
)

const (
	httpTimeout = 30 * time.Second
	dialTimeout = 10 * time.Second
)

// userAgent is the User-Agent sent with every provider request.
var userAgent = application.AppName + "/" + application.Version

type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}

	return t.base.RoundTrip(req)
}

// NewHTTPClient returns the client shared by all provider calls.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext

	return &http.Client{
		Timeout:   httpTimeout,
		Transport: &uaTransport{base: transport},
	}
}
