package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultCallbackTimeout bounds the wait for the browser redirect.
const DefaultCallbackTimeout = 60 * time.Second

// DefaultCallbackPorts are tried in order for the loopback listener.
var DefaultCallbackPorts = PortRange(8080, 8089)

// PortRange returns the ports from first to last inclusive.
func PortRange(first, last int) []int {
	ports := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		ports = append(ports, p)
	}

	return ports
}

// CallbackKind is the outcome of waiting for the redirect.
type CallbackKind int

const (
	CallbackSuccess CallbackKind = iota
	CallbackDenied
	CallbackTimeout
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackSuccess:
		return "success"
	case CallbackDenied:
		return "denied"
	case CallbackTimeout:
		return "timeout"
	}

	return "unknown"
}

// CallbackResult carries the redirect parameters. Code and State are set for
// CallbackSuccess, Error for CallbackDenied.
type CallbackResult struct {
	Kind  CallbackKind
	Code  string
	State string
	Error string
}

type callbackOutcome struct {
	result CallbackResult
	err    error
}

// callbackServer is a one-shot loopback HTTP listener for the OAuth redirect.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	path     string
	port     int

	outcome chan callbackOutcome
	once    sync.Once
}

// listenLoopback binds 127.0.0.1 on the first free port.
func listenLoopback(ports []int) (net.Listener, int, error) {
	for _, port := range ports {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			slog.Debug("callback port unavailable", "port", port, "error", err)
			continue
		}

		return l, port, nil
	}

	return nil, 0, fmt.Errorf("%w: tried %v", ErrPortsExhausted, ports)
}

func startCallbackServer(ports []int, path string) (*callbackServer, error) {
	if path == "" {
		path = "/"
	}

	listener, port, err := listenLoopback(ports)
	if err != nil {
		return nil, err
	}

	s := &callbackServer{
		listener: listener,
		path:     path,
		port:     port,
		outcome:  make(chan callbackOutcome, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(callbackOutcome{err: fmt.Errorf("callback server error: %w", err)})
		}
	}()

	return s, nil
}

func (s *callbackServer) Port() int {
	return s.port
}

// deliver records the first outcome; later ones are dropped.
func (s *callbackServer) deliver(o callbackOutcome) bool {
	delivered := false

	s.once.Do(func() {
		s.outcome <- o
		delivered = true
	})

	return delivered
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	code, state, errMsg := query.Get("code"), query.Get("state"), query.Get("error")

	switch {
	case errMsg != "":
		if desc := query.Get("error_description"); desc != "" {
			errMsg = errMsg + ": " + desc
		}

		if !s.deliver(callbackOutcome{result: CallbackResult{Kind: CallbackDenied, Error: errMsg}}) {
			renderHandled(w)
			return
		}

		renderFailure(w, http.StatusOK, errMsg)
	case code != "" && state != "":
		if !s.deliver(callbackOutcome{result: CallbackResult{Kind: CallbackSuccess, Code: code, State: state}}) {
			renderHandled(w)
			return
		}

		renderSuccess(w)
	case state != "" || code != "":
		if !s.deliver(callbackOutcome{err: ErrMissingCode}) {
			renderHandled(w)
			return
		}

		renderFailure(w, http.StatusBadRequest, "The authorization response was incomplete.")
	default:
		http.Error(w, "waiting for authorization callback", http.StatusBadRequest)
	}
}

// Wait blocks until the first callback, the timeout, or ctx cancellation.
func (s *callbackServer) Wait(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-s.outcome:
		return o.result, o.err
	case <-timer.C:
		return CallbackResult{Kind: CallbackTimeout}, nil
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close stops the listener after in-flight responses are written.
func (s *callbackServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		slog.Debug("callback server shutdown", "error", err)
	}
}
