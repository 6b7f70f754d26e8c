// Package auth runs the interactive OAuth2 authorization-code flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"subreddit-watcher/pkg/watcher"
)

// AckPage is the body sent to the browser once the redirect has been captured.
const AckPage = "<html><body>You can close this window.</body></html>"

// Listener is a one-shot HTTP server bound to the redirect URI.
type Listener struct {
	ln     net.Listener
	srv    *http.Server
	path   string
	result chan url.Values
	once   sync.Once
	close  sync.Once
	err    error
}

// listen is replaced in tests.
var listen = net.Listen

// Listen binds the host and port of redirectURI immediately.
func Listen(redirectURI string) (*Listener, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect URI %q: %w", watcher.ErrConfiguration, redirectURI, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%w: redirect URI %q must use http", watcher.ErrConfiguration, redirectURI)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: bind callback listener on %s:%s: %w", watcher.ErrConfiguration, host, port, err)
	}

	l := &Listener{
		ln:     ln,
		path:   path,
		result: make(chan url.Values, 1),
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.handle),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return l, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Await serves until one request hits the redirect path and returns its query
// parameters. The listener is closed on every return path.
func (l *Listener) Await(ctx context.Context) (url.Values, error) {
	defer l.Close()

	served := make(chan error, 1)
	go func() {
		served <- l.srv.Serve(l.ln)
	}()

	select {
	case q := <-l.result:
		return q, nil
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			err = errors.New("listener closed")
		}
		return nil, fmt.Errorf("%w: callback listener: %w", watcher.ErrAuthentication, err)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for callback: %w", watcher.ErrAuthentication, ctx.Err())
	}
}

// Close releases the port. It is safe to call more than once.
func (l *Listener) Close() error {
	l.close.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			l.err = l.srv.Close()
		}
		// Serve may not have started; make sure the socket is released.
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && l.err == nil {
			l.err = err
		}
	})
	return l.err
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != l.path {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(AckPage)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(AckPage)); err == nil {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	l.once.Do(func() {
		l.result <- r.URL.Query()
	})
}
