package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"

	"subreddit-watcher/pkg/watcher"
)

// Exchanger builds the authorization URL and trades codes for tokens.
type Exchanger interface {
	AuthorizationURL() string
	Exchange(ctx context.Context, code string) (*watcher.TokenRecord, error)
}

// Flow performs one interactive authorization.
type Flow struct {
	settings watcher.AuthSettings
	exchange Exchanger
	browser  Browser
	console  io.Writer
	logger   *slog.Logger
}

// NewFlow creates a flow. Operator instructions are written to console.
func NewFlow(settings watcher.AuthSettings, exchange Exchanger, b Browser, console io.Writer, logger *slog.Logger) *Flow {
	if b == nil {
		b = SystemBrowser{}
	}
	return &Flow{
		settings: settings,
		exchange: exchange,
		browser:  b,
		console:  console,
		logger:   logger,
	}
}

// Authenticate walks the operator through the browser consent and returns the
// issued token. On failure the authorization URL is printed again so the flow
// can be finished by hand.
func (f *Flow) Authenticate(ctx context.Context) (*watcher.TokenRecord, error) {
	authURL := f.exchange.AuthorizationURL()

	rec, err := f.authenticate(ctx, authURL)
	if err != nil {
		f.logger.Error("Authentication failed", "error", err)
		fmt.Fprintf(f.console, "Authentication failed: %v\n", err)
		fmt.Fprintf(f.console, "Open this URL to authorize manually:\n%s\n", authURL)
		return nil, err
	}
	return rec, nil
}

func (f *Flow) authenticate(ctx context.Context, authURL string) (*watcher.TokenRecord, error) {
	// Bind before opening the browser so the redirect cannot race the listener.
	l, err := Listen(f.settings.RedirectURI)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	fmt.Fprintf(f.console, "Authorize this application by visiting:\n%s\n", authURL)
	if err := f.browser.Open(authURL); err != nil {
		f.logger.Warn("Failed to open browser", "error", err)
	}

	fmt.Fprintf(f.console, "Waiting for authorization callback on %s ...\n", f.settings.RedirectURI)
	q, err := l.Await(ctx)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(f.settings.State)) != 1 {
		return nil, fmt.Errorf("%w: state mismatch in callback", watcher.ErrAuthentication)
	}
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned error %q", watcher.ErrAuthentication, e)
	}
	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback carried no code", watcher.ErrAuthentication)
	}

	rec, err := f.exchange.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Authorization complete", "scope", rec.Scope)
	fmt.Fprintln(f.console, "Authorization complete.")
	return rec, nil
}
