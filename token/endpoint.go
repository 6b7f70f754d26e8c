// Package token drives the provider's OAuth2 token endpoint and keeps the live
// access token fresh.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"subreddit-watcher/pkg/watcher"
)

// ExchangeError is a non-2xx answer from the token endpoint.
type ExchangeError struct {
	Body       string
	StatusCode int
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Endpoint talks to the provider's authorize and access_token URLs.
type Endpoint struct {
	cfg       *oauth2.Config
	client    *http.Client
	state     string
	userAgent string
	base      http.RoundTripper
}

// NewEndpoint configures the endpoint for authBaseURL (for example
// https://www.reddit.com). base may be nil to use http.DefaultTransport.
func NewEndpoint(settings watcher.AuthSettings, authBaseURL string, base http.RoundTripper) *Endpoint {
	authBaseURL = strings.TrimRight(authBaseURL, "/")
	if base == nil {
		base = http.DefaultTransport
	}
	return &Endpoint{
		cfg: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			RedirectURL:  settings.RedirectURI,
			Scopes:       []string{settings.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authBaseURL + "/api/v1/authorize",
				TokenURL: authBaseURL + "/api/v1/access_token",
				// Fixed style: auto-detection would retry a rejected exchange.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: &http.Client{
			Transport: &userAgentTransport{base: base, userAgent: settings.UserAgent},
			Timeout:   30 * time.Second,
		},
		state:     settings.State,
		userAgent: settings.UserAgent,
		base:      base,
	}
}

// AuthorizationURL is the page the operator opens to grant access.
func (e *Endpoint) AuthorizationURL() string {
	return e.cfg.AuthCodeURL(e.state, oauth2.SetAuthURLParam("duration", "permanent"))
}

// Exchange trades an authorization code for a token pair. It makes exactly one
// request.
func (e *Endpoint) Exchange(ctx context.Context, code string) (*watcher.TokenRecord, error) {
	tok, err := e.cfg.Exchange(e.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %w", watcher.ErrAuthentication, convertError(err))
	}
	return toRecord(tok, ""), nil
}

// Refresh obtains a new access token. The previous refresh token is kept when
// the provider does not rotate it.
func (e *Endpoint) Refresh(ctx context.Context, refreshToken string) (*watcher.TokenRecord, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token, re-authentication required", watcher.ErrRefresh)
	}
	src := e.cfg.TokenSource(e.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", watcher.ErrRefresh, convertError(err))
	}
	return toRecord(tok, refreshToken), nil
}

// Transport returns a round tripper that authorizes requests with access.
func (e *Endpoint) Transport(access string) http.RoundTripper {
	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}),
		Base:   &userAgentTransport{base: e.base, userAgent: e.userAgent},
	}
}

func (e *Endpoint) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.client)
}

func convertError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &ExchangeError{StatusCode: re.Response.StatusCode, Body: string(re.Body)}
	}
	return err
}

func toRecord(tok *oauth2.Token, previousRefresh string) *watcher.TokenRecord {
	rec := &watcher.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn(tok),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	return rec
}

// expiresIn prefers the wire value over the derived Expiry so that the saved
// record matches what the provider sent.
func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	if d := time.Until(tok.Expiry); d > 0 {
		return int64(d.Round(time.Second) / time.Second)
	}
	return 0
}

// userAgentTransport sets the User-Agent the provider requires on every call.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}
