package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
)

const refreshTimeout = 30 * time.Second

// Refresher performs the refresh grant and builds authorized transports.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*watcher.TokenRecord, error)
	Transport(access string) http.RoundTripper
}

// Saver persists refreshed tokens.
type Saver interface {
	Save(ctx context.Context, rec *watcher.TokenRecord) error
}

// Manager owns the live token pair. It is safe for concurrent use.
type Manager struct {
	endpoint Refresher
	store    Saver
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	rec    watcher.TokenRecord
	expiry time.Time

	flight singleflight.Group
}

// NewManager creates a manager. store may be nil to skip persistence.
func NewManager(endpoint Refresher, store Saver, logger *slog.Logger) *Manager {
	return &Manager{
		endpoint: endpoint,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Initialize installs rec as the live token, expiring ExpiresIn seconds from now.
func (m *Manager) Initialize(rec *watcher.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = *rec
	m.expiry = rec.ExpiresAt(m.now())
}

// Token returns a copy of the live record.
func (m *Manager) Token() watcher.TokenRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec
}

// Expiry returns when the live access token stops being used.
func (m *Manager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry
}

// Client returns an HTTP client carrying the current access token, refreshing
// first when the token is missing or expired. Concurrent callers share a single
// refresh.
func (m *Manager) Client(ctx context.Context) (*http.Client, error) {
	access, ok := m.current()
	if !ok {
		v, err, _ := m.flight.Do("refresh", func() (any, error) {
			// Another caller may have refreshed while we waited.
			if access, ok := m.current(); ok {
				return access, nil
			}
			rec, err := m.refresh(ctx)
			if err != nil {
				return "", err
			}
			return rec.AccessToken, nil
		})
		if err != nil {
			return nil, err
		}
		access = v.(string)
	}
	return &http.Client{Transport: m.endpoint.Transport(access)}, nil
}

// Refresh forces a refresh grant regardless of the current expiry.
func (m *Manager) Refresh(ctx context.Context) (*watcher.TokenRecord, error) {
	v, err, _ := m.flight.Do("force", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*watcher.TokenRecord), nil
}

func (m *Manager) current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec.AccessToken == "" || !m.now().Before(m.expiry) {
		return "", false
	}
	return m.rec.AccessToken, true
}

func (m *Manager) refresh(ctx context.Context) (*watcher.TokenRecord, error) {
	m.mu.RLock()
	refreshToken := m.rec.RefreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: no refresh token, re-authentication required", watcher.ErrRefresh)
	}

	// The flight is shared, so one caller's cancellation must not fail the rest.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	m.logger.Info("Refreshing access token")
	rec, err := m.endpoint.Refresh(ctx, refreshToken)
	metrics.TokenRefreshesTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		m.logger.Error("Token refresh failed", "error", err)
		return nil, err
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = refreshToken
	}

	m.mu.Lock()
	m.rec = *rec
	m.expiry = rec.ExpiresAt(m.now())
	expiry := m.expiry
	m.mu.Unlock()

	m.logger.Info("Access token refreshed", "expires_at", expiry.Format(time.RFC3339))

	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			m.logger.Warn("Failed to persist refreshed token", "error", err)
		}
	}

	out := *rec
	return &out, nil
}
