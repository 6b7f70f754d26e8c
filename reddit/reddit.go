// Package reddit fetches subreddit "new" listings from the OAuth API.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
)

const maxBodyBytes = 10 << 20

// Listing is one fetched page of a feed.
type Listing struct {
	Items     []*watcher.Item
	RateLimit watcher.RateLimit
}

// StatusError is a non-2xx answer from the listing endpoint.
type StatusError struct {
	Feed       string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d fetching r/%s", e.StatusCode, e.Feed)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Authorizer hands out an HTTP client carrying a valid access token.
type Authorizer interface {
	Client(ctx context.Context) (*http.Client, error)
}

// Client fetches feeds from the API.
type Client struct {
	auth     Authorizer
	logger   *slog.Logger
	recorder *Recorder
	baseURL  string
	timeout  time.Duration
}

// New creates a client for baseURL (for example https://oauth.reddit.com).
// recorder may be nil.
func New(auth Authorizer, baseURL string, timeout time.Duration, recorder *Recorder, logger *slog.Logger) *Client {
	return &Client{
		auth:     auth,
		logger:   logger,
		recorder: recorder,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
	}
}

// Fetch returns the newest items of feed along with the rate-limit headers of
// the response.
func (c *Client) Fetch(ctx context.Context, feed string) (*Listing, error) {
	if strings.TrimSpace(feed) == "" {
		return nil, fmt.Errorf("%w: feed name cannot be empty", watcher.ErrFeedFetch)
	}

	start := time.Now()
	listing, err := c.fetch(ctx, feed)
	metrics.FeedFetchDuration.WithLabelValues(feed).Observe(time.Since(start).Seconds())
	metrics.FeedFetchesTotal.WithLabelValues(feed, metrics.Status(err)).Inc()
	return listing, err
}

func (c *Client) fetch(ctx context.Context, feed string) (*Listing, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Refresh failures surface here and are not retried.
	client, err := c.auth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: r/%s: %w", watcher.ErrFeedFetch, feed, err)
	}

	feedURL := fmt.Sprintf("%s/r/%s/new?limit=100&sort=new", c.baseURL, url.PathEscape(feed))
	var listing *Listing

	err = retry.Do(
		func() error {
			c.logger.Debug("HTTP request starting", "method", "GET", "url", feedURL, "feed", feed)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("HTTP request failed", "feed", feed, "duration_ms", duration.Milliseconds(), "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			c.logger.Info("HTTP request completed",
				"feed", feed,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", len(body))

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return &StatusError{Feed: feed, StatusCode: resp.StatusCode, Body: string(body)}
			}

			items, err := parseListing(body, feed)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode listing: %w", err))
			}
			if c.recorder != nil {
				c.recorder.Record(feed, body)
			}

			listing = &Listing{Items: items, RateLimit: parseRateLimit(resp.Header)}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(200*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying fetch after error", "feed", feed, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.retryable()
			}
			return true
		}),
	)
	if err != nil {
		c.logger.Error("Error fetching posts", "feed", feed, "error", err)
		return nil, fmt.Errorf("%w: r/%s: %w", watcher.ErrFeedFetch, feed, err)
	}

	c.logger.Info("Fetched posts", "feed", feed, "items", len(listing.Items), "rate_limit_remaining", listing.RateLimit.Remaining)
	return listing, nil
}

// parseRateLimit reads the advisory quota headers. Values are decimals that
// get truncated; missing or malformed headers read as zero.
func parseRateLimit(h http.Header) watcher.RateLimit {
	return watcher.RateLimit{
		Used:         headerInt(h, "X-RateLimit-Used"),
		Remaining:    headerInt(h, "X-RateLimit-Remaining"),
		ResetSeconds: headerInt(h, "X-RateLimit-Reset"),
	}
}

func headerInt(h http.Header, name string) int {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return int(f)
}
