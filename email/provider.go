// Package email sends periodic digests of newly detected items via pluggable
// providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
)

// maxItemsPerDigest caps the size of one e-mail. Items arriving after the cap
// is reached are not listed, only counted.
const maxItemsPerDigest = 50

// DefaultDigestInterval is used when NewDigest is given a non-positive interval.
const DefaultDigestInterval = 15 * time.Minute

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Digest is a presenter that batches new items and mails them on a timer.
type Digest struct {
	provider Provider
	logger   *slog.Logger
	to       string
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending []watcher.Event
	dropped int
	last    *watcher.Snapshot
}

// NewDigest creates a digest mailing to every interval.
func NewDigest(provider Provider, to string, interval time.Duration, logger *slog.Logger) *Digest {
	if interval <= 0 {
		interval = DefaultDigestInterval
	}
	return &Digest{
		provider: provider,
		logger:   logger,
		to:       to,
		interval: interval,
		now:      time.Now,
	}
}

// Event queues new-item events; everything else is ignored.
func (d *Digest) Event(e watcher.Event) {
	if e.Kind != watcher.EventNewItem {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) >= maxItemsPerDigest {
		d.dropped++
		return
	}
	d.pending = append(d.pending, e)
}

// Cycle remembers the latest snapshot for the digest footer.
func (d *Digest) Cycle(s *watcher.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = s
}

// Run sends a digest every interval until ctx is cancelled, then flushes
// whatever is still queued.
func (d *Digest) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if err := d.Flush(flushCtx); err != nil {
				d.logger.Warn("Final digest failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil {
				d.logger.Warn("Digest send failed", "error", err)
			}
		}
	}
}

// Flush sends the queued items, if any. On failure the items are kept for the
// next attempt.
func (d *Digest) Flush(ctx context.Context) error {
	d.mu.Lock()
	items := d.pending
	dropped := d.dropped
	snap := d.last
	d.pending = nil
	d.dropped = 0
	d.mu.Unlock()

	if len(items) == 0 {
		return nil
	}

	subject := fmt.Sprintf("%d new posts", len(items)+dropped)
	if len(items)+dropped == 1 {
		subject = "1 new post"
	}
	body := formatDigestBody(items, dropped, snap, d.now())

	d.logger.Info("Sending digest email", "to", d.to, "subject", subject, "item_count", len(items))
	err := d.provider.Send(ctx, d.to, subject, body)
	metrics.DigestsSentTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		d.mu.Lock()
		d.pending = append(items, d.pending...)
		d.dropped += dropped
		if over := len(d.pending) - maxItemsPerDigest; over > 0 {
			d.dropped += over
			d.pending = d.pending[:maxItemsPerDigest]
		}
		d.mu.Unlock()
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}
