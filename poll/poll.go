// Package poll runs the polling loop and detects new items and contributors.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
	"subreddit-watcher/reddit"
)

// DefaultInterval is the pause between cycles.
const DefaultInterval = time.Second

// DefaultTopN is the length of the leaderboards in each snapshot.
const DefaultTopN = 10

// Fetcher retrieves one feed's newest items.
type Fetcher interface {
	Fetch(ctx context.Context, feed string) (*reddit.Listing, error)
}

// Presenter receives notifications. Implementations must not block for long:
// Event is called from the polling goroutines.
type Presenter interface {
	Event(e watcher.Event)
	Cycle(s *watcher.Snapshot)
}

// Presenters fans out to several presenters in order.
type Presenters []Presenter

// Event forwards e to every presenter.
func (ps Presenters) Event(e watcher.Event) {
	for _, p := range ps {
		p.Event(e)
	}
}

// Cycle forwards s to every presenter.
func (ps Presenters) Cycle(s *watcher.Snapshot) {
	for _, p := range ps {
		p.Cycle(s)
	}
}

// Options tune a Monitor.
type Options struct {
	Feeds          []string
	Interval       time.Duration // Zero means DefaultInterval
	TopN           int           // Zero means DefaultTopN
	MaxConcurrency int           // Zero means one goroutine per feed
}

// Monitor polls a fixed set of feeds and merges them into session state.
type Monitor struct {
	fetcher   Fetcher
	presenter Presenter
	session   *watcher.Session
	logger    *slog.Logger
	state     *state
	now       func() time.Time
	opts      Options

	running atomic.Bool

	mu              sync.Mutex
	cycle           int
	newItems        int
	newContributors int
	rateLimit       watcher.RateLimit
}

// New creates a new poll monitor.
func New(fetcher Fetcher, presenter Presenter, session *watcher.Session, opts Options, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if presenter == nil {
		presenter = Presenters(nil)
	}
	return &Monitor{
		fetcher:   fetcher,
		presenter: presenter,
		session:   session,
		logger:    logger,
		state:     newState(),
		now:       time.Now,
		opts:      opts,
	}
}

// Run polls until ctx is cancelled. It returns an error if the monitor is
// already running.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor is already running")
	}
	defer m.running.Store(false)

	m.logger.Info("Polling started",
		"feeds", m.opts.Feeds,
		"interval", m.opts.Interval.String(),
		"session_start", m.session.Start().Format(time.RFC3339))

	for {
		m.CheckAll(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info("Polling stopped", "reason", ctx.Err())
			return nil
		case <-time.After(m.opts.Interval):
		}
	}
}

// CheckAll runs one cycle: every feed is fetched concurrently, merged, and the
// resulting snapshot is handed to the presenter. Feed failures are reported as
// events and never abort the cycle.
func (m *Monitor) CheckAll(ctx context.Context) *watcher.Snapshot {
	started := m.now()

	var (
		mu          sync.Mutex
		cycleItems  int
		cycleContr  int
		failedFeeds []string
	)

	var g errgroup.Group
	if m.opts.MaxConcurrency > 0 {
		g.SetLimit(m.opts.MaxConcurrency)
	}
	for _, feed := range m.opts.Feeds {
		g.Go(func() error {
			res, err := m.checkFeed(ctx, feed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedFeeds = append(failedFeeds, feed)
				return nil
			}
			cycleItems += res.newItems
			cycleContr += res.newContributors
			return nil
		})
	}
	_ = g.Wait() // Goroutines never return errors; failures are per feed.

	m.mu.Lock()
	m.cycle++
	m.newItems += cycleItems
	m.newContributors += cycleContr
	snap := &watcher.Snapshot{
		SessionStart:         m.session.Start(),
		CompletedAt:          m.now(),
		FailedFeeds:          sortedCopy(failedFeeds, m.opts.Feeds),
		RateLimit:            m.rateLimit,
		Cycle:                m.cycle,
		NewItems:             m.newItems,
		NewContributors:      m.newContributors,
		CycleNewItems:        cycleItems,
		CycleNewContributors: cycleContr,
	}
	m.mu.Unlock()

	snap.TopContributors, snap.TopItems = m.state.top(m.opts.TopN)
	snap.TrackedItems, snap.TrackedContributors = m.state.sizes()

	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(snap.CompletedAt.Sub(started).Seconds())
	metrics.TrackedItems.Set(float64(snap.TrackedItems))

	m.logger.Info("Cycle completed",
		"cycle", snap.Cycle,
		"new_items", cycleItems,
		"new_contributors", cycleContr,
		"failed_feeds", len(snap.FailedFeeds),
		"tracked_items", snap.TrackedItems,
		"rate_limit_remaining", snap.RateLimit.Remaining)

	m.presenter.Cycle(snap)
	return snap
}

func (m *Monitor) checkFeed(ctx context.Context, feed string) (mergeResult, error) {
	listing, err := m.fetcher.Fetch(ctx, feed)
	if err != nil {
		m.logger.Warn("Feed check failed", "feed", feed, "error", err)
		m.presenter.Event(watcher.Event{
			Time: m.now(),
			Kind: watcher.EventFetchError,
			Feed: feed,
			Err:  err.Error(),
		})
		return mergeResult{}, err
	}

	// Last completed fetch wins.
	m.mu.Lock()
	m.rateLimit = listing.RateLimit
	m.mu.Unlock()
	metrics.RateLimitRemaining.Set(float64(listing.RateLimit.Remaining))

	res := m.state.merge(feed, listing.Items, m.session.Start(), m.now())
	for _, e := range res.events {
		m.presenter.Event(e)
	}

	if res.newItems > 0 {
		metrics.NewItemsTotal.WithLabelValues(feed).Add(float64(res.newItems))
	}
	if res.newContributors > 0 {
		metrics.NewContributorsTotal.WithLabelValues(feed).Add(float64(res.newContributors))
	}
	m.logger.Debug("Feed merged", "feed", feed, "items", len(listing.Items), "new_items", res.newItems, "new_contributors", res.newContributors)
	return res, nil
}

// sortedCopy orders failed feeds by their position in the configured list.
func sortedCopy(failed, order []string) []string {
	if len(failed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(failed))
	for _, f := range failed {
		set[f] = true
	}
	out := make([]string, 0, len(failed))
	for _, f := range order {
		if set[f] {
			out = append(out, f)
			delete(set, f)
		}
	}
	return out
}
