package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"subreddit-watcher/pkg/watcher"
)

// Replay serves previously recorded responses instead of calling the API.
// Each feed's recordings are returned in sequence order; once exhausted the
// feed returns an empty listing.
type Replay struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	earliest time.Time
	logger   *slog.Logger
}

// LoadReplay reads every recording in dir. Malformed files are skipped.
func LoadReplay(dir string, logger *slog.Logger) (*Replay, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: list recordings: %w", watcher.ErrConfiguration, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no recordings found in %s", watcher.ErrConfiguration, dir)
	}

	r := &Replay{queues: make(map[string][][]byte), logger: logger}
	var recs []Recording
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			logger.Warn("Skipping unreadable recording", "file", f, "error", err)
			continue
		}
		var rec Recording
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn("Skipping malformed recording", "file", f, "error", err)
			continue
		}
		if rec.Metadata.Subreddit == "" || len(rec.Response) == 0 {
			logger.Warn("Skipping recording without feed or response", "file", f)
			continue
		}
		items, err := parseListing(rec.Response, rec.Metadata.Subreddit)
		if err != nil {
			logger.Warn("Skipping recording with undecodable response", "file", f, "error", err)
			continue
		}
		for _, it := range items {
			if r.earliest.IsZero() || it.Created.Before(r.earliest) {
				r.earliest = it.Created
			}
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no usable recordings in %s", watcher.ErrConfiguration, dir)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Metadata.SequenceNumber < recs[j].Metadata.SequenceNumber
	})
	for _, rec := range recs {
		r.queues[rec.Metadata.Subreddit] = append(r.queues[rec.Metadata.Subreddit], rec.Response)
	}
	logger.Info("Loaded recorded responses", "dir", dir, "feeds", len(r.queues))
	return r, nil
}

// Earliest is the creation time of the oldest recorded item. A replay session
// must start no later than this for recorded items to count.
func (r *Replay) Earliest() time.Time {
	return r.earliest
}

// Fetch returns the next recorded listing for feed.
func (r *Replay) Fetch(ctx context.Context, feed string) (*Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: r/%s: %w", watcher.ErrFeedFetch, feed, err)
	}

	r.mu.Lock()
	q := r.queues[feed]
	var body []byte
	if len(q) > 0 {
		body = q[0]
		r.queues[feed] = q[1:]
	}
	r.mu.Unlock()

	if body == nil {
		return &Listing{}, nil
	}
	items, err := parseListing(body, feed)
	if err != nil {
		return nil, fmt.Errorf("%w: r/%s: decode recording: %w", watcher.ErrFeedFetch, feed, err)
	}
	return &Listing{Items: items}, nil
}
