package poll

import (
	"sort"
	"sync"
	"time"

	"subreddit-watcher/pkg/watcher"
)

// state is the session's item and contributor tables. All access goes through
// the mutex so that concurrent feeds can merge without double counting.
type state struct {
	mu           sync.Mutex
	items        map[string]*watcher.Item
	contributors map[string]*watcher.Contributor
}

func newState() *state {
	return &state{
		items:        make(map[string]*watcher.Item),
		contributors: make(map[string]*watcher.Contributor),
	}
}

// mergeResult is what one feed's listing contributed to a cycle.
type mergeResult struct {
	events          []watcher.Event
	newItems        int
	newContributors int
}

// merge folds a listing into the tables. Items created before start are
// ignored. Provider order is preserved for event emission.
func (s *state) merge(feed string, items []*watcher.Item, start, now time.Time) mergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res mergeResult
	for _, in := range items {
		if in == nil || in.ID == "" || in.Created.Before(start) {
			continue
		}

		existing, seen := s.items[in.ID]
		if seen {
			if existing.Metric != in.Metric {
				delta := in.Metric - existing.Metric
				existing.Metric = in.Metric
				res.events = append(res.events, watcher.Event{
					Time:   now,
					Kind:   watcher.EventMetricChanged,
					Feed:   existing.Feed,
					ItemID: existing.ID,
					Author: existing.Author,
					Title:  existing.Title,
					Metric: existing.Metric,
					Delta:  delta,
				})
			}
			continue
		}

		item := *in
		item.Feed = feed
		item.InitialMetric = in.Metric
		s.items[item.ID] = &item
		res.newItems++
		res.events = append(res.events, watcher.Event{
			Time:   now,
			Kind:   watcher.EventNewItem,
			Feed:   feed,
			ItemID: item.ID,
			Author: item.Author,
			Title:  item.Title,
			Metric: item.Metric,
		})

		c, known := s.contributors[item.Author]
		if !known {
			s.contributors[item.Author] = &watcher.Contributor{Name: item.Author, Feed: feed, Count: 1}
			res.newContributors++
			res.events = append(res.events, watcher.Event{
				Time:   now,
				Kind:   watcher.EventNewContributor,
				Feed:   feed,
				Author: item.Author,
				Count:  1,
			})
			continue
		}
		c.Count++
		res.events = append(res.events, watcher.Event{
			Time:   now,
			Kind:   watcher.EventContributorActive,
			Feed:   feed,
			Author: c.Name,
			Count:  c.Count,
		})
	}
	return res
}

// item returns a copy of the tracked item with id.
func (s *state) item(id string) (watcher.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return watcher.Item{}, false
	}
	return *it, true
}

// contributor returns a copy of the tracked contributor name.
func (s *state) contributor(name string) (watcher.Contributor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributors[name]
	if !ok {
		return watcher.Contributor{}, false
	}
	return *c, true
}

func (s *state) sizes() (items, contributors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), len(s.contributors)
}

// top returns copies of the n most active contributors and the n highest
// scoring items. Ties are broken by name and id so output is stable.
func (s *state) top(n int) ([]*watcher.Contributor, []*watcher.Item) {
	s.mu.Lock()
	contributors := make([]*watcher.Contributor, 0, len(s.contributors))
	for _, c := range s.contributors {
		cp := *c
		contributors = append(contributors, &cp)
	}
	items := make([]*watcher.Item, 0, len(s.items))
	for _, it := range s.items {
		cp := *it
		items = append(items, &cp)
	}
	s.mu.Unlock()

	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].Count != contributors[j].Count {
			return contributors[i].Count > contributors[j].Count
		}
		return contributors[i].Name < contributors[j].Name
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].Metric != items[j].Metric {
			return items[i].Metric > items[j].Metric
		}
		return items[i].ID < items[j].ID
	})

	if n > 0 {
		if len(contributors) > n {
			contributors = contributors[:n]
		}
		if len(items) > n {
			items = items[:n]
		}
	}
	return contributors, items
}
