package watcher

import (
	"fmt"
	"time"
)

// EventKind classifies a notification raised while merging a cycle.
type EventKind string

// Event kinds.
const (
	EventNewItem           EventKind = "new_item"
	EventNewContributor    EventKind = "new_contributor"
	EventContributorActive EventKind = "contributor_active"
	EventMetricChanged     EventKind = "metric_changed"
	EventFetchError        EventKind = "fetch_error"
)

// Event is a fire-and-forget notification for presenters.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	Feed   string    `json:"feed"`
	ItemID string    `json:"item_id,omitempty"`
	Author string    `json:"author,omitempty"`
	Title  string    `json:"title,omitempty"`
	Err    string    `json:"error,omitempty"`
	Metric int       `json:"metric,omitempty"`
	Delta  int       `json:"delta,omitempty"` // Signed metric change
	Count  int       `json:"count,omitempty"` // Contributor post count
}

const maxTitleLength = 50

// Message renders the event as a single log line.
func (e Event) Message() string {
	switch e.Kind {
	case EventNewItem:
		return fmt.Sprintf("New post by %s in r/%s: '%s' (%d upvotes)", e.Author, e.Feed, Truncate(e.Title, maxTitleLength), e.Metric)
	case EventNewContributor:
		return fmt.Sprintf("New user alert! %s makes their debut in r/%s!", e.Author, e.Feed)
	case EventContributorActive:
		return fmt.Sprintf("%s now has %d posts in r/%s", e.Author, e.Count, e.Feed)
	case EventMetricChanged:
		direction := "gained"
		delta := e.Delta
		if delta < 0 {
			direction = "lost"
			delta = -delta
		}
		return fmt.Sprintf("'%s' %s %d votes (now at %d)", Truncate(e.Title, maxTitleLength), direction, delta, e.Metric)
	case EventFetchError:
		return fmt.Sprintf("Error processing subreddit '%s': %s", e.Feed, e.Err)
	default:
		return string(e.Kind)
	}
}

// Truncate shortens s to at most n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
