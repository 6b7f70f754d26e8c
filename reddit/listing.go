package reddit

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"subreddit-watcher/pkg/watcher"
)

// envelope mirrors the subset of the listing JSON the watcher reads. Unknown
// fields are ignored.
type envelope struct {
	Data struct {
		Children []struct {
			Data *post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Author     string  `json:"author"`
	Title      string  `json:"title"`
	Ups        int     `json:"ups"`
	CreatedUTC float64 `json:"created_utc"`
}

func parseListing(body []byte, feed string) ([]*watcher.Item, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	items := make([]*watcher.Item, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		p := child.Data
		if p == nil || p.ID == "" {
			continue
		}
		items = append(items, &watcher.Item{
			ID:      p.ID,
			Title:   decodeEntities(p.Title),
			Author:  p.Author,
			Feed:    feed,
			Metric:  p.Ups,
			Created: unixSeconds(p.CreatedUTC),
		})
	}
	return items, nil
}

func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// decodeEntities turns "&amp;" and friends in API titles back into text.
func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
