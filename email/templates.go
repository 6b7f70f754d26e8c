package email

import (
	"html/template"
	"strings"
	"time"

	"subreddit-watcher/pkg/watcher"
)

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"time": func(t time.Time) string { return t.UTC().Format("Jan 2, 2006 at 3:04 PM") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }
.post { margin-bottom: 16px; padding-bottom: 16px; border-bottom: 1px solid #ff4500; }
.post:last-of-type { border-bottom: none; }
.feed { color: #7f8c8d; font-weight: 500; }
.author { color: #ff4500; font-weight: 600; }
.ups { color: #7f8c8d; font-size: 0.9em; }
.footer { margin-top: 30px; padding-top: 15px; font-size: 0.9em; color: #7f8c8d; border-top: 1px solid #ddd; }
a { color: #ff4500; text-decoration: none; }
@media (prefers-color-scheme: dark) {
body { background: #1a1a1a; color: #e0e0e0; }
.author, a { color: #ff8c42; }
.footer { color: #a0a0a0; border-top-color: #444; }
}
</style>
</head>
<body>
{{range .Items}}<div class="post" id="post-{{.ItemID}}">
<a class="title" href="https://www.reddit.com/r/{{.Feed}}/comments/{{.ItemID}}/">{{.Title}}</a>
<div class="meta"><span class="feed">r/{{.Feed}}</span> &bull; <span class="author">{{.Author}}</span> &bull; <span class="ups">{{.Metric}} upvotes</span></div>
</div>
{{end}}{{if .Dropped}}<p class="more">and {{.Dropped}} more</p>
{{end}}<div class="footer">
Sent {{time .Now}} UTC{{with .Snapshot}} &bull; cycle {{.Cycle}} &bull; {{.NewItems}} new posts and {{.NewContributors}} new users this session{{end}}
</div>
</body>
</html>
`))

type digestData struct {
	Now      time.Time
	Snapshot *watcher.Snapshot
	Items    []watcher.Event
	Dropped  int
}

func formatDigestBody(items []watcher.Event, dropped int, snap *watcher.Snapshot, now time.Time) string {
	var b strings.Builder
	if err := digestTemplate.Execute(&b, digestData{Now: now, Snapshot: snap, Items: items, Dropped: dropped}); err != nil {
		// Only reachable on writer failure, which strings.Builder never returns.
		return ""
	}
	return b.String()
}
