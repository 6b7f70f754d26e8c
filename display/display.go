// Package display renders cycle snapshots and the event log to a terminal.
package display

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"subreddit-watcher/pkg/watcher"
)

const (
	maxEvents     = 100
	visibleEvents = 30
	maxNameLength = 20
	maxTitleWidth = 50
	clearScreen   = "\033[H\033[2J"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s.,!?()'"-]`)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff7b72")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#484f58")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
)

// Console is a presenter that redraws the whole screen every cycle.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	events []string // Oldest first
	clear  bool
	now    func() time.Time
}

// NewConsole creates a console writing to out. When clear is set each frame
// starts by clearing the terminal.
func NewConsole(out io.Writer, clear bool) *Console {
	return &Console{
		out:   out,
		clear: clear,
		now:   time.Now,
	}
}

// Event appends e to the event log, dropping the oldest beyond 100 entries.
func (c *Console) Event(e watcher.Event) {
	line := fmt.Sprintf("(%s) %s", c.now().Format("15:04:05"), Sanitize(e.Message()))
	if e.Kind == watcher.EventFetchError {
		line = errorStyle.Render(line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, line)
	if len(c.events) > maxEvents {
		c.events = c.events[len(c.events)-maxEvents:]
	}
}

// Events returns the log, newest first.
func (c *Console) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[len(c.events)-1-i] = e
	}
	return out
}

// Cycle redraws the screen for s.
func (c *Console) Cycle(s *watcher.Snapshot) {
	frame := c.Render(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clear {
		fmt.Fprint(c.out, clearScreen)
	}
	fmt.Fprintln(c.out, frame)
}

// Render builds the frame for s without writing it.
func (c *Console) Render(s *watcher.Snapshot) string {
	left := lipgloss.JoinVertical(lipgloss.Left,
		panel("Stats", statsTable(s)),
		panel("Top Users", usersTable(s.TopContributors)),
		panel("Top Posts", postsTable(s.TopItems)),
	)

	events := c.Events()
	if len(events) > visibleEvents {
		events = events[:visibleEvents]
	}
	log := dimStyle.Render("No events yet")
	if len(events) > 0 {
		log = strings.Join(events, "\n")
	}
	right := panel("Event Log", log)

	header := titleStyle.Render(fmt.Sprintf("Reddit Watcher  ·  session since %s  ·  cycle %d",
		s.SessionStart.Local().Format("15:04:05"), s.Cycle))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

func panel(title, content string) string {
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(title), content))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
}

func statsTable(s *watcher.Snapshot) string {
	t := newTable("Metric", "Value")
	t.Row("Rate Limit Used", strconv.Itoa(s.RateLimit.Used))
	t.Row("Remaining", strconv.Itoa(s.RateLimit.Remaining))
	t.Row("Reset (s)", strconv.Itoa(s.RateLimit.ResetSeconds))
	t.Row("Cycle", strconv.Itoa(s.Cycle))
	t.Row("New Posts", strconv.Itoa(s.NewItems))
	t.Row("New Users", strconv.Itoa(s.NewContributors))
	if len(s.FailedFeeds) > 0 {
		t.Row("Failed", errorStyle.Render(strings.Join(s.FailedFeeds, ", ")))
	}
	return t.Render()
}

func usersTable(cs []*watcher.Contributor) string {
	t := newTable("Rank", "User", "Posts")
	for i, c := range cs {
		t.Row(fmt.Sprintf("#%d", i+1), watcher.Truncate(Sanitize(c.Name), maxNameLength), strconv.Itoa(c.Count))
	}
	return t.Render()
}

func postsTable(items []*watcher.Item) string {
	t := newTable("Rank", "Title", "Ups", "Δ", "Subreddit")
	for i, it := range items {
		t.Row(
			fmt.Sprintf("#%d", i+1),
			watcher.Truncate(Sanitize(it.Title), maxTitleWidth),
			strconv.Itoa(it.Metric),
			FormatDelta(it.Metric-it.InitialMetric),
			it.Feed,
		)
	}
	return t.Render()
}

// FormatDelta renders a signed change: "+3", "-2" or "0".
func FormatDelta(d int) string {
	if d > 0 {
		return "+" + strconv.Itoa(d)
	}
	return strconv.Itoa(d)
}

// Sanitize strips characters that could break terminal rendering. Square
// brackets become parentheses.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("[", "(", "]", ")").Replace(s)
	return unsafeChars.ReplaceAllString(s, "")
}
