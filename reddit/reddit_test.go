package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"subreddit-watcher/pkg/watcher"
)

const sampleListing = `{
  "kind": "Listing",
  "data": {
    "after": "t3_c",
    "dist": 4,
    "children": [
      {"kind": "t3", "data": {"id": "a", "name": "t3_a", "author": "u1", "title": "Tom &amp; Jerry &lt;3", "ups": 12, "created_utc": 1700000000.5, "extra": true}},
      {"kind": "t3", "data": {"id": "b", "name": "t3_b", "author": "u1", "title": "Second", "ups": 3, "created_utc": 1700000100}},
      {"kind": "more"},
      {"kind": "t3", "data": {"id": "c", "name": "t3_c", "author": "u2", "title": "Third", "ups": 0, "created_utc": 1700000200}}
    ]
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticAuth struct {
	err error
}

func (a staticAuth) Client(context.Context) (*http.Client, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &http.Client{}, nil
}

func listingServer(t *testing.T, status int, body string, headers map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/r/alpha/new" {
			t.Errorf("path = %q, want /r/alpha/new", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("limit") != "100" || q.Get("sort") != "new" {
			t.Errorf("query = %v, want limit=100 sort=new", q)
		}
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch(t *testing.T) {
	srv, calls := listingServer(t, http.StatusOK, sampleListing, map[string]string{
		"X-RateLimit-Used":      "4",
		"X-RateLimit-Remaining": "596.0",
		"X-RateLimit-Reset":     "212.7",
	})
	c := New(staticAuth{}, srv.URL, 5*time.Second, nil, testLogger())

	listing, err := c.Fetch(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	if len(listing.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(listing.Items))
	}
	first := listing.Items[0]
	if first.ID != "a" || first.Author != "u1" || first.Metric != 12 || first.Feed != "alpha" {
		t.Errorf("Items[0] = %+v", first)
	}
	if first.Title != "Tom & Jerry <3" {
		t.Errorf("Items[0].Title = %q, want decoded entities", first.Title)
	}
	if want := time.Unix(1700000000, 5e8).UTC(); !first.Created.Equal(want) {
		t.Errorf("Items[0].Created = %v, want %v", first.Created, want)
	}
	if listing.Items[2].ID != "c" {
		t.Errorf("provider order not kept: %q", listing.Items[2].ID)
	}

	want := watcher.RateLimit{Used: 4, Remaining: 596, ResetSeconds: 212}
	if listing.RateLimit != want {
		t.Errorf("RateLimit = %+v, want %+v", listing.RateLimit, want)
	}
}

func TestFetchLenientEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no data", `{"kind":"Listing"}`},
		{"no children", `{"data":{"dist":0}}`},
		{"empty children", `{"data":{"children":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := listingServer(t, http.StatusOK, tt.body, nil)
			c := New(staticAuth{}, srv.URL, 5*time.Second, nil, testLogger())

			listing, err := c.Fetch(context.Background(), "alpha")
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if len(listing.Items) != 0 {
				t.Errorf("len(Items) = %d, want 0", len(listing.Items))
			}
			if listing.RateLimit != (watcher.RateLimit{}) {
				t.Errorf("RateLimit = %+v, want zero", listing.RateLimit)
			}
		})
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
	}{
		{"not found is not retried", http.StatusNotFound, `{"error":404}`, 1},
		{"forbidden is not retried", http.StatusForbidden, `{"error":403}`, 1},
		{"server error is retried", http.StatusServiceUnavailable, `oops`, 3},
		{"rate limited is retried", http.StatusTooManyRequests, `slow down`, 3},
		{"bad json is not retried", http.StatusOK, `{"data":`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := listingServer(t, tt.status, tt.body, nil)
			c := New(staticAuth{}, srv.URL, 10*time.Second, nil, testLogger())

			_, err := c.Fetch(context.Background(), "alpha")
			if !errors.Is(err, watcher.ErrFeedFetch) {
				t.Errorf("Fetch() error = %v, want ErrFeedFetch", err)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetchStatusError(t *testing.T) {
	srv, _ := listingServer(t, http.StatusNotFound, `{"error":404}`, nil)
	c := New(staticAuth{}, srv.URL, 5*time.Second, nil, testLogger())

	_, err := c.Fetch(context.Background(), "alpha")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Fetch() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Feed != "alpha" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestFetchWithoutRequest(t *testing.T) {
	srv, calls := listingServer(t, http.StatusOK, sampleListing, nil)

	c := New(staticAuth{}, srv.URL, 5*time.Second, nil, testLogger())
	if _, err := c.Fetch(context.Background(), "  "); !errors.Is(err, watcher.ErrFeedFetch) {
		t.Errorf("Fetch(blank) error = %v, want ErrFeedFetch", err)
	}

	c = New(staticAuth{err: watcher.ErrRefresh}, srv.URL, 5*time.Second, nil, testLogger())
	_, err := c.Fetch(context.Background(), "alpha")
	if !errors.Is(err, watcher.ErrFeedFetch) || !errors.Is(err, watcher.ErrRefresh) {
		t.Errorf("Fetch() error = %v, want ErrFeedFetch wrapping ErrRefresh", err)
	}

	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestHeaderInt(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"42", 42},
		{"42.9", 42},
		{" 7.0 ", 7},
		{"abc", 0},
		{"-3.5", -3},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.value != "" {
			h.Set("X-RateLimit-Used", tt.value)
		}
		if got := headerInt(h, "X-RateLimit-Used"); got != tt.want {
			t.Errorf("headerInt(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestRecordAndReplay(t *testing.T) {
	srv, _ := listingServer(t, http.StatusOK, sampleListing, nil)
	dir := t.TempDir()
	session := watcher.NewSession(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))
	rec := NewRecorder(dir, session, testLogger())
	c := New(staticAuth{}, srv.URL, 5*time.Second, rec, testLogger())

	for range 2 {
		if _, err := c.Fetch(context.Background(), "alpha"); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	wantDir := filepath.Join(dir, "20240305_140709")
	if rec.Dir() != wantDir {
		t.Errorf("Dir() = %q, want %q", rec.Dir(), wantDir)
	}
	for i, name := range []string{"0000_alpha.json", "0001_alpha.json"} {
		data, err := os.ReadFile(filepath.Join(wantDir, name))
		if err != nil {
			t.Fatalf("recording %s: %v", name, err)
		}
		var got Recording
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("recording %s: %v", name, err)
		}
		if got.Metadata.SequenceNumber != int64(i) || got.Metadata.Subreddit != "alpha" {
			t.Errorf("recording %s metadata = %+v", name, got.Metadata)
		}
	}

	replay, err := LoadReplay(wantDir, testLogger())
	if err != nil {
		t.Fatalf("LoadReplay() error = %v", err)
	}
	if want := time.Unix(1700000000, 5e8).UTC(); !replay.Earliest().Equal(want) {
		t.Errorf("Earliest() = %v, want %v", replay.Earliest(), want)
	}
	for i, want := range []int{3, 3, 0} {
		listing, err := replay.Fetch(context.Background(), "alpha")
		if err != nil {
			t.Fatalf("replay Fetch() #%d error = %v", i, err)
		}
		if len(listing.Items) != want {
			t.Errorf("replay Fetch() #%d items = %d, want %d", i, len(listing.Items), want)
		}
	}
}

func TestLoadReplayEmptyDir(t *testing.T) {
	if _, err := LoadReplay(t.TempDir(), testLogger()); !errors.Is(err, watcher.ErrConfiguration) {
		t.Errorf("LoadReplay() error = %v, want ErrConfiguration", err)
	}
}

func TestLoadReplayOnlyMalformed(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"0000_alpha.json": "not json",
		"0001_alpha.json": `{"metadata": {"subreddit": ""}, "response": {}}`,
		"0002_alpha.json": `{"metadata": {"subreddit": "alpha", "sequenceNumber": 2}, "response": "oops"}`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := LoadReplay(dir, testLogger()); !errors.Is(err, watcher.ErrConfiguration) {
		t.Errorf("LoadReplay() error = %v, want ErrConfiguration", err)
	}
}

func TestRecordEscapesFeedName(t *testing.T) {
	session := watcher.NewSession(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))
	rec := NewRecorder(t.TempDir(), session, testLogger())

	rec.Record("a/../b", []byte(sampleListing))

	entries, err := os.ReadDir(rec.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Fatalf("entries = %v, want one recording file", entries)
	}
	if want := "0000_a%2F..%2Fb.json"; entries[0].Name() != want {
		t.Errorf("file name = %q, want %q", entries[0].Name(), want)
	}

	data, err := os.ReadFile(filepath.Join(rec.Dir(), entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var got Recording
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Subreddit != "a/../b" {
		t.Errorf("Subreddit = %q, want the unescaped feed name", got.Metadata.Subreddit)
	}
}
