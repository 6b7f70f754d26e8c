package config

import (
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"subreddit-watcher/pkg/watcher"
)

func setRequired(t *testing.T) {
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
	t.Setenv("REDDIT_USER_AGENT", "test-agent/1.0")
	t.Setenv("SUBREDDITS", "golang, rust,,golang ,Go")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := []string{"golang", "rust", "Go"}; !reflect.DeepEqual(cfg.Poll.Feeds, want) {
		t.Errorf("Feeds = %v, want %v", cfg.Poll.Feeds, want)
	}
	if cfg.Reddit.Auth.RedirectURI != "http://localhost:32939/" {
		t.Errorf("RedirectURI = %q", cfg.Reddit.Auth.RedirectURI)
	}
	if cfg.Reddit.Auth.Scope != "identity,read" {
		t.Errorf("Scope = %q", cfg.Reddit.Auth.Scope)
	}
	if cfg.Reddit.Auth.State == "" {
		t.Error("State should default to a random value")
	}
	if cfg.Poll.Interval != time.Second || cfg.Poll.TopN != 10 || cfg.Poll.FetchTimeout != 30*time.Second {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Token.File != "token.json" || cfg.NATS.Subject != "subreddit-watcher" || cfg.Digest.Interval != 15*time.Minute {
		t.Errorf("defaults = %+v %+v %+v", cfg.Token, cfg.NATS, cfg.Digest)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("MAX_CONCURRENCY", "4")
	t.Setenv("TOP_N", " ")
	t.Setenv("REDDIT_STATE", "fixed")
	t.Setenv("CLEAR_SCREEN", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poll.Interval != 5*time.Second || cfg.Poll.MaxConcurrency != 4 {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Poll.TopN != 10 {
		t.Errorf("TopN = %d, want default for a blank value", cfg.Poll.TopN)
	}
	if cfg.Reddit.Auth.State != "fixed" {
		t.Errorf("State = %q, want %q", cfg.Reddit.Auth.State, "fixed")
	}
	if cfg.Poll.ClearScreen {
		t.Error("ClearScreen = true, want false")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"no client id", "REDDIT_CLIENT_ID"},
		{"no secret", "REDDIT_CLIENT_SECRET"},
		{"no user agent", "REDDIT_USER_AGENT"},
		{"no feeds", "SUBREDDITS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")
			os.Unsetenv(tt.unset)

			if _, err := Load(); !errors.Is(err, watcher.ErrConfiguration) {
				t.Errorf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestReplayNeedsNoCredentials(t *testing.T) {
	t.Setenv("SUBREDDITS", "golang")
	t.Setenv("REPLAY_DIR", t.TempDir())
	for _, k := range []string{"REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET", "REDDIT_USER_AGENT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if _, err := Load(); err != nil {
		t.Errorf("Load() error = %v, want nil in replay mode", err)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		extra map[string]string
	}{
		{"unparseable interval", "POLL_INTERVAL", "soon", nil},
		{"zero interval", "POLL_INTERVAL", "0s", nil},
		{"unparseable timeout", "FETCH_TIMEOUT", "30", nil},
		{"negative timeout", "FETCH_TIMEOUT", "-1s", nil},
		{"unparseable concurrency", "MAX_CONCURRENCY", "many", nil},
		{"negative concurrency", "MAX_CONCURRENCY", "-1", nil},
		{"unparseable top", "TOP_N", "ten", nil},
		{"unparseable clear screen", "CLEAR_SCREEN", "sometimes", nil},
		{"unparseable digest interval", "DIGEST_INTERVAL", "hourly", map[string]string{"DIGEST_TO": "ops@example.com"}},
		{"zero digest interval", "DIGEST_INTERVAL", "0s", map[string]string{"DIGEST_TO": "ops@example.com"}},
		{"negative digest interval", "DIGEST_INTERVAL", "-5m", map[string]string{"DIGEST_TO": "ops@example.com"}},
		{"zero digest interval in replay", "DIGEST_INTERVAL", "0s", map[string]string{"DIGEST_TO": "ops@example.com", "REPLAY_DIR": "recordings"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.extra {
				t.Setenv(k, v)
			}
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			if !errors.Is(err, watcher.ErrConfiguration) {
				t.Fatalf("Load() error = %v, want ErrConfiguration", err)
			}
			if cfg != nil {
				t.Errorf("Load() config = %+v, want nil", cfg)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Load() error = %q, want it to name %s", err, tt.key)
			}
		})
	}
}

func TestDigestIntervalIgnoredWithoutRecipient(t *testing.T) {
	setRequired(t)
	t.Setenv("DIGEST_INTERVAL", "0s")

	if _, err := Load(); err != nil {
		t.Errorf("Load() error = %v, want nil when no digest is configured", err)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("WATCHER_TEST_BOOL", "true")
	t.Setenv("WATCHER_TEST_DUR", "bogus")
	t.Setenv("WATCHER_TEST_INT", " 7 ")

	if got, err := GetEnv("WATCHER_TEST_BOOL", false); err != nil || !got.(bool) {
		t.Errorf("GetEnv(bool) = %v, %v, want true, nil", got, err)
	}
	if got, err := GetEnv("WATCHER_TEST_INT", 0); err != nil || got.(int) != 7 {
		t.Errorf("GetEnv(int) = %v, %v, want 7, nil", got, err)
	}
	if got, err := GetEnv("WATCHER_TEST_DUR", time.Minute); err == nil || got.(time.Duration) != time.Minute {
		t.Errorf("GetEnv(duration) = %v, %v, want fallback and an error", got, err)
	}
	if got, err := GetEnv("WATCHER_TEST_UNSET", "x"); err != nil || got.(string) != "x" {
		t.Errorf("GetEnv(unset) = %v, %v, want x, nil", got, err)
	}
	if _, err := GetEnv("WATCHER_TEST_BOOL", 1.5); err == nil {
		t.Error("GetEnv(float64) error = nil, want unsupported type")
	}
}
