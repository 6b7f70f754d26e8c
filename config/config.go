// Package config loads settings from a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"subreddit-watcher/pkg/watcher"
)

// Config is the full process configuration.
type Config struct {
	Reddit  RedditConfig
	Poll    PollConfig
	Token   TokenConfig
	Server  ServerConfig
	NATS    NATSConfig
	Digest  DigestConfig
	Logging LoggingConfig
}

// RedditConfig holds the OAuth registration and API endpoints.
type RedditConfig struct {
	Auth        watcher.AuthSettings
	AuthBaseURL string
	APIBaseURL  string
}

// PollConfig controls which feeds are polled and how.
type PollConfig struct {
	Feeds          []string
	Interval       time.Duration
	FetchTimeout   time.Duration
	MaxConcurrency int
	TopN           int
	RecordDir      string
	ReplayDir      string // Serve recorded responses instead of the live API
	ClearScreen    bool
}

// TokenConfig selects where the token record is stored.
type TokenConfig struct {
	File            string
	Bucket          string
	CredentialsJSON string
}

// ServerConfig configures the health and metrics listener.
type ServerConfig struct {
	MetricsPort string // Empty disables the listener
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// DigestConfig enables the e-mail digest when To is set.
type DigestConfig struct {
	To          string
	From        string
	Interval    time.Duration
	BrevoAPIKey string
}

// LoggingConfig sets the log destination and level.
type LoggingConfig struct {
	File  string
	Level string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var env envReader
	cfg := &Config{
		Reddit: RedditConfig{
			Auth: watcher.AuthSettings{
				ClientID:     env.get("REDDIT_CLIENT_ID", "").(string),
				ClientSecret: env.get("REDDIT_CLIENT_SECRET", "").(string),
				RedirectURI:  env.get("REDDIT_REDIRECT_URI", "http://localhost:32939/").(string),
				UserAgent:    env.get("REDDIT_USER_AGENT", "").(string),
				Scope:        env.get("REDDIT_SCOPE", "identity,read").(string),
				State:        env.get("REDDIT_STATE", "").(string),
			},
			AuthBaseURL: env.get("REDDIT_AUTH_BASE_URL", "https://www.reddit.com").(string),
			APIBaseURL:  env.get("REDDIT_API_BASE_URL", "https://oauth.reddit.com").(string),
		},
		Poll: PollConfig{
			Feeds:          parseList(os.Getenv("SUBREDDITS")),
			Interval:       env.get("POLL_INTERVAL", time.Second).(time.Duration),
			FetchTimeout:   env.get("FETCH_TIMEOUT", 30*time.Second).(time.Duration),
			MaxConcurrency: env.get("MAX_CONCURRENCY", 0).(int),
			TopN:           env.get("TOP_N", 10).(int),
			RecordDir:      env.get("RECORD_DIR", "").(string),
			ReplayDir:      env.get("REPLAY_DIR", "").(string),
			ClearScreen:    env.get("CLEAR_SCREEN", true).(bool),
		},
		Token: TokenConfig{
			File:            env.get("TOKEN_FILE", "token.json").(string),
			Bucket:          env.get("TOKEN_BUCKET", "").(string),
			CredentialsJSON: env.get("GOOGLE_CREDENTIALS_JSON", "").(string),
		},
		Server: ServerConfig{
			MetricsPort: env.get("METRICS_PORT", "").(string),
		},
		NATS: NATSConfig{
			URL:     env.get("NATS_URL", "").(string),
			Subject: env.get("NATS_SUBJECT", "subreddit-watcher").(string),
		},
		Digest: DigestConfig{
			To:          env.get("DIGEST_TO", "").(string),
			From:        env.get("DIGEST_FROM", "").(string),
			Interval:    env.get("DIGEST_INTERVAL", 15*time.Minute).(time.Duration),
			BrevoAPIKey: env.get("BREVO_API_KEY", "").(string),
		},
		Logging: LoggingConfig{
			File:  env.get("LOG_FILE", "subreddit-watcher.log").(string),
			Level: env.get("LOG_LEVEL", "info").(string),
		},
	}

	if len(env.invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid env %s", watcher.ErrConfiguration, strings.Join(env.invalid, ", "))
	}

	if cfg.Reddit.Auth.State == "" {
		cfg.Reddit.Auth.State = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Poll.Feeds) == 0 {
		return fmt.Errorf("%w: missing env SUBREDDITS", watcher.ErrConfiguration)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL must be positive", watcher.ErrConfiguration)
	}
	if c.Poll.MaxConcurrency < 0 || c.Poll.TopN < 0 {
		return fmt.Errorf("%w: MAX_CONCURRENCY and TOP_N cannot be negative", watcher.ErrConfiguration)
	}
	if c.Poll.FetchTimeout < 0 {
		return fmt.Errorf("%w: FETCH_TIMEOUT cannot be negative", watcher.ErrConfiguration)
	}
	if c.Digest.To != "" && c.Digest.Interval <= 0 {
		return fmt.Errorf("%w: DIGEST_INTERVAL must be positive", watcher.ErrConfiguration)
	}
	if c.Poll.ReplayDir != "" {
		return nil
	}

	var missing []string
	for _, kv := range []struct{ key, value string }{
		{"REDDIT_CLIENT_ID", c.Reddit.Auth.ClientID},
		{"REDDIT_CLIENT_SECRET", c.Reddit.Auth.ClientSecret},
		{"REDDIT_USER_AGENT", c.Reddit.Auth.UserAgent},
	} {
		if kv.value == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing env %s", watcher.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// parseList splits a comma separated list, dropping blanks and duplicates.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || seen[strings.ToLower(trimmed)] {
			continue
		}
		seen[strings.ToLower(trimmed)] = true
		result = append(result, trimmed)
	}
	return result
}

// envReader reads typed values and remembers keys that failed to parse.
type envReader struct {
	invalid []string
}

func (r *envReader) get(key string, defaultValue any) any {
	v, err := GetEnv(key, defaultValue)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return defaultValue
	}
	return v
}

// GetEnv returns the value of key converted to the type of defaultValue, or
// defaultValue when key is unset or blank. Supported types are string, int, bool and
// time.Duration.
func GetEnv(key string, defaultValue any) (any, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	if _, isString := defaultValue.(string); !isString && strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}

	switch defaultValue.(type) {
	case string:
		return value, nil
	case int:
		intValue, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return defaultValue, fmt.Errorf("parse %s: %w", key, err)
		}
		return intValue, nil
	case bool:
		boolValue, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return defaultValue, fmt.Errorf("parse %s: %w", key, err)
		}
		return boolValue, nil
	case time.Duration:
		durationValue, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return defaultValue, fmt.Errorf("parse %s: %w", key, err)
		}
		return durationValue, nil
	default:
		return defaultValue, fmt.Errorf("%s: unsupported type %T", key, defaultValue)
	}
}
