// Package main runs the subreddit watcher: it authorizes against Reddit once,
// then polls the configured subreddits and renders activity to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"subreddit-watcher/auth"
	"subreddit-watcher/config"
	"subreddit-watcher/display"
	"subreddit-watcher/email"
	"subreddit-watcher/metrics"
	"subreddit-watcher/pkg/watcher"
	"subreddit-watcher/poll"
	"subreddit-watcher/publish"
	"subreddit-watcher/reddit"
	"subreddit-watcher/server"
	tokenstore "subreddit-watcher/storage"
	"subreddit-watcher/token"
)

const serviceName = "subreddit-watcher"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// newLogger writes JSON logs to the configured file; stdout belongs to the console view.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open log file: %w", watcher.ErrConfiguration, err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q: %w", watcher.ErrConfiguration, s, err)
	}
	return level, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics.Init(serviceName, version)
	logger.Info("Starting subreddit watcher", "version", version, "feeds", cfg.Poll.Feeds, "interval", cfg.Poll.Interval)

	src, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.close()

	console := display.NewConsole(os.Stdout, cfg.Poll.ClearScreen)
	presenters := poll.Presenters{console}

	var srv *server.Server
	if cfg.Server.MetricsPort != "" {
		var status server.TokenStatus
		if src.tokens != nil {
			status = src.tokens
		}
		srv = server.New(&server.Config{Tokens: status, Logger: logger})
		presenters = append(presenters, srv)
	}

	if cfg.NATS.URL != "" {
		pub, err := publish.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		presenters = append(presenters, pub)
	}

	var digest *email.Digest
	if cfg.Digest.To != "" {
		provider, err := newProvider(ctx, cfg.Digest, logger)
		if err != nil {
			return err
		}
		digest = email.NewDigest(provider, cfg.Digest.To, cfg.Digest.Interval, logger)
		presenters = append(presenters, digest)
	}

	monitor := poll.New(src.fetcher, presenters, src.session, poll.Options{
		Feeds:          cfg.Poll.Feeds,
		Interval:       cfg.Poll.Interval,
		TopN:           cfg.Poll.TopN,
		MaxConcurrency: cfg.Poll.MaxConcurrency,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Server.MetricsPort)
		})
	}
	if digest != nil {
		g.Go(func() error {
			digest.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return monitor.Run(gctx)
	})

	err = g.Wait()
	logger.Info("Subreddit watcher stopped", "error", err)
	return err
}

// source is where listings come from: the live API or a replayed recording.
type source struct {
	fetcher poll.Fetcher
	session *watcher.Session
	tokens  *token.Manager // Nil when replaying
	close   func()
}

func newSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*source, error) {
	if cfg.Poll.ReplayDir != "" {
		replay, err := reddit.LoadReplay(cfg.Poll.ReplayDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Replaying recorded responses", "dir", cfg.Poll.ReplayDir, "from", replay.Earliest())
		return &source{
			fetcher: replay,
			session: watcher.NewSession(replay.Earliest()),
			close:   func() {},
		}, nil
	}

	store, closeStore, err := newStore(ctx, cfg.Token, logger)
	if err != nil {
		return nil, err
	}

	endpoint := token.NewEndpoint(cfg.Reddit.Auth, cfg.Reddit.AuthBaseURL, nil)
	manager := token.NewManager(endpoint, store, logger)
	flow := auth.NewFlow(cfg.Reddit.Auth, endpoint, auth.SystemBrowser{}, os.Stdout, logger)

	if err := startTokens(ctx, store, flow, manager, logger); err != nil {
		closeStore()
		return nil, err
	}

	session := watcher.NewSession(time.Now())
	var recorder *reddit.Recorder
	if cfg.Poll.RecordDir != "" {
		recorder = reddit.NewRecorder(cfg.Poll.RecordDir, session, logger)
		logger.Info("Recording responses", "dir", recorder.Dir())
	}

	return &source{
		fetcher: reddit.New(manager, cfg.Reddit.APIBaseURL, cfg.Poll.FetchTimeout, recorder, logger),
		session: session,
		tokens:  manager,
		close:   closeStore,
	}, nil
}

// newStore picks the GCS token store when a bucket is configured.
func newStore(ctx context.Context, cfg config.TokenConfig, logger *slog.Logger) (*tokenstore.Store, func(), error) {
	if cfg.Bucket == "" {
		return tokenstore.NewLocal(cfg.File, logger), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create storage client: %w", watcher.ErrConfiguration, err)
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return tokenstore.NewBucket(client, cfg.Bucket, cfg.File, logger), closeClient, nil
}

type tokenStore interface {
	Load(ctx context.Context) (*watcher.TokenRecord, error)
	Save(ctx context.Context, rec *watcher.TokenRecord) error
}

type authenticator interface {
	Authenticate(ctx context.Context) (*watcher.TokenRecord, error)
}

type tokenHolder interface {
	Initialize(rec *watcher.TokenRecord)
	Refresh(ctx context.Context) (*watcher.TokenRecord, error)
}

// startTokens installs the saved token, or runs the browser flow when there is
// none. A saved token is refreshed once since its age is unknown.
func startTokens(ctx context.Context, store tokenStore, flow authenticator, holder tokenHolder, logger *slog.Logger) error {
	rec, err := store.Load(ctx)
	switch {
	case err == nil:
		logger.Info("Using saved token")
		holder.Initialize(rec)
		if rec.RefreshToken != "" {
			if _, err := holder.Refresh(ctx); err != nil {
				logger.Warn("Startup refresh failed, keeping saved token", "error", err)
			}
		}
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case !tokenstore.IsNotFound(err):
		logger.Warn("Saved token unusable, authorizing again", "error", err)
	}

	rec, err = flow.Authenticate(ctx)
	if err != nil {
		return err
	}
	holder.Initialize(rec)
	if err := store.Save(ctx, rec); err != nil {
		logger.Warn("Failed to save token", "error", err)
	}
	return nil
}

// newProvider picks Brevo when an API key is set, then Gmail, then a mock that
// only logs.
func newProvider(ctx context.Context, cfg config.DigestConfig, logger *slog.Logger) (email.Provider, error) {
	if cfg.BrevoAPIKey != "" {
		if cfg.From == "" {
			return nil, fmt.Errorf("%w: DIGEST_FROM required with BREVO_API_KEY", watcher.ErrConfiguration)
		}
		logger.Info("Sending digests via Brevo", "to", cfg.To)
		return email.NewBrevoProvider(cfg.BrevoAPIKey, cfg.From, serviceName, logger), nil
	}

	svc, err := initGmailService(ctx)
	if err != nil {
		logger.Info("Mock email mode enabled", "reason", err)
		return email.NewMockProvider(logger), nil
	}
	logger.Info("Sending digests via Gmail", "to", cfg.To)
	return email.NewGmailProvider(svc, cfg.From, logger), nil
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
