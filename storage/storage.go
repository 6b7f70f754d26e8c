// Package storage handles persistence of the OAuth token record.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"subreddit-watcher/pkg/watcher"
)

// ErrNotFound means no token has been saved yet.
var ErrNotFound = errors.New("storage: token doesn't exist")

// Store persists a single token record, either to a local JSON file or to a
// Cloud Storage object.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string // File path, used when bucket is empty
	bucket    string
	object    string
}

// NewLocal creates a store backed by the file at path.
func NewLocal(path string, logger *slog.Logger) *Store {
	return &Store{
		logger:    logger,
		localPath: path,
	}
}

// NewBucket creates a store backed by object in a Cloud Storage bucket.
func NewBucket(client *storage.Client, bucket, object string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		bucket: bucket,
		object: object,
	}
}

// Location describes where the token lives, for log lines.
func (s *Store) Location() string {
	if s.bucket != "" {
		return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
	}
	return s.localPath
}

// Save writes the record, replacing any previous one.
func (s *Store) Save(ctx context.Context, rec *watcher.TokenRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil token record", watcher.ErrPersistence)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal token: %w", watcher.ErrPersistence, err)
	}

	if s.bucket == "" {
		if err := writeFileAtomic(s.localPath, data); err != nil {
			return fmt.Errorf("%w: write to local storage: %w", watcher.ErrPersistence, err)
		}
		s.logger.Info("Token saved to local storage", "path", s.localPath)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying token save after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: save after retries: %w", watcher.ErrPersistence, err)
	}

	s.logger.Info("Token saved", "bucket", s.bucket, "object", s.object)
	return nil
}

// Load reads the saved record. A missing token yields ErrNotFound.
func (s *Store) Load(ctx context.Context) (*watcher.TokenRecord, error) {
	var data []byte

	if s.bucket == "" {
		var err error
		data, err = os.ReadFile(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: read from local storage: %w", watcher.ErrPersistence, err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying token load after error", "attempt", n, "object", s.object, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: load after retries: %w", watcher.ErrPersistence, err)
		}
		data = readData
	}

	var rec watcher.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal token: %w", watcher.ErrPersistence, err)
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file holds no tokens", watcher.ErrPersistence)
	}

	return &rec, nil
}

// IsNotFound checks if an error indicates no token was saved.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// writeFileAtomic replaces path so readers never see a half-written token.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
