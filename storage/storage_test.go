package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subreddit-watcher/pkg/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  *watcher.TokenRecord
	}{
		{
			name: "full record",
			rec: &watcher.TokenRecord{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				ExpiresIn:    86400,
				Scope:        "identity read",
				TokenType:    "bearer",
			},
		},
		{
			name: "without refresh token",
			rec: &watcher.TokenRecord{
				AccessToken: "access-2",
				ExpiresIn:   3600,
				TokenType:   "bearer",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLocal(filepath.Join(t.TempDir(), "nested", "token.json"), testLogger())
			ctx := context.Background()

			if err := s.Save(ctx, tt.rec); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if *got != *tt.rec {
				t.Errorf("Load() = %+v, want %+v", *got, *tt.rec)
			}
		})
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := NewLocal(filepath.Join(t.TempDir(), "token.json"), testLogger())
	ctx := context.Background()

	if err := s.Save(ctx, &watcher.TokenRecord{AccessToken: "old", RefreshToken: "r"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, &watcher.TokenRecord{AccessToken: "new", RefreshToken: "r"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "new" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "new")
	}
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := NewLocal(filepath.Join(t.TempDir(), "token.json"), testLogger())

	_, err := s.Load(context.Background())
	if !IsNotFound(err) {
		t.Errorf("Load() error = %v, want not found", err)
	}
}

func TestLoadCorruptIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewLocal(path, testLogger())

	_, err := s.Load(context.Background())
	if err == nil || IsNotFound(err) {
		t.Fatalf("Load() error = %v, want decode failure", err)
	}
	if !errors.Is(err, watcher.ErrPersistence) {
		t.Errorf("Load() error = %v, want ErrPersistence", err)
	}
}

func TestFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := NewLocal(path, testLogger())
	rec := &watcher.TokenRecord{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60, Scope: "read", TokenType: "bearer"}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"accessToken"`, `"refreshToken"`, `"expiresIn"`, `"scope"`, `"tokenType"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("token file missing key %s:\n%s", key, data)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}
