package reddit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"subreddit-watcher/pkg/watcher"
)

// Recording is the on-disk form of one captured response.
type Recording struct {
	Metadata RecordingMetadata `json:"metadata"`
	Response json.RawMessage   `json:"response"`
}

// RecordingMetadata identifies a captured response.
type RecordingMetadata struct {
	Timestamp      time.Time `json:"timestamp"`
	Subreddit      string    `json:"subreddit"`
	SequenceNumber int64     `json:"sequenceNumber"`
}

// Recorder writes raw listing responses under <dir>/<session stamp>/.
type Recorder struct {
	session *watcher.Session
	logger  *slog.Logger
	dir     string
	now     func() time.Time
}

// NewRecorder creates a recorder rooted at dir for session.
func NewRecorder(dir string, session *watcher.Session, logger *slog.Logger) *Recorder {
	return &Recorder{
		session: session,
		logger:  logger,
		dir:     filepath.Join(dir, session.Stamp()),
		now:     time.Now,
	}
}

// Dir is the session's recording directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Record saves body as the next numbered response for feed. The feed name is
// escaped in the file name. Failures are logged and never reach the caller.
func (r *Recorder) Record(feed string, body []byte) {
	seq := r.session.NextSequence()
	rec := Recording{
		Metadata: RecordingMetadata{
			SequenceNumber: seq,
			Timestamp:      r.now().UTC(),
			Subreddit:      feed,
		},
		Response: json.RawMessage(body),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		r.logger.Error("Failed to encode API response", "feed", feed, "error", err)
		return
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.logger.Error("Failed to create recording directory", "dir", r.dir, "error", err)
		return
	}
	name := filepath.Join(r.dir, fmt.Sprintf("%04d_%s.json", seq, url.PathEscape(feed)))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		r.logger.Error("Failed to save API response", "file", name, "error", err)
		return
	}
	r.logger.Debug("Saved API response", "file", name)
}
