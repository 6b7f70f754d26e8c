package watcher

import (
	"sync/atomic"
	"time"
)

// Session bounds which items count as new and numbers recorded responses.
// It replaces process-wide globals so that tests can run sessions in parallel.
type Session struct {
	start time.Time
	seq   atomic.Int64
}

// NewSession creates a session starting at start.
func NewSession(start time.Time) *Session {
	return &Session{start: start.UTC()}
}

// Start returns the session start instant in UTC.
func (s *Session) Start() time.Time {
	return s.start
}

// Stamp formats the start instant for directory names.
func (s *Session) Stamp() string {
	return s.start.Format("20060102_150405")
}

// NextSequence returns 0, 1, 2, ... across concurrent callers.
func (s *Session) NextSequence() int64 {
	return s.seq.Add(1) - 1
}
