package watcher

import "errors"

// Error categories. Concrete errors wrap one of these so callers can decide
// how far a failure propagates with errors.Is.
var (
	// ErrConfiguration is fatal: bad settings or an unbindable callback address.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuthentication is fatal for the current run.
	ErrAuthentication = errors.New("authentication error")
	// ErrRefresh needs a full re-authentication to recover from.
	ErrRefresh = errors.New("token refresh error")
	// ErrFeedFetch is scoped to one feed for one cycle.
	ErrFeedFetch = errors.New("feed fetch error")
	// ErrPersistence is logged and never blocks in-memory operation.
	ErrPersistence = errors.New("persistence error")
)
