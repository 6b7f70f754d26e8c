// Package watcher contains the core domain types for the subreddit watcher.
package watcher

import "time"

// AuthSettings holds the OAuth application registration. It is loaded once at
// startup and never mutated.
type AuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	UserAgent    string
	Scope        string
	State        string // Anti-CSRF value echoed back by the provider
}

// TokenRecord is the single persisted token. The JSON layout is the on-disk
// format of the token file.
type TokenRecord struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"` // Lifetime in seconds at issuance
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// ExpiresAt returns the absolute expiry for a token issued at issued.
func (r *TokenRecord) ExpiresAt(issued time.Time) time.Time {
	return issued.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// Item is one polled post.
type Item struct {
	Created       time.Time `json:"created"`
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Feed          string    `json:"feed"`           // Never changes after first sighting
	Metric        int       `json:"metric"`         // Upvotes as last observed
	InitialMetric int       `json:"initial_metric"` // Upvotes at first sighting
}

// Contributor is an author seen posting during the session.
type Contributor struct {
	Name  string `json:"name"`
	Feed  string `json:"feed"` // Feed of the first sighting
	Count int    `json:"count"`
}

// RateLimit is the provider's advisory quota telemetry.
type RateLimit struct {
	Used         int `json:"used"`
	Remaining    int `json:"remaining"`
	ResetSeconds int `json:"reset_seconds"`
}

// Snapshot is the read-only view handed to presenters once per cycle.
type Snapshot struct {
	SessionStart         time.Time      `json:"session_start"`
	CompletedAt          time.Time      `json:"completed_at"`
	TopContributors      []*Contributor `json:"top_contributors"`
	TopItems             []*Item        `json:"top_items"`
	FailedFeeds          []string       `json:"failed_feeds,omitempty"`
	RateLimit            RateLimit      `json:"rate_limit"`
	Cycle                int            `json:"cycle"`
	NewItems             int            `json:"new_items"`        // Session total
	NewContributors      int            `json:"new_contributors"` // Session total
	CycleNewItems        int            `json:"cycle_new_items"`
	CycleNewContributors int            `json:"cycle_new_contributors"`
	TrackedItems         int            `json:"tracked_items"`
	TrackedContributors  int            `json:"tracked_contributors"`
}
