package entity

import "time"

// KeywordHit is a user matched by keyword search.
// Matches counts the distinct keywords found in the user's profile fields.
type KeywordHit struct {
	ID      string
	Matches int
}

// JobSnapshot points at the job generation currently served.
type JobSnapshot struct {
	Collection string
	Generation string
	LastFetch  time.Time
}

// Stale reports whether the snapshot is older than ttl at now.
// A zero snapshot is always stale.
func (s JobSnapshot) Stale(now time.Time, ttl time.Duration) bool {
	if s.LastFetch.IsZero() {
		return true
	}
	return now.Sub(s.LastFetch) >= ttl
}
