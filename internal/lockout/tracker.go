// Package lockout maintains per-user failed-attempt counters and lockout
// windows shared by password and second-factor verification.
package lockout

import (
	"sync"
	"time"
)

// Config holds lockout policy inputs.
type Config struct {
	MaxFailedAttempts int           // failures before a lockout starts
	LockoutDuration   time.Duration // how long a lockout lasts
}

type entry struct {
	mu          sync.Mutex
	count       int
	lockedUntil time.Time
}

// Tracker accumulates failures per user id. All mutations to a given user's
// counter happen under that user's lock, so concurrent failed attempts from
// different sessions never lose an increment.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	now     func() time.Time
}

// NewTracker creates a Tracker with the given policy.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
	}
}

func (t *Tracker) entryFor(userID string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok {
		e = &entry{}
		t.entries[userID] = e
	}
	return e
}

// RecordFailure atomically increments the user's failure count. When the
// count reaches the threshold it starts a lockout window and resets the
// count, returning the lockout end. Failures during an active lockout do
// not extend it.
func (t *Tracker) RecordFailure(userID string) (count int, lockedUntil *time.Time) {
	e := t.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := t.now()
	if now.Before(e.lockedUntil) {
		until := e.lockedUntil
		return e.count, &until
	}

	e.count++
	if e.count >= t.config.MaxFailedAttempts {
		e.lockedUntil = now.Add(t.config.LockoutDuration)
		e.count = 0
		until := e.lockedUntil
		return t.config.MaxFailedAttempts, &until
	}
	return e.count, nil
}

// RecordSuccess resets the user's failure count and clears any lockout.
func (t *Tracker) RecordSuccess(userID string) {
	e := t.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = 0
	e.lockedUntil = time.Time{}
}

// IsLocked reports whether the user is currently locked out.
func (t *Tracker) IsLocked(userID string) bool {
	e := t.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return t.now().Before(e.lockedUntil)
}

// RetryAfter returns the lockout end for a locked user, or nil.
func (t *Tracker) RetryAfter(userID string) *time.Time {
	e := t.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.now().Before(e.lockedUntil) {
		until := e.lockedUntil
		return &until
	}
	return nil
}

// FailureCount returns the user's current failure count.
func (t *Tracker) FailureCount(userID string) int {
	e := t.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Sweep drops entries with no failures and no active lockout. Expiry is
// always checked on read; this is memory hygiene only.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for id, e := range t.entries {
		e.mu.Lock()
		stale := e.count == 0 && !now.Before(e.lockedUntil)
		e.mu.Unlock()
		if stale {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}
