package api

import (
	"sync"
	"time"
)

// UploadSessionLimiter tracks open staging areas per user and enforces a
// maximum number of concurrent in-progress uploads. This prevents abuse
// where a user opens many staging areas and never completes them.
type UploadSessionLimiter struct {
	mu        sync.RWMutex
	maxOpen   int
	byUser    map[uint64]map[string]time.Time // user -> uploadID -> first chunk time
	uploadMap map[string]uint64               // uploadID -> user (reverse lookup)
}

// NewUploadSessionLimiter creates a limiter with the specified maximum
// concurrent upload sessions per user.
func NewUploadSessionLimiter(maxOpen int) *UploadSessionLimiter {
	return &UploadSessionLimiter{
		maxOpen:   maxOpen,
		byUser:    make(map[uint64]map[string]time.Time),
		uploadMap: make(map[string]uint64),
	}
}

// CanOpen reports whether the user may start another upload session.
// An upload id already being tracked never counts against the limit, so
// further chunks of an open session always pass.
func (l *UploadSessionLimiter) CanOpen(userID uint64, uploadID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sessions := l.byUser[userID]
	if _, ok := sessions[uploadID]; ok {
		return true
	}
	return len(sessions) < l.maxOpen
}

// OpenCount returns the number of open upload sessions for a user.
func (l *UploadSessionLimiter) OpenCount(userID uint64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.byUser[userID])
}

// MaxOpen returns the configured maximum sessions per user.
func (l *UploadSessionLimiter) MaxOpen() int {
	return l.maxOpen
}

// Track records an upload session for a user. Called on every accepted
// chunk; tracking an already-tracked id is a no-op.
func (l *UploadSessionLimiter) Track(userID uint64, uploadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byUser[userID] == nil {
		l.byUser[userID] = make(map[string]time.Time)
	}
	if _, ok := l.byUser[userID][uploadID]; !ok {
		l.byUser[userID][uploadID] = time.Now()
		l.uploadMap[uploadID] = userID
	}
}

// OnComplete removes a session from tracking. Called when an upload is
// assembled or its staging area swept.
func (l *UploadSessionLimiter) OnComplete(uploadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	userID, ok := l.uploadMap[uploadID]
	if !ok {
		return
	}

	delete(l.uploadMap, uploadID)
	if sessions := l.byUser[userID]; sessions != nil {
		delete(sessions, uploadID)
		if len(sessions) == 0 {
			delete(l.byUser, userID)
		}
	}
}

// CleanupExpired removes sessions older than the given duration. Should
// be called alongside the staging sweep. Returns the number removed.
func (l *UploadSessionLimiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for userID, sessions := range l.byUser {
		for uploadID, openedAt := range sessions {
			if openedAt.Before(cutoff) {
				delete(sessions, uploadID)
				delete(l.uploadMap, uploadID)
				removed++
			}
		}
		if len(sessions) == 0 {
			delete(l.byUser, userID)
		}
	}

	return removed
}
