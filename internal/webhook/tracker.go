// Package webhook runs conversational turns asynchronously and delivers the
// result to a caller-supplied callback URL, with a tracking record per
// submission.
package webhook

import (
	"sync"
	"time"

	"github.com/chatgraph/chatgraph/internal/domain"
)

// Status is the lifecycle stage of a tracked submission.
type Status string

const (
	// StatusPending: accepted, worker not started yet.
	StatusPending Status = "pending"
	// StatusRunning: pipeline executing.
	StatusRunning Status = "running"
	// StatusDelivering: pipeline done, callback delivery in progress.
	StatusDelivering Status = "delivering"
	// StatusDelivered: callback accepted the payload. Terminal.
	StatusDelivered Status = "delivered"
	// StatusFailed: pipeline failed; the record keeps the error. Terminal.
	StatusFailed Status = "failed"
	// StatusExhausted: delivery attempts ran out. Terminal.
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusExhausted
}

// Record tracks one webhook submission from acceptance to its terminal
// state.
type Record struct {
	TrackID     string        `json:"track_id"`
	SessionID   string        `json:"session_id"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CallbackURL string        `json:"-"`
	Response    string        `json:"response,omitempty"`
	Err         *domain.Error `json:"error,omitempty"`
	// LastDeliveryError is the most recent delivery failure, kept for the
	// status endpoint.
	LastDeliveryError string `json:"last_delivery_error,omitempty"`
}

// Tracker is the concurrency-safe store of tracking records. Workers mutate
// through Update; readers only ever see copies.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*Record)}
}

// Create registers a new pending record.
func (t *Tracker) Create(trackID, sessionID, callbackURL string) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[trackID] = &Record{
		TrackID:     trackID,
		SessionID:   sessionID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CallbackURL: callbackURL,
	}
}

// Update applies fn to the record under the lock and stamps UpdatedAt.
func (t *Tracker) Update(trackID string, fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[trackID]
	if !ok {
		return
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the record, so callers can read it without
// racing the worker.
func (t *Tracker) Snapshot(trackID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[trackID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Sweep drops terminal records whose last update is older than retention.
// Non-terminal records are never swept; a live worker still owns them.
func (t *Tracker) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}
