// Package memory is an in-memory history store with TTL-based expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/history"
)

type session struct {
	messages  []domain.Message
	expiresAt time.Time
}

// Store keeps session history in a mutex-guarded map. Sessions idle past
// the TTL are dropped by a background sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an in-memory store. ttl <= 0 disables expiry.
func New(ttl time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

func (s *Store) Get(ctx context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, history.ErrNotFound
	}
	if s.ttl > 0 && time.Now().After(sess.expiresAt) {
		return nil, history.ErrNotFound
	}

	out := make([]domain.Message, len(sess.messages))
	copy(out, sess.messages)
	return out, nil
}

func (s *Store) Put(ctx context.Context, sessionID string, msgs []domain.Message, maxLen int) error {
	trimmed := history.Trim(msgs, maxLen)
	stored := make([]domain.Message, len(trimmed))
	copy(stored, trimmed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = &session{
		messages:  stored,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *Store) sweep() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, sess := range s.sessions {
				if now.After(sess.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ history.Store = (*Store)(nil)
