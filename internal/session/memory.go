package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/metrics"
	"github.com/shresthakamal/try-on/internal/models"
)

// MemoryStore holds sessions in process memory. Sessions idle for longer than
// the TTL are dropped; a zero TTL keeps them for the life of the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(ttl time.Duration, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "sessions").Logger(),
	}
}

// lookup returns a live session, dropping it if expired. Callers hold s.mu.
func (s *MemoryStore) lookup(userID string) *models.Session {
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	if s.expired(sess, s.now()) {
		delete(s.sessions, userID)
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
		return nil
	}
	return sess
}

func (s *MemoryStore) expired(sess *models.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastSeenAt) > s.ttl
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess := s.lookup(userID); sess != nil {
		sess.LastSeenAt = now
		return sess.Clone(), false, nil
	}

	sess := &models.Session{UserID: userID, CreatedAt: now, LastSeenAt: now}
	s.sessions[userID] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess.Clone(), true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.lookup(userID); sess != nil {
		return sess.Clone(), nil
	}
	return nil, nil
}

// RecordPerson implements Store.
func (s *MemoryStore) RecordPerson(ctx context.Context, userID string, ref models.AssetRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookup(userID)
	if sess == nil {
		return false, ErrNotFound
	}
	if sess.Person != nil {
		return false, nil
	}
	sess.Person = &ref
	sess.LastSeenAt = s.now()
	return true, nil
}

// RecordProduct implements Store.
func (s *MemoryStore) RecordProduct(ctx context.Context, userID string, ref models.AssetRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookup(userID)
	if sess == nil {
		return false, ErrNotFound
	}
	if sess.Person == nil {
		return false, ErrOutOfOrder
	}
	if sess.Product != nil {
		return false, nil
	}
	sess.Product = &ref
	sess.LastSeenAt = s.now()
	return true, nil
}

// Status implements Store.
func (s *MemoryStore) Status(ctx context.Context, userID string) (models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.lookup(userID); sess != nil {
		return sess.Status(), nil
	}
	return models.StatusEmpty, nil
}

// MarkResolved implements Store.
func (s *MemoryStore) MarkResolved(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookup(userID)
	if sess == nil {
		return ErrNotFound
	}
	sess.Resolved = true
	sess.LastSeenAt = s.now()
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.lookup(userID)
	if sess == nil {
		return ErrNotFound
	}
	sess.Person = nil
	sess.Product = nil
	sess.Resolved = false
	sess.LastSeenAt = s.now()
	return nil
}

// Len returns the number of sessions held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops every expired session and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info().Int("expired", n).Msg("expired idle sessions")
			}
		}
	}
}
