package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/companion/internal/domain"
)

// MemoryCandidateStore keeps candidates in process memory.
// Entries older than ttl are invisible to readers and removed by Sweep.
type MemoryCandidateStore struct {
	mu         sync.Mutex
	candidates map[string]domain.Candidate
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryCandidateStore creates an in-memory candidate store.
// A non-positive ttl keeps candidates until they are replaced or deleted.
func NewMemoryCandidateStore(ttl time.Duration) *MemoryCandidateStore {
	return &MemoryCandidateStore{
		candidates: make(map[string]domain.Candidate),
		ttl:        ttl,
		now:        time.Now,
	}
}

// PutCandidate stores c, replacing the user's previous candidate.
func (m *MemoryCandidateStore) PutCandidate(_ context.Context, c *domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.UserID] = *c
	return nil
}

// GetCandidate returns the user's candidate.
func (m *MemoryCandidateStore) GetCandidate(_ context.Context, userID string) (*domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[userID]
	if !ok || m.expired(c, m.now()) {
		return nil, nil
	}
	return &c, nil
}

// DeleteCandidate discards the user's candidate.
func (m *MemoryCandidateStore) DeleteCandidate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.candidates, userID)
	return nil
}

// Sweep removes expired candidates and returns how many were dropped.
func (m *MemoryCandidateStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for userID, c := range m.candidates {
		if m.expired(c, now) {
			delete(m.candidates, userID)
			removed++
		}
	}
	return removed
}

func (m *MemoryCandidateStore) expired(c domain.Candidate, now time.Time) bool {
	return m.ttl > 0 && now.Sub(c.CreatedAt) > m.ttl
}

// StartCandidateSweeper runs a background goroutine that periodically drops
// abandoned candidates until ctx is cancelled.
func StartCandidateSweeper(ctx context.Context, s *MemoryCandidateStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Candidate sweeper started", "interval", interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					slog.Info("Expired candidates removed", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("Candidate sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
