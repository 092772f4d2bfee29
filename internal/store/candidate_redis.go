package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/companion/internal/domain"
	"github.com/redis/go-redis/v9"
)

const candidateKeyPrefix = "companion:candidate:"

// RedisCandidateStore keeps candidates in Redis with native key expiry,
// so pending profiles survive restarts and are shared between replicas.
type RedisCandidateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCandidateStore wraps an existing Redis client.
func NewRedisCandidateStore(client redis.UniversalClient, ttl time.Duration) *RedisCandidateStore {
	return &RedisCandidateStore{client: client, ttl: ttl}
}

func candidateKey(userID string) string {
	return candidateKeyPrefix + userID
}

// PutCandidate stores c, replacing the user's previous candidate.
func (r *RedisCandidateStore) PutCandidate(ctx context.Context, c *domain.Candidate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	if err := r.client.Set(ctx, candidateKey(c.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("put candidate: %w", err)
	}
	return nil
}

// GetCandidate returns the user's candidate.
func (r *RedisCandidateStore) GetCandidate(ctx context.Context, userID string) (*domain.Candidate, error) {
	data, err := r.client.Get(ctx, candidateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}

	var c domain.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}
	return &c, nil
}

// DeleteCandidate discards the user's candidate.
func (r *RedisCandidateStore) DeleteCandidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, candidateKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (r *RedisCandidateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisCandidateStore) Close() error {
	return r.client.Close()
}
