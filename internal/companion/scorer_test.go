package companion

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/companion/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustScorer(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		err      error
		affinity int
		want     int
	}{
		{name: "positive", raw: "+5", affinity: 15, want: 20},
		{name: "negative", raw: "-10", affinity: 15, want: 5},
		{name: "neutral", raw: "0", affinity: 40, want: 40},
		{name: "noisy output", raw: "Score: +5.", affinity: 15, want: 20},
		{name: "above range is capped", raw: "+50", affinity: 15, want: 20},
		{name: "below range is capped", raw: "-40", affinity: 15, want: 5},
		{name: "garbage falls back", raw: "nice message", affinity: 15, want: 15 + FallbackDelta},
		{name: "backend error falls back", err: errors.New("boom"), affinity: 15, want: 15 + FallbackDelta},
		{name: "clamped at ceiling", raw: "+5", affinity: 98, want: 100},
		{name: "clamped at floor", raw: "-10", affinity: 3, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{score: tt.raw, scoreErr: tt.err}
			scorer := NewTrustScorer(backend, 5, 10)

			got := scorer.Score(context.Background(), "hello", tt.affinity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrustScorerUsesCheapTier(t *testing.T) {
	backend := &fakeBackend{score: "0"}
	NewTrustScorer(backend, 5, 10).Score(context.Background(), "you are rude", 50)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, llm.TierCheap, req.Tier)
	assert.False(t, req.JSON)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "+5")
	assert.Contains(t, req.Messages[0].Content, "-10")
	assert.Equal(t, "you are rude", req.Messages[1].Content)
}
