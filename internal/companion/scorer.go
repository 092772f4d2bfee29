package companion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/llm"
)

// TrustScorer turns a user message into an affinity change.
type TrustScorer struct {
	backend  llm.Backend
	positive int
	negative int
}

// NewTrustScorer creates a scorer awarding +positive for warm messages and
// -negative for rude ones.
func NewTrustScorer(backend llm.Backend, positive, negative int) *TrustScorer {
	return &TrustScorer{backend: backend, positive: positive, negative: negative}
}

func (s *TrustScorer) prompt() string {
	return fmt.Sprintf(`You rate how a message from a man affects a girl's sympathy for him in a chat.
Reply with exactly one signed integer and nothing else:
+%d if the message is kind, flirty, funny or attentive;
-%d if it is rude, vulgar, boring or aggressive;
0 if it is neutral.`, s.positive, s.negative)
}

// Score returns clamp(affinity+delta, 0, 100). Scoring failures never block
// the conversation; they apply FallbackDelta instead.
func (s *TrustScorer) Score(ctx context.Context, text string, affinity int) int {
	return domain.ClampAffinity(affinity + s.delta(ctx, text))
}

func (s *TrustScorer) delta(ctx context.Context, text string) int {
	raw, err := s.backend.Complete(ctx, llm.Request{
		Tier: llm.TierCheap,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.prompt()},
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		slog.Warn("Trust scoring failed, using fallback delta", "error", err)
		return FallbackDelta
	}

	delta, err := llm.DecodeDelta(raw)
	if err != nil {
		slog.Warn("Trust score unparseable, using fallback delta", "error", err)
		return FallbackDelta
	}

	switch {
	case delta > s.positive:
		return s.positive
	case delta < -s.negative:
		return -s.negative
	}
	return delta
}
