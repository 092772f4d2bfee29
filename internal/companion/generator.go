package companion

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/llm"
)

const maxVisualSeed = 999999

// PersonaGenerator invents candidate personas.
type PersonaGenerator struct {
	backend llm.Backend
	minAge  int
	maxAge  int
	seed    func() int
}

// NewPersonaGenerator creates a generator producing personas aged minAge..maxAge.
func NewPersonaGenerator(backend llm.Backend, minAge, maxAge int) *PersonaGenerator {
	return &PersonaGenerator{
		backend: backend,
		minAge:  minAge,
		maxAge:  maxAge,
		seed:    func() int { return rand.IntN(maxVisualSeed) + 1 },
	}
}

func (g *PersonaGenerator) prompt() string {
	return fmt.Sprintf(`Invent a young woman for an anonymous chat app.
Answer with a single JSON object and nothing else:
{"name": "<first name>", "age": <integer between %d and %d>, "traits": "<one short line about her character and hobbies>", "appearance": "<a few words describing her looks for a photo>"}`,
		g.minAge, g.maxAge)
}

// Generate returns a new persona. It never fails: backend and parse errors
// degrade to FallbackPersona.
func (g *PersonaGenerator) Generate(ctx context.Context) domain.Persona {
	raw, err := g.backend.Complete(ctx, llm.Request{
		Tier:     llm.TierCheap,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: g.prompt()}},
		JSON:     true,
	})
	if err != nil {
		slog.Warn("Persona generation failed, using fallback", "error", err)
		return FallbackPersona
	}

	persona, err := llm.DecodePersona(raw, g.minAge, g.maxAge)
	if err != nil {
		slog.Warn("Persona output unparseable, using fallback", "error", err)
		return FallbackPersona
	}
	persona.VisualSeed = g.seed()
	return persona
}
