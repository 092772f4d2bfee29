package companion

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/companion/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParsesPersona(t *testing.T) {
	backend := &fakeBackend{personas: []string{"```json\n" + personaJSON("Alina", 40) + "\n```"}}
	g := NewPersonaGenerator(backend, 18, 25)
	g.seed = func() int { return 4242 }

	p := g.Generate(context.Background())
	assert.Equal(t, "Alina", p.Name)
	assert.Equal(t, 25, p.Age)
	assert.Equal(t, "curly hair", p.Appearance)
	assert.Equal(t, 4242, p.VisualSeed)

	require.Len(t, backend.requests, 1)
	assert.Equal(t, llm.TierCheap, backend.requests[0].Tier)
	assert.True(t, backend.requests[0].JSON)
}

func TestGenerateFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
	}{
		{name: "backend error", backend: &fakeBackend{personaErr: errors.New("unavailable")}},
		{name: "unparseable output", backend: &fakeBackend{personas: []string{"I can't help with that."}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPersonaGenerator(tt.backend, 18, 25).Generate(context.Background())
			assert.Equal(t, FallbackPersona, p)
		})
	}
}

func TestGenerateSeedInRange(t *testing.T) {
	g := NewPersonaGenerator(nil, 18, 25)
	for i := 0; i < 100; i++ {
		s := g.seed()
		assert.GreaterOrEqual(t, s, 1)
		assert.LessOrEqual(t, s, maxVisualSeed)
	}
}
