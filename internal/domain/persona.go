package domain

import (
	"fmt"
	"strings"
	"time"
)

// Persona is a generated fictional identity the bot role-plays as.
// It is never mutated after being committed into a Session.
type Persona struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Traits     string `json:"traits"`
	Appearance string `json:"appearance,omitempty"`
	VisualSeed int    `json:"visual_seed,omitempty"`
}

// Card renders the persona as a short profile card.
func (p Persona) Card() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %d", p.Name, p.Age)
	if p.Traits != "" {
		b.WriteString("\n")
		b.WriteString(p.Traits)
	}
	return b.String()
}

// Candidate is a freshly generated persona waiting for the user's decision.
// There is at most one candidate per user.
type Candidate struct {
	UserID    string    `json:"user_id"`
	Persona   Persona   `json:"persona"`
	CreatedAt time.Time `json:"created_at"`
}
