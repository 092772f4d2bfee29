// Package companion implements the persona matching and conversation state machine.
package companion

import "github.com/ashureev/companion/internal/domain"

// Options holds the tunable conversation policy.
type Options struct {
	StartAffinity int // affinity of a freshly committed session
	HistoryLimit  int // turns kept per session after every message
	ContextWindow int // turns sent to the model with each reply request
	PositiveDelta int // affinity gain for a warm message
	NegativeDelta int // affinity loss for a rude message (positive number)
	MinAge        int // persona age range
	MaxAge        int
	Language      string // language the persona replies in
}

// DefaultOptions returns the default conversation policy.
func DefaultOptions() Options {
	return Options{
		StartAffinity: 15,
		HistoryLimit:  10,
		ContextWindow: 10,
		PositiveDelta: 5,
		NegativeDelta: 10,
		MinAge:        18,
		MaxAge:        25,
		Language:      "English",
	}
}

// Fallback values used when a generation call fails or returns garbage.
const (
	// FallbackDelta is applied when the scorer cannot produce a delta.
	FallbackDelta = 1

	// FillerReply is sent instead of a model reply that failed.
	FillerReply = "Sorry, got distracted for a second, say that again? 😇"

	// FallbackGreeting opens a new session when the greeting call fails.
	FallbackGreeting = "Hi there! 😊"

	// NoActiveNotice answers a message sent without an active session.
	NoActiveNotice = "You have no active conversation. Search for someone to talk to first."

	// NoCandidateNotice answers a commit without a pending candidate.
	NoCandidateNotice = "There is nobody to start a chat with yet. Search first."
)

// FallbackPersona is returned by the generator when the backend fails.
var FallbackPersona = domain.Persona{
	Name:       "Maria",
	Age:        21,
	Traits:     "Loves adventures and spontaneous trips.",
	Appearance: "long dark hair, warm smile, denim jacket",
	VisualSeed: 1,
}
