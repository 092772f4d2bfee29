package domain

import (
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerPersona Speaker = "persona"
)

// Affinity bounds.
const (
	MinAffinity = 0
	MaxAffinity = 100
)

// Turn is a single chat message in a session history.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Session is the durable record of one user's conversation with one persona.
// Active is derived from the owning user row when the session is loaded.
type Session struct {
	ID        string
	UserID    string
	Persona   Persona
	History   []Turn
	Affinity  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClampAffinity bounds v into [MinAffinity, MaxAffinity].
func ClampAffinity(v int) int {
	if v < MinAffinity {
		return MinAffinity
	}
	if v > MaxAffinity {
		return MaxAffinity
	}
	return v
}

// AppendTurns adds turns to the history and keeps only the last limit entries.
// A non-positive limit disables truncation.
func (s *Session) AppendTurns(limit int, turns ...Turn) {
	s.History = append(s.History, turns...)
	if limit > 0 && len(s.History) > limit {
		trimmed := make([]Turn, limit)
		copy(trimmed, s.History[len(s.History)-limit:])
		s.History = trimmed
	}
}

// RecentTurns returns the last n turns from history.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeHistory converts turns to their persisted representation.
func EncodeHistory(turns []Turn) []StoredMessage {
	out := make([]StoredMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, StoredMessage{Role: string(t.Speaker), Content: t.Text})
	}
	return out
}

// DecodeHistory converts persisted messages back to turns.
func DecodeHistory(msgs []StoredMessage) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Speaker: Speaker(m.Role), Text: m.Content})
	}
	return out
}
