package companion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/llm"
)

// Mood is the tone label derived from affinity.
type Mood string

const (
	MoodReserved     Mood = "reserved"
	MoodFriendly     Mood = "friendly"
	MoodPlayful      Mood = "playful"
	MoodAffectionate Mood = "affectionate"
)

// Mood band lower bounds.
const (
	friendlyFrom     = 30
	playfulFrom      = 60
	affectionateFrom = 85
)

// MoodFor maps affinity to a mood. Higher affinity never yields a colder mood.
func MoodFor(affinity int) Mood {
	switch {
	case affinity >= affectionateFrom:
		return MoodAffectionate
	case affinity >= playfulFrom:
		return MoodPlayful
	case affinity >= friendlyFrom:
		return MoodFriendly
	default:
		return MoodReserved
	}
}

var moodGuidance = map[Mood]string{
	MoodReserved:     "You barely know him and are a bit guarded: polite, short answers, no flirting.",
	MoodFriendly:     "You enjoy the chat: friendly, curious, ask questions back.",
	MoodPlayful:      "You like him: playful, teasing, light flirting.",
	MoodAffectionate: "You are fond of him: warm, affectionate and openly flirty.",
}

// Directive builds the system instruction for one turn. It is rebuilt from
// the current affinity every time and never stored in history.
func Directive(p domain.Persona, mood Mood, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %d-year-old girl chatting with a stranger in an anonymous chat.\n", p.Name, p.Age)
	if p.Traits != "" {
		fmt.Fprintf(&b, "About you: %s\n", p.Traits)
	}
	if p.Appearance != "" {
		fmt.Fprintf(&b, "Your looks: %s\n", p.Appearance)
	}
	fmt.Fprintf(&b, "Current mood: %s. %s\n", mood, moodGuidance[mood])
	b.WriteString("Respond briefly and colloquially, like a real person in an instant-message chat. Emojis are fine, formal language is not. Never mention being an AI.\n")
	if language != "" {
		fmt.Fprintf(&b, "Always reply in %s.", language)
	}
	return b.String()
}

// ResponseGenerator produces persona replies.
type ResponseGenerator struct {
	backend       llm.Backend
	contextWindow int
	language      string
}

// NewResponseGenerator creates a reply generator sending at most
// contextWindow history turns per request.
func NewResponseGenerator(backend llm.Backend, contextWindow int, language string) *ResponseGenerator {
	return &ResponseGenerator{backend: backend, contextWindow: contextWindow, language: language}
}

func (r *ResponseGenerator) messages(session *domain.Session, userText string) []llm.Message {
	recent := session.RecentTurns(r.contextWindow)
	msgs := make([]llm.Message, 0, len(recent)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: Directive(session.Persona, MoodFor(session.Affinity), r.language),
	})
	for _, t := range recent {
		role := llm.RoleUser
		if t.Speaker == domain.SpeakerPersona {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
}

// Reply answers userText in the persona's voice, using the session's current
// affinity for the mood. The session is not modified.
func (r *ResponseGenerator) Reply(ctx context.Context, session *domain.Session, userText string) (string, error) {
	text, err := r.backend.Complete(ctx, llm.Request{
		Tier:     llm.TierPrimary,
		Messages: r.messages(session, userText),
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// Greet produces the persona's opening line for a freshly committed session.
func (r *ResponseGenerator) Greet(ctx context.Context, session *domain.Session) (string, error) {
	return r.Reply(ctx, session, "(He just opened a chat with you. Write him a short greeting.)")
}
