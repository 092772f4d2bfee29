package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/llm"
	"github.com/ashureev/companion/internal/store"
	"github.com/ashureev/companion/internal/transcript"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a switch or delete names a session the
// user does not own.
var ErrSessionNotFound = errors.New("session not found")

// PhotoRequest asks the transport to attach a generated picture.
type PhotoRequest struct {
	Descriptor string
	Seed       int
}

// Reply is what the transport delivers to the user.
// Notice is set when the text is a state notice rather than a persona line.
type Reply struct {
	Text      string
	SessionID string
	Photo     *PhotoRequest
	Notice    bool
}

// Manager orchestrates candidate search, session lifecycle and the
// score -> mood -> reply -> persist pipeline.
type Manager struct {
	repo       store.Repository
	candidates store.CandidateStore
	generator  *PersonaGenerator
	scorer     *TrustScorer
	responder  *ResponseGenerator
	opts       Options
	log        transcript.Logger
	locks      userLocks
	now        func() time.Time
	newID      func() string
}

// NewManager wires the generation pipeline to the given stores.
func NewManager(repo store.Repository, candidates store.CandidateStore, backend llm.Backend, opts Options) *Manager {
	return &Manager{
		repo:       repo,
		candidates: candidates,
		generator:  NewPersonaGenerator(backend, opts.MinAge, opts.MaxAge),
		scorer:     NewTrustScorer(backend, opts.PositiveDelta, opts.NegativeDelta),
		responder:  NewResponseGenerator(backend, opts.ContextWindow, opts.Language),
		opts:       opts,
		log:        transcript.Noop{},
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetTranscript sets the conversation transcript logger.
func (m *Manager) SetTranscript(l transcript.Logger) {
	if l == nil {
		l = transcript.Noop{}
	}
	m.log = l
}

func photoFor(p domain.Persona) *PhotoRequest {
	desc := fmt.Sprintf("photo of a %d-year-old young woman", p.Age)
	if p.Appearance != "" {
		desc += ", " + p.Appearance
	}
	return &PhotoRequest{Descriptor: desc, Seed: p.VisualSeed}
}

// Search generates a new candidate and stores it as the user's only pending
// candidate, discarding any previous one. An active session stays active
// until the candidate is committed.
func (m *Manager) Search(ctx context.Context, userID string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	persona := m.generator.Generate(ctx)
	if err := m.candidates.PutCandidate(ctx, &domain.Candidate{
		UserID:    userID,
		Persona:   persona,
		CreatedAt: m.now(),
	}); err != nil {
		return nil, fmt.Errorf("store candidate: %w", err)
	}

	slog.Info("Candidate generated", "user_id", userID, "name", persona.Name)
	m.log.Log(transcript.Event{UserID: userID, Direction: "outbound", EventType: "candidate", Content: persona.Card()})

	return &Reply{Text: persona.Card(), Photo: photoFor(persona)}, nil
}

// Next replaces the pending candidate with a freshly generated one.
func (m *Manager) Next(ctx context.Context, userID string) (*Reply, error) {
	return m.Search(ctx, userID)
}

// Commit turns the pending candidate into a new active session. The previous
// active session, if any, becomes inactive in the same store transaction.
func (m *Manager) Commit(ctx context.Context, userID string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	candidate, err := m.candidates.GetCandidate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	if candidate == nil {
		return &Reply{Text: NoCandidateNotice, Notice: true}, nil
	}

	now := m.now()
	session := &domain.Session{
		ID:        m.newID(),
		UserID:    userID,
		Persona:   candidate.Persona,
		Affinity:  domain.ClampAffinity(m.opts.StartAffinity),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.CreateSession(ctx, session, true); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := m.candidates.DeleteCandidate(ctx, userID); err != nil {
		slog.Warn("Failed to clear committed candidate", "user_id", userID, "error", err)
	}

	slog.Info("Session committed", "user_id", userID, "session_id", session.ID, "persona", session.Persona.Name)
	m.log.Log(transcript.Event{UserID: userID, SessionID: session.ID, Direction: "inbound", EventType: "commit", Content: session.Persona.Card()})

	greeting, err := m.responder.Greet(ctx, session)
	if err != nil {
		slog.Warn("Greeting generation failed, using fallback", "user_id", userID, "session_id", session.ID, "error", err)
		greeting = FallbackGreeting
	}
	m.log.Log(transcript.Event{UserID: userID, SessionID: session.ID, Direction: "outbound", EventType: "greeting", Content: greeting})

	return &Reply{Text: greeting, SessionID: session.ID}, nil
}

// Message runs one conversation turn on the user's active session.
// Nothing is persisted unless the reply was generated successfully.
func (m *Manager) Message(ctx context.Context, userID, text string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	session, err := m.repo.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if session == nil {
		return &Reply{Text: NoActiveNotice, Notice: true}, nil
	}

	m.log.Log(transcript.Event{UserID: userID, SessionID: session.ID, Direction: "inbound", EventType: "user_message", Content: text})

	working := *session
	working.Affinity = m.scorer.Score(ctx, text, session.Affinity)

	answer, err := m.responder.Reply(ctx, &working, text)
	if err != nil {
		slog.Warn("Reply generation failed, sending filler", "user_id", userID, "session_id", session.ID, "error", err)
		m.log.Log(transcript.Event{UserID: userID, SessionID: session.ID, Direction: "outbound", EventType: "persona_reply", Content: FillerReply, Fallback: true})
		return &Reply{Text: FillerReply, SessionID: session.ID}, nil
	}

	working.AppendTurns(m.opts.HistoryLimit,
		domain.Turn{Speaker: domain.SpeakerUser, Text: text},
		domain.Turn{Speaker: domain.SpeakerPersona, Text: answer},
	)
	working.UpdatedAt = m.now()
	if err := m.repo.UpdateSession(ctx, &working); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	slog.Debug("Turn persisted", "user_id", userID, "session_id", session.ID,
		"affinity_before", session.Affinity, "affinity", working.Affinity, "mood", MoodFor(working.Affinity))
	affinity := working.Affinity
	m.log.Log(transcript.Event{UserID: userID, SessionID: session.ID, Direction: "outbound", EventType: "persona_reply", Content: answer, Affinity: &affinity})

	return &Reply{Text: answer, SessionID: session.ID}, nil
}

// Switch makes sessionID the user's active session.
func (m *Manager) Switch(ctx context.Context, userID, sessionID string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	session, err := m.repo.GetSession(ctx, userID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if err := m.repo.SetActiveSession(ctx, userID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("activate session: %w", err)
	}

	slog.Info("Session switched", "user_id", userID, "session_id", sessionID)
	m.log.Log(transcript.Event{UserID: userID, SessionID: sessionID, Direction: "inbound", EventType: "switch"})

	return &Reply{
		Text:      fmt.Sprintf("You're back in the chat with %s.", session.Persona.Name),
		SessionID: sessionID,
		Notice:    true,
	}, nil
}

// Exit leaves the user idle: the active session becomes inactive and any
// pending candidate is dropped.
func (m *Manager) Exit(ctx context.Context, userID string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	if err := m.repo.ClearActiveSession(ctx, userID); err != nil {
		return nil, fmt.Errorf("deactivate session: %w", err)
	}
	if err := m.candidates.DeleteCandidate(ctx, userID); err != nil {
		slog.Warn("Failed to clear candidate on exit", "user_id", userID, "error", err)
	}

	m.log.Log(transcript.Event{UserID: userID, Direction: "inbound", EventType: "exit"})
	return &Reply{Text: "Chat ended. Search for someone new?", Notice: true}, nil
}

// Delete permanently removes a session. An empty sessionID means the active one.
func (m *Manager) Delete(ctx context.Context, userID, sessionID string) (*Reply, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	if sessionID == "" {
		active, err := m.repo.GetActiveSession(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load active session: %w", err)
		}
		if active == nil {
			return &Reply{Text: NoActiveNotice, Notice: true}, nil
		}
		sessionID = active.ID
	}

	if err := m.repo.DeleteSession(ctx, userID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("delete session: %w", err)
	}

	slog.Info("Session deleted", "user_id", userID, "session_id", sessionID)
	m.log.Log(transcript.Event{UserID: userID, SessionID: sessionID, Direction: "inbound", EventType: "delete"})
	return &Reply{Text: "Conversation deleted.", Notice: true}, nil
}

// List returns the user's sessions with the active one flagged.
func (m *Manager) List(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := m.repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// State reports where the user is in the state machine. A pending candidate
// takes precedence over an active session.
func (m *Manager) State(ctx context.Context, userID string) (domain.UserState, error) {
	candidate, err := m.candidates.GetCandidate(ctx, userID)
	if err != nil {
		return domain.UserState{}, fmt.Errorf("load candidate: %w", err)
	}
	if candidate != nil {
		return domain.Pending(candidate.Persona), nil
	}

	user, err := m.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.UserState{}, fmt.Errorf("load user: %w", err)
	}
	if user != nil && user.HasActiveSession() {
		return domain.Active(user.ActiveSessionID), nil
	}
	return domain.UserState{Kind: domain.StateIdle}, nil
}
