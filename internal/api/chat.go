package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/companion/internal/companion"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	maxMessageBodySize = 16 << 10
	maxMessageLength   = 4000
	activeSessionAlias = "active"
)

// ReplyResponse is the body of every conversation endpoint.
type ReplyResponse struct {
	Text      string `json:"text"`
	PhotoURL  string `json:"photo_url,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Notice    bool   `json:"notice,omitempty"`
}

// SessionSummary describes one conversation in the session list.
type SessionSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Affinity  int       `json:"affinity"`
	Mood      string    `json:"mood"`
	Turns     int       `json:"turns"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateResponse reports the caller's position in the conversation flow.
type StateResponse struct {
	State     string          `json:"state"`
	Candidate *domain.Persona `json:"candidate,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) toResponse(reply *companion.Reply) ReplyResponse {
	return ReplyResponse{
		Text:      reply.Text,
		PhotoURL:  h.photos.URL(reply.Photo),
		SessionID: reply.SessionID,
		Notice:    reply.Notice,
	}
}

func summarize(sessions []*domain.Session) []SessionSummary {
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			ID:        s.ID,
			Name:      s.Persona.Name,
			Age:       s.Persona.Age,
			Affinity:  s.Affinity,
			Mood:      string(companion.MoodFor(s.Affinity)),
			Turns:     len(s.History),
			Active:    s.Active,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return out
}

func stateResponse(st domain.UserState) StateResponse {
	return StateResponse{State: st.Kind.String(), Candidate: st.Candidate, SessionID: st.SessionID}
}

// RegisterRoutes registers conversation routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/search", h.action(h.svc.Search))
		r.Post("/next", h.action(h.svc.Next))
		r.Post("/commit", h.action(h.svc.Commit))
		r.Post("/exit", h.action(h.svc.Exit))
		r.Post("/message", h.HandleMessage)
		r.Get("/state", h.HandleState)
		r.Get("/sessions", h.HandleListSessions)
		r.Post("/sessions/{id}/switch", h.HandleSwitch)
		r.Delete("/sessions/{id}", h.HandleDelete)
	})
}

func userFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func (h *Handler) writeReply(w http.ResponseWriter, r *http.Request, op, userID string, reply *companion.Reply, err error) {
	if errors.Is(err, companion.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Companion operation failed",
			"op", op,
			"user_id", userID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	JSON(w, http.StatusOK, h.toResponse(reply))
}

// action adapts a user-only operation to an HTTP handler.
func (h *Handler) action(fn func(ctx context.Context, userID string) (*companion.Reply, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFromRequest(w, r)
		if !ok {
			return
		}
		reply, err := fn(r.Context(), userID)
		h.writeReply(w, r, r.URL.Path, userID, reply, err)
	}
}

// HandleMessage handles POST /api/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBodySize)
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text, err := normalizeMessage(req.Text)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		slog.Warn("Message rate limit exceeded", "user_id", userID, "ip", identity.IPFromRequest(r))
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reply, err := h.svc.Message(r.Context(), userID, text)
	h.writeReply(w, r, "message", userID, reply, err)
}

func normalizeMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("text is required")
	}
	if len([]rune(text)) > maxMessageLength {
		return "", errors.New("text is too long")
	}
	return text, nil
}

// HandleSwitch handles POST /api/sessions/{id}/switch.
func (h *Handler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	reply, err := h.svc.Switch(r.Context(), userID, chi.URLParam(r, "id"))
	h.writeReply(w, r, "switch", userID, reply, err)
}

// HandleDelete handles DELETE /api/sessions/{id}. The id "active" names the
// caller's current session.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")
	if sessionID == activeSessionAlias {
		sessionID = ""
	}
	reply, err := h.svc.Delete(r.Context(), userID, sessionID)
	h.writeReply(w, r, "delete", userID, reply, err)
}

// HandleListSessions handles GET /api/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	sessions, err := h.svc.List(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": summarize(sessions)})
}

// HandleState handles GET /api/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	st, err := h.svc.State(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load state", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	JSON(w, http.StatusOK, stateResponse(st))
}
