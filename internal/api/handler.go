// Package api provides HTTP handlers for the companion API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/companion/internal/companion"
	"github.com/ashureev/companion/internal/domain"
)

// Companion is the conversation surface the transports drive.
type Companion interface {
	Search(ctx context.Context, userID string) (*companion.Reply, error)
	Next(ctx context.Context, userID string) (*companion.Reply, error)
	Commit(ctx context.Context, userID string) (*companion.Reply, error)
	Message(ctx context.Context, userID, text string) (*companion.Reply, error)
	Switch(ctx context.Context, userID, sessionID string) (*companion.Reply, error)
	Exit(ctx context.Context, userID string) (*companion.Reply, error)
	Delete(ctx context.Context, userID, sessionID string) (*companion.Reply, error)
	List(ctx context.Context, userID string) ([]*domain.Session, error)
	State(ctx context.Context, userID string) (domain.UserState, error)
}

// Handler provides common handler utilities.
type Handler struct {
	svc         Companion
	photos      PhotoRenderer
	rateLimiter *RateLimiter
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc Companion, photos PhotoRenderer, limiter *RateLimiter) *Handler {
	return &Handler{
		svc:         svc,
		photos:      photos,
		rateLimiter: limiter,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
