// Package llm talks to text-generation backends and decodes their free-form output.
package llm

import (
	"context"
	"errors"
	"time"
)

// Tier selects between the fast/cheap model and the primary chat model.
type Tier string

const (
	TierCheap   Tier = "cheap"
	TierPrimary Tier = "primary"
)

// Role of a message in a model conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role/content pair sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
// JSON asks the backend for machine-parseable output; callers must still
// tolerate malformed text.
type Request struct {
	Tier     Tier
	Messages []Message
	JSON     bool
}

// Backend produces free-form text for a request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when a backend answers without any text
// (for example when the prompt was blocked).
var ErrEmptyResponse = errors.New("empty model response")

// Models maps tiers to provider model names.
type Models struct {
	Primary string
	Cheap   string
}

// For returns the model name for a tier, falling back to the primary model.
func (m Models) For(t Tier) string {
	if t == TierCheap && m.Cheap != "" {
		return m.Cheap
	}
	return m.Primary
}

type timeoutBackend struct {
	next    Backend
	timeout time.Duration
}

// WithTimeout bounds every call of next by d. A non-positive d returns next unchanged.
func WithTimeout(next Backend, d time.Duration) Backend {
	if d <= 0 {
		return next
	}
	return &timeoutBackend{next: next, timeout: d}
}

func (b *timeoutBackend) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Complete(ctx, req)
}
