package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/companion/internal/companion"
	"github.com/ashureev/companion/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// ConnRegistry tracks the live chat socket of each user. A new socket
// replaces the previous one so replies never interleave across tabs.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]*websocket.Conn)}
}

// Active returns the user's live connection, if any.
func (m *ConnRegistry) Active(userID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID]
}

// Register stores conn for userID, closing any previous connection.
func (m *ConnRegistry) Register(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	existing, ok := m.active[userID]
	m.active[userID] = conn
	m.mu.Unlock()

	// Close waits for the peer's handshake.
	if ok && existing != conn {
		go func() {
			_ = existing.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}()
	}
	slog.Info("Chat socket registered", "user_id", userID)
}

// Unregister removes conn if it is still the user's current connection.
func (m *ConnRegistry) Unregister(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[userID]; ok && current == conn {
		delete(m.active, userID)
		slog.Info("Chat socket unregistered", "user_id", userID)
	}
}

// CloseAll closes every live socket with StatusGoingAway and waits for the
// close handshakes. Used on shutdown since hijacked connections outlive
// http.Server.Shutdown.
func (m *ConnRegistry) CloseAll() {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[string]*websocket.Conn)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for userID, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
		slog.Info("Chat socket closed for shutdown", "user_id", userID)
	}
	wg.Wait()
}

// wsRequest is an inbound chat frame.
type wsRequest struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// wsResponse is an outbound chat frame.
type wsResponse struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	PhotoURL  string           `json:"photo_url,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Notice    bool             `json:"notice,omitempty"`
	Error     string           `json:"error,omitempty"`
	Sessions  []SessionSummary `json:"sessions,omitempty"`
	State     *StateResponse   `json:"state,omitempty"`
}

// WebSocketHandler serves /ws/chat, dispatching JSON frames to the same
// operations as the REST endpoints.
type WebSocketHandler struct {
	*Handler
	conns         *ConnRegistry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *Handler, conns *ConnRegistry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		Handler:       base,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "username", identity.UsernameFromContext(r.Context()), "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, ws)
	defer h.conns.Unregister(userID, ws)

	h.readLoop(r.Context(), ws, userID)
	slog.Info("Chat socket closed", "user_id", userID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.send(ctx, ws, userID, wsResponse{Type: "error", Error: "invalid frame"})
			continue
		}

		h.send(ctx, ws, userID, h.dispatch(ctx, userID, req))
	}
}

//nolint:gocyclo // One case per frame type keeps the protocol readable.
func (h *WebSocketHandler) dispatch(ctx context.Context, userID string, req wsRequest) wsResponse {
	var (
		reply *companion.Reply
		err   error
	)

	switch req.Type {
	case "ping":
		return wsResponse{Type: "pong"}
	case "search":
		reply, err = h.svc.Search(ctx, userID)
	case "next":
		reply, err = h.svc.Next(ctx, userID)
	case "commit":
		reply, err = h.svc.Commit(ctx, userID)
	case "exit":
		reply, err = h.svc.Exit(ctx, userID)
	case "switch":
		reply, err = h.svc.Switch(ctx, userID, req.SessionID)
	case "delete":
		sessionID := req.SessionID
		if sessionID == activeSessionAlias {
			sessionID = ""
		}
		reply, err = h.svc.Delete(ctx, userID, sessionID)
	case "message":
		text, verr := normalizeMessage(req.Text)
		if verr != nil {
			return wsResponse{Type: "error", Error: verr.Error()}
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
			return wsResponse{Type: "error", Error: "rate limit exceeded"}
		}
		reply, err = h.svc.Message(ctx, userID, text)
	case "list":
		sessions, lerr := h.svc.List(ctx, userID)
		if lerr != nil {
			slog.Error("Failed to list sessions", "user_id", userID, "error", lerr)
			return wsResponse{Type: "error", Error: "internal error"}
		}
		return wsResponse{Type: "sessions", Sessions: summarize(sessions)}
	case "state":
		st, serr := h.svc.State(ctx, userID)
		if serr != nil {
			slog.Error("Failed to load state", "user_id", userID, "error", serr)
			return wsResponse{Type: "error", Error: "internal error"}
		}
		resp := stateResponse(st)
		return wsResponse{Type: "state", State: &resp}
	default:
		return wsResponse{Type: "error", Error: "unknown frame type"}
	}

	if errors.Is(err, companion.ErrSessionNotFound) {
		return wsResponse{Type: "error", Error: "session not found"}
	}
	if err != nil {
		slog.Error("Companion operation failed", "op", req.Type, "user_id", userID, "error", err)
		return wsResponse{Type: "error", Error: "internal error"}
	}

	out := h.toResponse(reply)
	return wsResponse{
		Type:      "reply",
		Text:      out.Text,
		PhotoURL:  out.PhotoURL,
		SessionID: out.SessionID,
		Notice:    out.Notice,
	}
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, userID string, v wsResponse) {
	if err := writeJSON(ctx, ws, v); err != nil {
		slog.Debug("Failed to write chat frame", "error", err, "user_id", userID)
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
