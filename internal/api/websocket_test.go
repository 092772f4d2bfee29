//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/companion/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialChat(t *testing.T, ctx context.Context, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			identity.UserHeaderName:  []string{user},
			identity.TokenHeaderName: []string{testAdapterToken},
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, req wsRequest) wsResponse {
	t.Helper()
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("write %s: %v", req.Type, err)
	}
	var resp wsResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read %s: %v", req.Type, err)
	}
	return resp
}

func TestWebSocketChatFlow(t *testing.T) {
	ts := newTestServer(t, 10)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn := dialChat(t, ctx, srv, "tg:ws")

	if resp := roundTrip(t, ctx, conn, wsRequest{Type: "ping"}); resp.Type != "pong" {
		t.Fatalf("expected pong, got %+v", resp)
	}

	found := roundTrip(t, ctx, conn, wsRequest{Type: "search"})
	if found.Type != "reply" || !strings.Contains(found.Text, "Masha") || found.PhotoURL == "" {
		t.Fatalf("unexpected search frame: %+v", found)
	}

	committed := roundTrip(t, ctx, conn, wsRequest{Type: "commit"})
	if committed.SessionID == "" {
		t.Fatalf("expected session id on commit, got %+v", committed)
	}

	msg := roundTrip(t, ctx, conn, wsRequest{Type: "message", Text: "hello"})
	if msg.Text != "hi there" || msg.SessionID != committed.SessionID {
		t.Fatalf("unexpected message frame: %+v", msg)
	}

	list := roundTrip(t, ctx, conn, wsRequest{Type: "list"})
	if list.Type != "sessions" || len(list.Sessions) != 1 || list.Sessions[0].Affinity != 20 {
		t.Fatalf("unexpected list frame: %+v", list)
	}

	state := roundTrip(t, ctx, conn, wsRequest{Type: "state"})
	if state.State == nil || state.State.State != "active" {
		t.Fatalf("unexpected state frame: %+v", state)
	}

	if resp := roundTrip(t, ctx, conn, wsRequest{Type: "switch", SessionID: "missing"}); resp.Type != "error" {
		t.Fatalf("expected error for unknown session, got %+v", resp)
	}
	if resp := roundTrip(t, ctx, conn, wsRequest{Type: "dance"}); resp.Error != "unknown frame type" {
		t.Fatalf("expected unknown frame error, got %+v", resp)
	}

	exit := roundTrip(t, ctx, conn, wsRequest{Type: "exit"})
	if !exit.Notice {
		t.Fatalf("expected exit notice, got %+v", exit)
	}
}

func TestWebSocketNewConnectionReplacesOld(t *testing.T) {
	ts := newTestServer(t, 10)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dialChat(t, ctx, srv, "tg:tabs")
	// Make sure the first socket is registered before the second one arrives.
	roundTrip(t, ctx, first, wsRequest{Type: "ping"})

	second := dialChat(t, ctx, srv, "tg:tabs")
	if resp := roundTrip(t, ctx, second, wsRequest{Type: "ping"}); resp.Type != "pong" {
		t.Fatalf("expected second socket to work, got %+v", resp)
	}

	_, _, err := first.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected first socket to be closed with policy violation, got %v (%v)", status, err)
	}
}

func TestConnRegistryCloseAll(t *testing.T) {
	ts := newTestServer(t, 10)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialChat(t, ctx, srv, "tg:a")
	b := dialChat(t, ctx, srv, "tg:b")
	roundTrip(t, ctx, a, wsRequest{Type: "ping"})
	roundTrip(t, ctx, b, wsRequest{Type: "ping"})

	// Peers must keep reading so the close handshake can complete.
	statuses := make(chan websocket.StatusCode, 2)
	for _, conn := range []*websocket.Conn{a, b} {
		go func() {
			_, _, err := conn.Read(ctx)
			statuses <- websocket.CloseStatus(err)
		}()
	}

	ts.conns.CloseAll()

	for i := 0; i < 2; i++ {
		if status := <-statuses; status != websocket.StatusGoingAway {
			t.Fatalf("expected going-away close, got %v", status)
		}
	}
	if ts.conns.Active("tg:a") != nil || ts.conns.Active("tg:b") != nil {
		t.Fatal("expected registry to be empty after CloseAll")
	}
}

func TestConnRegistryUnregisterStale(t *testing.T) {
	reg := NewConnRegistry()
	current := &websocket.Conn{}
	stale := &websocket.Conn{}

	reg.Register("u1", current)
	reg.Unregister("u1", stale)
	if reg.Active("u1") != current {
		t.Fatal("expected stale unregister to keep the current connection")
	}

	reg.Unregister("u1", current)
	if reg.Active("u1") != nil {
		t.Fatal("expected connection to be removed")
	}
}
