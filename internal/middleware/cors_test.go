package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/companion/internal/identity"
)

func preflight(origins []string, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/state", nil)
	req.Header.Set("Origin", origin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSExplicitOriginAllowsIdentityHeaders(t *testing.T) {
	w := preflight([]string{"https://app.example"}, "https://app.example")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", w.Code)
	}
	allow := w.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allow, identity.UserHeaderName) || !strings.Contains(allow, identity.TokenHeaderName) {
		t.Fatalf("expected identity headers to be allowed, got %q", allow)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials for explicit origin")
	}
}

func TestCORSWildcardOmitsIdentityHeaders(t *testing.T) {
	w := preflight([]string{"*"}, "https://evil.example")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://evil.example" {
		t.Fatalf("expected echoed origin, got %q", got)
	}
	allow := w.Header().Get("Access-Control-Allow-Headers")
	if strings.Contains(allow, identity.UserHeaderName) || strings.Contains(allow, identity.TokenHeaderName) {
		t.Fatalf("wildcard origin must not be offered identity headers, got %q", allow)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard origin must not get credentials")
	}
}

func TestCORSUnknownOrigin(t *testing.T) {
	w := preflight([]string{"https://app.example"}, "https://evil.example")

	if w.Header().Get("Access-Control-Allow-Origin") != "" || w.Header().Get("Access-Control-Allow-Headers") != "" {
		t.Fatalf("expected no CORS headers, got %v", w.Header())
	}
}
