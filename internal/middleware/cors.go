// Package middleware provides HTTP middleware for the companion API.
package middleware

import (
	"net/http"

	"github.com/ashureev/companion/internal/identity"
)

// CORS returns middleware that handles CORS headers.
// Only explicitly listed origins may send the adapter identity headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			explicit := false
			for _, o := range allowedOrigins {
				if o != "*" && o == origin {
					explicit = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				if explicit {
					w.Header().Set("Access-Control-Allow-Headers",
						"Content-Type, "+identity.UserHeaderName+", "+identity.TokenHeaderName)
					// Setting Allow-Credentials with a wildcard-echoed origin enables CSRF.
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				} else {
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
