package internal

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gigdesk/gigdesk/internal/auth"
)

// Middleware validates the client's bearer token and puts the resolved
// identity on the request context.
func Middleware(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			identity, err := resolver.Authenticate(r.Context(), token)
			if err != nil {
				log.Printf("middleware: %v", err)
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), auth.IdentityKey, identity))
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for websocket clients that cannot set
// headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.URL.Query().Get("token")
}
