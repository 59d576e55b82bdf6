// Package handler implements the HTTP surface around the realtime gateway:
// login, message history, and the websocket upgrade.
package handler

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"

	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

// ServeLogin verifies credentials and mints the bearer token the realtime
// handshake expects.
func ServeLogin(users store.UserStore, resolver *auth.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			http.Error(w, "email and password are required", http.StatusBadRequest)
			return
		}

		user, err := users.FindUserByEmail(ctx, req.Email)
		if err != nil {
			log.Printf("failed to retrieve user: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
			return
		}

		ok, err := auth.CheckPasswordHash(req.Password, user.PasswordHash)
		if err != nil {
			log.Printf("cannot verify password — hash may be corrupted: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
			return
		}

		token, err := resolver.IssueToken(user.ID)
		if err != nil {
			log.Printf("failed to make JWT: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(loginResponse{
			Token: token,
			User:  user.Identity(),
		}); err != nil {
			log.Printf("failed to encode response: %v", err)
			return
		}

		slog.InfoContext(ctx, "user logged in",
			slog.String("username", user.UserName))
	}
}
