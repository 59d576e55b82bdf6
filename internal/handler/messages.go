package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/store"
)

// ServeMessages loads conversation history for the authenticated user,
// oldest first, so the client can render before opening the websocket.
func ServeMessages(messages store.MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := auth.IdentityFromContext(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		otherParty, err := uuid.Parse(r.URL.Query().Get("otherPartyId"))
		if err != nil {
			http.Error(w, "otherPartyId is required", http.StatusBadRequest)
			return
		}

		var projectID *uuid.UUID
		if raw := r.URL.Query().Get("projectId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid projectId", http.StatusBadRequest)
				return
			}
			projectID = &id
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		list, err := messages.FindConversation(ctx, identity.ID, otherParty, projectID, limit, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("failed to load messages: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			log.Printf("failed to encode messages: %v", err)
		}
	}
}

// ServeUnreadCount reports how many messages await the authenticated user.
func ServeUnreadCount(messages store.MessageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := auth.IdentityFromContext(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		count, err := messages.UnreadCount(ctx, identity.ID)
		if err != nil {
			log.Printf("failed to count unread messages: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int64{"count": count}); err != nil {
			log.Printf("failed to encode count: %v", err)
		}
	}
}
