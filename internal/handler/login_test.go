package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigdesk/gigdesk/internal/auth"
	"github.com/gigdesk/gigdesk/internal/model"
	"github.com/gigdesk/gigdesk/internal/store"
)

func TestServeLogin(t *testing.T) {
	users := store.NewMemoryStore()
	resolver := auth.NewResolver(users, "test-secret")

	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	user, err := users.CreateUser(context.Background(), "ada", "ada@example.com", "freelancer", hash)
	require.NoError(t, err)

	handler := ServeLogin(users, resolver)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := post(`{"email":"ada@example.com","password":"correct horse"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Token string         `json:"token"`
			User  model.Identity `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, user.ID, resp.User.ID)
		assert.Equal(t, "ada", resp.User.DisplayName)

		// The token it mints must pass the same resolver the gateway uses.
		ident, err := resolver.Authenticate(context.Background(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, ident.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := post(`{"email":"ada@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		rec := post(`{"email":"nobody@example.com","password":"correct horse"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := post(`{"email":"ada@example.com"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := post(`{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
