// Package auth issues and validates bearer tokens and resolves them to
// identities for the websocket handshake and the HTTP middleware.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/apperr"
	"github.com/gigdesk/gigdesk/internal/model"
	"github.com/gigdesk/gigdesk/internal/store"
)

type ContextKey string

const IdentityKey ContextKey = "identity"

func HashPassword(password string) (string, error) {
	hashed, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("internal/auth: pw hash failed: %w", err)
	}

	return hashed, nil
}

func CheckPasswordHash(password, hash string) (bool, error) {
	isMatch, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("internal/auth: pw and hash comparison failed: %w", err)
	}

	return isMatch, nil
}

func MakeJWT(userID uuid.UUID, tokenSecret string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "gigdesk",
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})

	return token.SignedString([]byte(tokenSecret))
}

func ValidateJWT(tokenString, tokenSecret string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return uuid.UUID{}, errors.New("internal/auth: token is invalid")
	}

	if claims.Subject == "" {
		return uuid.UUID{}, errors.New("internal/auth: subject claim is missing")
	}

	return uuid.Parse(claims.Subject)
}

// Resolver authenticates a bearer credential into an Identity. Called exactly
// once per connection at handshake time; the result is cached on the
// connection and never re-resolved per event.
type Resolver struct {
	users  store.UserStore
	secret string
	expiry time.Duration
}

func NewResolver(users store.UserStore, secret string) *Resolver {
	return &Resolver{
		users:  users,
		secret: secret,
		expiry: 24 * time.Hour,
	}
}

// Authenticate validates the credential and resolves the principal. Every
// failure mode collapses to an unauthenticated error so callers reject the
// connection without leaking why.
func (r *Resolver) Authenticate(ctx context.Context, credential string) (model.Identity, error) {
	if credential == "" {
		return model.Identity{}, apperr.New(apperr.Unauthenticated, "missing credential")
	}

	userID, err := ValidateJWT(credential, r.secret)
	if err != nil {
		return model.Identity{}, apperr.Wrap(apperr.Unauthenticated, "invalid credential", err)
	}

	ident, err := r.users.FindIdentity(ctx, userID)
	if err != nil {
		return model.Identity{}, apperr.Wrap(apperr.Unauthenticated, "failed to resolve user", err)
	}
	if ident == nil {
		return model.Identity{}, apperr.New(apperr.Unauthenticated, "unknown user")
	}

	return *ident, nil
}

// IssueToken mints a bearer token for the user, used by the login handler.
func (r *Resolver) IssueToken(userID uuid.UUID) (string, error) {
	return MakeJWT(userID, r.secret, r.expiry)
}

// IdentityFromContext retrieves the identity placed by the HTTP middleware.
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	ident, ok := ctx.Value(IdentityKey).(model.Identity)
	if !ok {
		return model.Identity{}, errors.New("internal/auth: no identity in context")
	}
	return ident, nil
}
