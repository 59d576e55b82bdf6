// Package store persists chat messages and user accounts. PostgresStore is
// the production backend; MemoryStore backs tests and local development.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/model"
)

// MessageStore is the durable side of a conversation. Lookups that miss
// return (nil, nil) rather than an error; callers decide whether absence is a
// failure.
type MessageStore interface {
	// Create persists a new message. The body must be non-empty after
	// trimming; otherwise a validation error is returned. No receiver
	// existence check happens here; the gateway validates participants.
	Create(ctx context.Context, senderID, receiverID uuid.UUID, body string, projectID *uuid.UUID) (*model.Message, error)

	// FindByID returns the message or nil when it no longer exists.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error)

	// FindConversation returns messages exchanged between the two users in
	// either direction, oldest first. Offset pages backwards from the most
	// recent message, so (limit=50, offset=0) is the latest window.
	FindConversation(ctx context.Context, a, b uuid.UUID, projectID *uuid.UUID, limit, offset int) ([]model.Message, error)

	// MarkAllSeen flags every unread message sent by otherPartyID to
	// viewerID as read and seen, optionally scoped to a project, and
	// returns the ids affected so the sender can be notified.
	MarkAllSeen(ctx context.Context, viewerID, otherPartyID uuid.UUID, projectID *uuid.UUID) ([]uuid.UUID, error)

	// UpdateBody replaces the body and bumps UpdatedAt. Returns nil when
	// the message has already been deleted.
	UpdateBody(ctx context.Context, id uuid.UUID, body string) (*model.Message, error)

	// Delete removes the message. Idempotent; false when already absent.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// UnreadCount counts messages addressed to the user not yet read.
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

// UserStore resolves account records for the handshake and for receiver
// validation on send.
type UserStore interface {
	// FindIdentity returns the connection-facing identity, or nil when the
	// user does not exist.
	FindIdentity(ctx context.Context, id uuid.UUID) (*model.Identity, error)

	// FindUserByEmail returns the full record including the password hash,
	// or nil when no account matches.
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateUser registers an account with a pre-hashed password.
	CreateUser(ctx context.Context, userName, email, role, passwordHash string) (*model.User, error)
}
