// Package model defines data structure.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the persisted unit of a conversation between two users,
// optionally scoped to a shared project. The wire name for the body is
// "message" to match the client protocol.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	SenderID   uuid.UUID  `json:"senderId"`
	ReceiverID uuid.UUID  `json:"receiverId"`
	Body       string     `json:"message"`
	ProjectID  *uuid.UUID `json:"projectId"`
	Read       bool       `json:"read"`
	SeenAt     *time.Time `json:"seenAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Involves reports whether the given user is the sender or the receiver.
func (m Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}
