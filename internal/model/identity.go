package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal behind a connection. Immutable for
// the lifetime of the connection that resolved it.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
}

// User is the full account record. PasswordHash never leaves the server.
type User struct {
	ID           uuid.UUID `json:"id"`
	UserName     string    `json:"userName"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity projects the user into its connection-facing form.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, DisplayName: u.UserName, Role: u.Role}
}
