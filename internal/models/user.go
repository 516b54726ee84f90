package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Email          string
	HashedPassword string
}

// Identity is the part of the user that is carried inside tokens
type Identity struct {
	UserID uuid.UUID
	Email  string
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email}
}

type Profile struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FirstName *string
	LastName  *string
	Bio       *string
	AvatarURL *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
