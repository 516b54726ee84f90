package models

import (
	"time"

	"github.com/google/uuid"
)

// Refresh token record status
type TokenStatus string

const (
	TokenStatusActive      TokenStatus = "active"
	TokenStatusRotated     TokenStatus = "rotated"
	TokenStatusRevoked     TokenStatus = "revoked"
	TokenStatusExpired     TokenStatus = "expired"

	// Effective status of every member of a compromised family, never stored on the record
	TokenStatusCompromised TokenStatus = "compromised"
)

// Refresh token record. The token itself is never stored, only its hash
type RefreshToken struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Email        string
	TokenHash    string
	FamilyID     uuid.UUID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Status       TokenStatus
	ReplacedByID *uuid.UUID // set when status is rotated
	UsedAt       *time.Time
	RevokedAt    *time.Time

	// Set on lookup when the family was compromised by a reuse
	FamilyCompromised bool
}

func (t RefreshToken) Identity() Identity {
	return Identity{UserID: t.UserID, Email: t.Email}
}

// Status as seen by token holders: compromised family overrides the record status
func (t RefreshToken) EffectiveStatus() TokenStatus {
	if t.FamilyCompromised {
		return TokenStatusCompromised
	}
	return t.Status
}

// Whether the record is expired at the given moment
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
