package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error)

	// Get user by it's id or email (case insensitive)
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Delete user with everything depends on it
	// If user not found must return apperrors.ErrUserNotFound
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// Profile repository interface
type ProfileRepo interface {
	// Create profile. If user has profile already must return apperrors.ErrProfileConflict
	CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error)

	// If profile not found must return apperrors.ErrUserNotFound
	GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error)
}

// Conditional status change of the refresh token record
type StatusChange struct {
	From models.TokenStatus
	To   models.TokenStatus

	// Moment of change. Records expired at this moment are not changed
	At time.Time

	// Successor of the record, required when To is models.TokenStatusRotated
	ReplacedByID *uuid.UUID
}

// RefreshToken repository interface
// Tokens are addressed by hash only, raw values never reach the repository
type RefreshTokenRepo interface {
	// Create token family (tokens descended from one login)
	CreateFamily(ctx context.Context, familyID uuid.UUID, userID uuid.UUID, createdAt time.Time) error

	// Insert new token record
	Insert(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token by its hash even if it expired, used or revoked
	// Record status is returned as stored, FamilyCompromised is set for members of compromised family
	// If not found must return apperrors.ErrRefreshTokenNotFound
	FindByHash(ctx context.Context, hash string) (models.RefreshToken, error)

	// Change status if current status is change.From and record is not expired at change.At
	// Must be atomic: of concurrent callers with the same hash only one may succeed
	// If nothing updated must return apperrors.ErrRefreshTokenNotFound
	MarkStatus(ctx context.Context, hash string, change StatusChange) (models.RefreshToken, error)

	// Mark family compromised and revoke all of its active tokens
	CompromiseFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (revoked int64, err error)

	// Revoke all active tokens of the user
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) (revoked int64, err error)

	// Mark active tokens expired at the moment as expired
	ExpireStale(ctx context.Context, at time.Time) (expired int64, err error)

	// Delete tokens expired before the moment and families left empty
	DeleteExpired(ctx context.Context, before time.Time) (deleted int64, err error)
}

type Storage interface {
	User() UserRepo
	Profile() ProfileRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction. If fn returns error the transaction is rolled back
	InTx(ctx context.Context, fn func(Storage) error) error
}
