package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
)

type ProfileRepo struct {
	DB DBTX
}

const createProfile = `-- name: CreateProfile
INSERT INTO profiles (id, user_id, first_name, last_name, bio, avatar_url)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, first_name, last_name, bio, avatar_url, created_at, updated_at
`

func (r *ProfileRepo) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, createProfile, p.ID, p.UserID, p.FirstName, p.LastName, p.Bio, p.AvatarURL)
	profile, err := pgx.CollectOneRow(rows, rowToProfile)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return profile, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return profile, apperrors.ErrProfileConflict
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
		return profile, apperrors.ErrUserNotFound
	default:
		return profile, fmt.Errorf("db error: %w", err)
	}
}

const getProfile = `-- name: GetProfile
SELECT id, user_id, first_name, last_name, bio, avatar_url, created_at, updated_at
FROM profiles
WHERE user_id = $1
`

func (r *ProfileRepo) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	rows, _ := r.DB.Query(ctx, getProfile, userID)
	profile, err := pgx.CollectOneRow(rows, rowToProfile)

	switch {
	case err == nil:
		return profile, nil
	case errors.Is(err, pgx.ErrNoRows):
		return profile, apperrors.ErrUserNotFound
	default:
		return profile, fmt.Errorf("db error: %w", err)
	}
}

func rowToProfile(row pgx.CollectableRow) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Bio, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
