package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createFamily = `-- name: CreateFamily
INSERT INTO refresh_token_families (id, user_id, created_at)
VALUES ($1, $2, $3)
`

func (r *RefreshTokenRepo) CreateFamily(ctx context.Context, familyID uuid.UUID, userID uuid.UUID, createdAt time.Time) error {
	_, err := r.DB.Exec(ctx, createFamily, familyID, userID, createdAt)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const insertToken = `-- name: InsertToken
INSERT INTO refresh_tokens (id, family_id, user_id, email, token_hash, issued_at, expires_at, status, replaced_by_id, used_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, user_id, email, token_hash, family_id, issued_at, expires_at, status, replaced_by_id, used_at, revoked_at
`

func (r *RefreshTokenRepo) Insert(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	if t.Status == "" {
		t.Status = models.TokenStatusActive
	}

	rows, _ := r.DB.Query(ctx, insertToken,
		t.ID, t.FamilyID, t.UserID, t.Email, t.TokenHash, t.IssuedAt, t.ExpiresAt,
		string(t.Status), t.ReplacedByID, t.UsedAt, t.RevokedAt,
	)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const findByHash = `-- name: FindByHash
SELECT t.id, t.user_id, t.email, t.token_hash, t.family_id, t.issued_at, t.expires_at, t.status,
	t.replaced_by_id, t.used_at, t.revoked_at, f.compromised_at IS NOT NULL
FROM refresh_tokens t
JOIN refresh_token_families f ON f.id = t.family_id
WHERE t.token_hash = $1
`

// Get token by hash
// It should return result even it expired, used or revoked
func (r *RefreshTokenRepo) FindByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, findByHash, hash)
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var (
			t      models.RefreshToken
			status string
		)
		err := row.Scan(&t.ID, &t.UserID, &t.Email, &t.TokenHash, &t.FamilyID, &t.IssuedAt, &t.ExpiresAt, &status, &t.ReplacedByID, &t.UsedAt, &t.RevokedAt, &t.FamilyCompromised)
		t.Status = models.TokenStatus(status)
		return t, err
	})

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

// Row lock taken by UPDATE serializes concurrent callers: the second one re-checks
// 'status' after the first commits and updates nothing
const markStatus = `-- name: MarkStatus
UPDATE refresh_tokens
SET status = $3::text,
	replaced_by_id = COALESCE($4, replaced_by_id),
	used_at = CASE WHEN $3::text = 'rotated' THEN $5 ELSE used_at END,
	revoked_at = CASE WHEN $3::text = 'revoked' THEN $5 ELSE revoked_at END
WHERE token_hash = $1
	AND status = $2::text
	AND expires_at > $5
RETURNING id, user_id, email, token_hash, family_id, issued_at, expires_at, status, replaced_by_id, used_at, revoked_at
`

func (r *RefreshTokenRepo) MarkStatus(ctx context.Context, hash string, change repository.StatusChange) (models.RefreshToken, error) {
	if change.To == models.TokenStatusRotated && change.ReplacedByID == nil {
		return models.RefreshToken{}, errors.New("rotated token requires successor")
	}

	rows, _ := r.DB.Query(ctx, markStatus, hash, string(change.From), string(change.To), change.ReplacedByID, change.At)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const compromiseFamily = `-- name: CompromiseFamily
WITH family AS (
	UPDATE refresh_token_families
	SET compromised_at = COALESCE(compromised_at, $2)
	WHERE id = $1
	RETURNING id
)
UPDATE refresh_tokens
SET status = 'revoked', revoked_at = $2
WHERE family_id IN (SELECT id FROM family) AND status = 'active'
`

func (r *RefreshTokenRepo) CompromiseFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, compromiseFamily, familyID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const revokeUser = `-- name: RevokeUser
UPDATE refresh_tokens
SET status = 'revoked', revoked_at = $2
WHERE user_id = $1 AND status = 'active'
`

func (r *RefreshTokenRepo) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeUser, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const expireStale = `-- name: ExpireStale
UPDATE refresh_tokens
SET status = 'expired'
WHERE status = 'active' AND expires_at <= $1
`

func (r *RefreshTokenRepo) ExpireStale(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, expireStale, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const deleteExpiredTokens = `-- name: DeleteExpiredTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

const deleteEmptyFamilies = `-- name: DeleteEmptyFamilies
DELETE FROM refresh_token_families f
WHERE f.created_at < $1
	AND NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.family_id = f.id)
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	_, err = r.DB.Exec(ctx, deleteEmptyFamilies, before)
	if err != nil {
		return tag.RowsAffected(), fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var (
		t      models.RefreshToken
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Email, &t.TokenHash, &t.FamilyID, &t.IssuedAt, &t.ExpiresAt, &status, &t.ReplacedByID, &t.UsedAt, &t.RevokedAt)
	t.Status = models.TokenStatus(status)
	return t, err
}
