package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

// Exchange refresh token to a new pair in the same family
// Only one of concurrent callers with the same token succeeds. Presenting already rotated
// token is a reuse: the whole family is compromised and ErrTokenReuseDetected returned
// Fails with ErrTokenRevoked, ErrTokenExpired, ErrRefreshTokenNotFound or ErrTokenReuseDetected
func (m *TokenManager) Rotate(ctx context.Context, refresh string) (models.TokenPair, error) {
	var (
		pair    models.TokenPair
		outcome error
	)

	if !isRefreshFormat(refresh) {
		return pair, apperrors.ErrTokenMalformed
	}
	hash := HashRefresh(refresh)
	now := m.clock()
	nextID := uuid.New()

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		prev, err := s.Refresh().MarkStatus(ctx, hash, repository.StatusChange{
			From:         models.TokenStatusActive,
			To:           models.TokenStatusRotated,
			At:           now,
			ReplacedByID: &nextID,
		})
		switch {
		case err == nil:
			pair, _, err = m.issue(ctx, s, prev.Identity(), prev.FamilyID, nextID, now)
			return err
		case !errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return err
		}

		// Token was not active: find out why
		token, err := s.Refresh().FindByHash(ctx, hash)
		if err != nil {
			return err
		}
		if token.Status == models.TokenStatusRotated {
			outcome = m.compromise(ctx, s, token, now)
			return nil // commit family revocation
		}

		outcome = statusError(token, now)
		if outcome == nil {
			return errors.New("active token was not rotated")
		}
		return nil
	})
	if err != nil {
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}
	if outcome != nil {
		return pair, fmt.Errorf("refresh token rejected. Err: %w", outcome)
	}

	return pair, nil
}

// Revoke refresh token (logout). Revoking already revoked token is ok
// Revoking rotated token is a reuse and compromises the family as Rotate does
func (m *TokenManager) Revoke(ctx context.Context, refresh string) error {
	var outcome error

	if !isRefreshFormat(refresh) {
		return apperrors.ErrTokenMalformed
	}
	hash := HashRefresh(refresh)
	now := m.clock()

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		_, err := s.Refresh().MarkStatus(ctx, hash, repository.StatusChange{
			From: models.TokenStatusActive,
			To:   models.TokenStatusRevoked,
			At:   now,
		})
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return err
		}

		token, err := s.Refresh().FindByHash(ctx, hash)
		if err != nil {
			return err
		}

		switch token.Status {
		case models.TokenStatusRevoked:
		case models.TokenStatusRotated:
			outcome = m.compromise(ctx, s, token, now)
		default:
			outcome = statusError(token, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	if outcome != nil {
		return fmt.Errorf("refresh token not revoked. Err: %w", outcome)
	}

	return nil
}

// Return refresh token record by hash, nothing changed
func (m *TokenManager) Lookup(ctx context.Context, hash string) (models.RefreshToken, error) {
	return m.storage.Refresh().FindByHash(ctx, hash)
}

// Revoke every active refresh token of the user
func (m *TokenManager) RevokeUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.RevokeUserIn(ctx, m.storage, userID)
}

// Revoke every active refresh token of the user within the caller's storage (transaction)
func (m *TokenManager) RevokeUserIn(ctx context.Context, s repository.Storage, userID uuid.UUID) (int64, error) {
	return s.Refresh().RevokeUser(ctx, userID, m.clock())
}

// Compromise token family on reuse. Return the error the caller should get
func (m *TokenManager) compromise(ctx context.Context, s repository.Storage, token models.RefreshToken, now time.Time) error {
	revoked, err := s.Refresh().CompromiseFamily(ctx, token.FamilyID, now)
	if err != nil {
		return err
	}

	m.logger.Warn("refresh token reuse detected, family revoked",
		"audit", true,
		"family_id", token.FamilyID.String(),
		"user_id", token.UserID.String(),
		"token_id", token.ID.String(),
		"revoked", revoked,
	)

	return apperrors.ErrTokenReuseDetected
}

// Map stored record status to the error. Return nil if token is usable at the moment
// Siblings revoked with a compromised family report ErrTokenRevoked here
func statusError(token models.RefreshToken, now time.Time) error {
	switch token.Status {
	case models.TokenStatusRevoked:
		return apperrors.ErrTokenRevoked
	case models.TokenStatusExpired:
		return apperrors.ErrTokenExpired
	case models.TokenStatusRotated:
		return apperrors.ErrTokenReuseDetected
	}

	if token.IsExpired(now) {
		return apperrors.ErrTokenExpired
	}
	return nil
}
