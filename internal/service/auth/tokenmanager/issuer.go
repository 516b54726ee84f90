package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

// Refresh token length in bytes, encoded as twice longer hex string
const refreshTokenBytes = 32

// Issue pair of tokens for the identity in a new token family
// Refresh token value is returned only here, only its hash is persisted
func (m *TokenManager) Issue(ctx context.Context, identity models.Identity) (models.TokenPair, models.RefreshToken, error) {
	return m.IssueIn(ctx, m.storage, identity)
}

// Issue pair within the caller's storage, so tokens are saved only if the caller's transaction commits
func (m *TokenManager) IssueIn(ctx context.Context, storage repository.Storage, identity models.Identity) (models.TokenPair, models.RefreshToken, error) {
	var (
		pair   models.TokenPair
		record models.RefreshToken
	)
	now := m.clock()
	familyID := uuid.New()

	err := storage.InTx(ctx, func(s repository.Storage) error {
		err := s.Refresh().CreateFamily(ctx, familyID, identity.UserID, now)
		if err != nil {
			return err
		}

		pair, record, err = m.issue(ctx, s, identity, familyID, uuid.New(), now)
		return err
	})
	if err != nil {
		return pair, record, fmt.Errorf("error while issuing tokens. Err: %w", err)
	}

	return pair, record, nil
}

// Sign access token and save refresh token record with the id to the family
func (m *TokenManager) issue(ctx context.Context, s repository.Storage, identity models.Identity, familyID uuid.UUID, refreshID uuid.UUID, now time.Time) (models.TokenPair, models.RefreshToken, error) {
	var pair models.TokenPair

	access, accessExpiresAt, err := m.signAccess(identity, now)
	if err != nil {
		return pair, models.RefreshToken{}, err
	}

	refresh, err := generateRefresh()
	if err != nil {
		return pair, models.RefreshToken{}, err
	}

	record, err := s.Refresh().Insert(ctx, models.RefreshToken{
		ID:        refreshID,
		UserID:    identity.UserID,
		Email:     identity.Email,
		TokenHash: HashRefresh(refresh),
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.refreshTTL),
		Status:    models.TokenStatusActive,
	})
	if err != nil {
		return pair, record, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: record.ExpiresAt},
	}, record, nil
}

func (m *TokenManager) signAccess(identity models.Identity, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   identity.UserID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Email: identity.Email,
		},
	)

	access, err := token.SignedString(m.key)
	if err != nil {
		return "", expiresAt, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return access, expiresAt, nil
}

func generateRefresh() (string, error) {
	b := make([]byte, refreshTokenBytes)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash of refresh token as it stored, hex encoded sha256
func HashRefresh(refresh string) string {
	sum := sha256.Sum256([]byte(refresh))
	return hex.EncodeToString(sum[:])
}
