package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
)

// Longer tokens are rejected before parsing
const maxAccessTokenLen = 4096

// Parse and validate access token. No I/O involved
func (m *TokenManager) VerifyAccess(access string) (models.Identity, error) {
	if !isJWTFormat(access) {
		return models.Identity{}, apperrors.ErrTokenMalformed
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, apperrors.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return models.Identity{}, apperrors.ErrTokenBadSignature
	default:
		return models.Identity{}, fmt.Errorf("%w: %w", apperrors.ErrTokenMalformed, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.Email == "" {
		return models.Identity{}, apperrors.ErrTokenMalformed
	}

	return models.Identity{UserID: userID, Email: claims.Email}, nil
}

// Check refresh token is usable and return identity it was issued to
// Nothing changed even if the token was rotated already
// Members of compromised family fail with ErrTokenCompromised
func (m *TokenManager) VerifyRefresh(ctx context.Context, refresh string) (models.Identity, error) {
	if !isRefreshFormat(refresh) {
		return models.Identity{}, apperrors.ErrTokenMalformed
	}

	token, err := m.Lookup(ctx, HashRefresh(refresh))
	if err != nil {
		return models.Identity{}, err
	}
	if token.EffectiveStatus() == models.TokenStatusCompromised {
		return models.Identity{}, apperrors.ErrTokenCompromised
	}

	if err := statusError(token, m.clock()); err != nil {
		return models.Identity{}, err
	}

	return token.Identity(), nil
}

// Three non empty base64url segments
func isJWTFormat(token string) bool {
	if token == "" || len(token) > maxAccessTokenLen {
		return false
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return false
	}
	for _, s := range segments {
		if s == "" {
			return false
		}
		for _, c := range s {
			if !isBase64URL(c) {
				return false
			}
		}
	}
	return true
}

func isBase64URL(c rune) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// Exactly 64 lowercase hex letters
func isRefreshFormat(token string) bool {
	if len(token) != 2*refreshTokenBytes {
		return false
	}
	for _, c := range token {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
