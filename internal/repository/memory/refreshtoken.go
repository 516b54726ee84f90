package memory

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

type RefreshTokenRepo struct {
	s *Storage
}

func (r *RefreshTokenRepo) CreateFamily(ctx context.Context, familyID uuid.UUID, userID uuid.UUID, createdAt time.Time) error {
	defer r.s.lock()()

	if _, ok := r.s.st.users[userID]; !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	if _, ok := r.s.st.families[familyID]; ok {
		return errors.New("repo error: family already exists")
	}

	r.s.st.families[familyID] = family{id: familyID, userID: userID, createdAt: createdAt}
	return nil
}

func (r *RefreshTokenRepo) Insert(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	defer r.s.lock()()

	if t.Status == "" {
		t.Status = models.TokenStatusActive
	}

	if _, ok := r.s.st.families[t.FamilyID]; !ok {
		return t, errors.New("repo error: family not found")
	}
	if _, ok := r.s.st.tokens[t.TokenHash]; ok {
		return t, errors.New("repo error: token hash already exists")
	}
	if t.Status == models.TokenStatusActive {
		for _, other := range r.s.st.tokens {
			if other.FamilyID == t.FamilyID && other.Status == models.TokenStatusActive {
				return t, errors.New("repo error: family has active token already")
			}
		}
	}

	r.s.st.tokens[t.TokenHash] = t
	return t, nil
}

func (r *RefreshTokenRepo) FindByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	defer r.s.lock()()

	t, ok := r.s.st.tokens[hash]
	if !ok {
		return t, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	t.FamilyCompromised = r.s.st.families[t.FamilyID].compromisedAt != nil

	return t, nil
}

func (r *RefreshTokenRepo) MarkStatus(ctx context.Context, hash string, change repository.StatusChange) (models.RefreshToken, error) {
	if change.To == models.TokenStatusRotated && change.ReplacedByID == nil {
		return models.RefreshToken{}, errors.New("rotated token requires successor")
	}

	defer r.s.lock()()

	t, ok := r.s.st.tokens[hash]
	if !ok || t.Status != change.From || t.IsExpired(change.At) {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	at := change.At
	t.Status = change.To
	if change.ReplacedByID != nil {
		id := *change.ReplacedByID
		t.ReplacedByID = &id
	}
	switch change.To {
	case models.TokenStatusRotated:
		t.UsedAt = &at
	case models.TokenStatusRevoked:
		t.RevokedAt = &at
	}
	r.s.st.tokens[hash] = t

	return t, nil
}

func (r *RefreshTokenRepo) CompromiseFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock()()

	f, ok := r.s.st.families[familyID]
	if !ok {
		return 0, nil
	}
	if f.compromisedAt == nil {
		f.compromisedAt = &at
		r.s.st.families[familyID] = f
	}

	return r.revokeWhere(at, func(t models.RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (r *RefreshTokenRepo) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock()()

	return r.revokeWhere(at, func(t models.RefreshToken) bool { return t.UserID == userID }), nil
}

// Revoke active tokens matching the filter. Caller holds the lock
func (r *RefreshTokenRepo) revokeWhere(at time.Time, match func(models.RefreshToken) bool) int64 {
	var revoked int64
	for hash, t := range r.s.st.tokens {
		if t.Status != models.TokenStatusActive || !match(t) {
			continue
		}
		t.Status = models.TokenStatusRevoked
		t.RevokedAt = &at
		r.s.st.tokens[hash] = t
		revoked++
	}
	return revoked
}

func (r *RefreshTokenRepo) ExpireStale(ctx context.Context, at time.Time) (int64, error) {
	defer r.s.lock()()

	var expired int64
	for hash, t := range r.s.st.tokens {
		if t.Status == models.TokenStatusActive && t.IsExpired(at) {
			t.Status = models.TokenStatusExpired
			r.s.st.tokens[hash] = t
			expired++
		}
	}
	return expired, nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock()()

	var deleted int64
	alive := make(map[uuid.UUID]bool)
	for hash, t := range r.s.st.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.s.st.tokens, hash)
			deleted++
			continue
		}
		alive[t.FamilyID] = true
	}

	for id, f := range r.s.st.families {
		if !alive[id] && f.createdAt.Before(before) {
			delete(r.s.st.families, id)
		}
	}

	return deleted, nil
}
