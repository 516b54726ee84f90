package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
)

type ProfileRepo struct {
	s *Storage
}

func (r *ProfileRepo) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	defer r.s.lock()()

	if _, ok := r.s.st.users[p.UserID]; !ok {
		return p, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	if _, ok := r.s.st.profiles[p.UserID]; ok {
		return p, fmt.Errorf("repo error: %w", apperrors.ErrProfileConflict)
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.s.st.profiles[p.UserID] = p

	return p, nil
}

func (r *ProfileRepo) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	defer r.s.lock()()

	p, ok := r.s.st.profiles[userID]
	if !ok {
		return p, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return p, nil
}
