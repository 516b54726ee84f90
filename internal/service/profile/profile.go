package profile

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

type ProfileService struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *ProfileService {
	return &ProfileService{storage: storage}
}

// Get user profile. Return apperrors.ErrUserNotFound if user has no profile
func (s *ProfileService) Get(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	profile, err := s.storage.Profile().GetProfile(ctx, userID)
	if err != nil {
		return profile, fmt.Errorf("can't get profile. Err: %w", err)
	}
	return profile, nil
}
