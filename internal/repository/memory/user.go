package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/models"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error) {
	defer r.s.lock()()

	for _, u := range r.s.st.users {
		if strings.EqualFold(u.Email, email) {
			return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
		}
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now(),
		Email:          email,
		HashedPassword: hashedPassword,
	}
	r.s.st.users[user.ID] = user

	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	defer r.s.lock()()

	user, ok := r.s.st.users[userID]
	if !ok {
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return user, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	defer r.s.lock()()

	for _, u := range r.s.st.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
}

// Delete user with profile and refresh tokens, the same way db cascade does
func (r *UserRepo) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	defer r.s.lock()()

	if _, ok := r.s.st.users[userID]; !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	delete(r.s.st.users, userID)
	delete(r.s.st.profiles, userID)
	for id, f := range r.s.st.families {
		if f.userID == userID {
			delete(r.s.st.families, id)
		}
	}
	for hash, t := range r.s.st.tokens {
		if t.UserID == userID {
			delete(r.s.st.tokens, hash)
		}
	}

	return nil
}
