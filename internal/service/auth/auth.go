package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

type TokenManager interface {
	Issue(ctx context.Context, identity models.Identity) (models.TokenPair, models.RefreshToken, error)
	Rotate(ctx context.Context, refresh string) (models.TokenPair, error)
	Revoke(ctx context.Context, refresh string) error
	VerifyAccess(access string) (models.Identity, error)

	// Variants working within the given storage, used inside service transactions
	IssueIn(ctx context.Context, storage repository.Storage, identity models.Identity) (models.TokenPair, models.RefreshToken, error)
	RevokeUserIn(ctx context.Context, storage repository.Storage, userID uuid.UUID) (int64, error)
}

type Config struct {
	// Hasher to use during user registration or login process
	// If not set DefaultHasher is used
	Hasher PasswordHasher

	Logger logger.Logger
}

// Auth service
type AuthService struct {
	// Manager to issue token pairs (access and refresh)
	tokens TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	// Hash compared when user not found, so unknown email costs the same as wrong password
	dummyHash string

	storage repository.Storage
	logger  logger.Logger
}

func NewService(cfg Config, tokens TokenManager, storage repository.Storage) (*AuthService, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	dummyHash, err := cfg.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("error while preparing hasher. Err: %w", err)
	}

	return &AuthService{
		tokens:    tokens,
		hasher:    cfg.Hasher,
		dummyHash: dummyHash,
		storage:   storage,
		logger:    cfg.Logger,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register user with empty profile and issue first token pair
// Nothing is saved if any step fails
func (s *AuthService) Register(ctx context.Context, email string, password string) (models.TokenPair, error) {
	var (
		user models.User
		pair models.TokenPair
	)

	if password == "" {
		return models.TokenPair{}, errors.New("password must not be empty")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		var err error
		user, err = storage.User().CreateUser(ctx, normalizeEmail(email), hash)
		if err != nil {
			return err
		}

		_, err = storage.Profile().CreateProfile(ctx, models.Profile{UserID: user.ID})
		if err != nil {
			return err
		}

		pair, _, err = s.tokens.IssueIn(ctx, storage, user.Identity())
		if err != nil {
			return fmt.Errorf("token could not generated, sorry. Err: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID.String())
	return pair, nil
}

// Login user with email and password
// Wrong password and unknown email both return apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("can't get user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, _, err := s.tokens.Issue(ctx, user.Identity())
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. Err: %w", err)
	}

	return pair, nil
}

// Exchange refresh token to a new pair
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	return s.tokens.Rotate(ctx, refresh)
}

// Revoke refresh token
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.tokens.Revoke(ctx, refresh)
}

// Verify access token and return identity it carries
func (s *AuthService) Validate(ctx context.Context, access string) (models.Identity, error) {
	return s.tokens.VerifyAccess(access)
}

// Revoke every refresh token of the user and delete the user with its profile
func (s *AuthService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		revoked, err := s.tokens.RevokeUserIn(ctx, storage, userID)
		if err != nil {
			return err
		}
		s.logger.Info("user tokens revoked", "user_id", userID.String(), "revoked", revoked)

		return storage.User().DeleteUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("can't delete account. Err: %w", err)
	}

	return nil
}
