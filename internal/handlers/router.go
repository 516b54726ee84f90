package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/handlers/middleware"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/pkg/authmw"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// Shared key internal services present calling /validate. Not checked if empty
	InternalKey string

	// Limiter for /validate, requests counted per client ip. Not limited if nil
	ValidateLimiter    middleware.Limiter
	ValidateRateLimit  int
	ValidateRateWindow time.Duration

	// Origins allowed to call the service from browser. CORS disabled if empty
	CORSAllowedOrigins []string
}

func NewRouter(
	cfg RouterConfig,
	authService authService,
	profileService profileService,
	logger logger.Logger,
) http.Handler {
	withAuth := authmw.Middleware(authService)

	mux := http.NewServeMux()

	mux.Handle("POST /register", handleRegister(authService, logger))
	mux.Handle("POST /login", handleLogin(authService, logger))
	mux.Handle("POST /refresh", handleRefresh(authService, logger))
	mux.Handle("POST /logout", handleLogout(authService, logger))
	mux.Handle("POST /validate", chain(handleValidate(authService, logger),
		middleware.RateLimit(cfg.ValidateLimiter, middleware.ClientIP, cfg.ValidateRateLimit, cfg.ValidateRateWindow),
		middleware.InternalKey(cfg.InternalKey),
	))

	mux.Handle("GET /profile", withAuth(handleGetProfile(profileService, logger)))
	mux.Handle("DELETE /profile", withAuth(handleDeleteProfile(authService, logger)))

	mux.Handle("GET /healthz", handleHealth())

	mds := []func(http.Handler) http.Handler{middleware.LoggerMiddleware(logger)}
	if len(cfg.CORSAllowedOrigins) > 0 {
		mds = append(mds, cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	return chain(mux, mds...)
}

type authService interface {
	// Register user with email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials if user not found or password is wrong
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Exchange refresh token to a new pair
	// Has to return apperrors.ErrTokenMalformed if token not looks like refresh token
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token
	Logout(ctx context.Context, refresh string) error

	// Verify access token
	Validate(ctx context.Context, access string) (models.Identity, error)

	// Delete user and revoke its tokens
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

type profileService interface {
	Get(ctx context.Context, userID uuid.UUID) (models.Profile, error)
}
