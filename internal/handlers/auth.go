package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/handlers/render"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/internal/models"
)

type tokenPairResponse struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

func newTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:           pair.Access.Value,
		RefreshToken:          pair.Refresh.Value,
		AccessTokenExpiresAt:  pair.Access.ExpiresAt,
		RefreshTokenExpiresAt: pair.Refresh.ExpiresAt,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Register(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			render.JSONWithStatus(w, newTokenPairResponse(pair), http.StatusCreated)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			logger.Error("Error while registering user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newTokenPairResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
		default:
			logger.Error("Error while logging in", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		switch {
		case err == nil:
			render.JSON(w, newTokenPairResponse(pair))
		case errors.Is(err, apperrors.ErrTokenMalformed):
			render.ServiceError(w, "Malformed token", http.StatusBadRequest)
		case isTokenError(err):
			logger.Debug("Refresh token rejected", "error", err)
			render.Unauthorized(w)
		default:
			logger.Error("Error while refreshing tokens", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Logout always succeeds for well formed token, so the caller learns nothing about its state
func handleLogout(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		err = authService.Logout(r.Context(), data.RefreshToken)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, apperrors.ErrTokenMalformed):
			render.ServiceError(w, "Malformed token", http.StatusBadRequest)
		case isTokenError(err):
			logger.Debug("Logout with unusable token", "error", err)
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Error("Error while logging out", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Cross service token check. Every token failure gets the same response
func handleValidate(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		AccessToken string `json:"accessToken"`
	}
	type response struct {
		UserID uuid.UUID `json:"userId"`
		Email  string    `json:"email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		identity, err := authService.Validate(r.Context(), data.AccessToken)
		if err != nil {
			logger.Debug("Access token rejected", "error", err)
			render.Unauthorized(w)
			return
		}

		render.JSON(w, response{UserID: identity.UserID, Email: identity.Email})
	})
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})
}

func isTokenError(err error) bool {
	for _, target := range []error{
		apperrors.ErrTokenExpired,
		apperrors.ErrTokenRevoked,
		apperrors.ErrTokenReuseDetected,
		apperrors.ErrTokenCompromised,
		apperrors.ErrTokenBadSignature,
		apperrors.ErrRefreshTokenNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
