package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/apperrors"
	"github.com/nkiryanov/noteauth/internal/handlers/render"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/pkg/authmw"
)

func handleGetProfile(profileService profileService, logger logger.Logger) http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		UserID    uuid.UUID `json:"userId"`
		Email     string    `json:"email"`
		FirstName *string   `json:"firstName"`
		LastName  *string   `json:"lastName"`
		Bio       *string   `json:"bio"`
		AvatarURL *string   `json:"avatarUrl"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := authmw.FromContext(r.Context())

		p, err := profileService.Get(r.Context(), identity.UserID)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Profile not found", http.StatusNotFound)
			return
		default:
			logger.Error("Error while getting profile", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{
			ID:        p.ID,
			UserID:    p.UserID,
			Email:     identity.Email,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Bio:       p.Bio,
			AvatarURL: p.AvatarURL,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	})
}

func handleDeleteProfile(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := authmw.FromContext(r.Context())

		err := authService.DeleteAccount(r.Context(), identity.UserID)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Profile not found", http.StatusNotFound)
		default:
			logger.Error("Error while deleting account", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
