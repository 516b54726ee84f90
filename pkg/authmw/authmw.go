// Package authmw protects HTTP routes with access tokens issued by the auth service.
// Services verify tokens through a Validator: the auth service itself or authclient.Client.
package authmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/noteauth/internal/handlers/render"
	"github.com/nkiryanov/noteauth/internal/models"
)

// Header internal services present calling the auth service /validate
const InternalKeyHeader = "X-Internal-Key"

// Verified user carried by access token
type Identity = models.Identity

// Verifies access token locally or by asking auth service
type Validator interface {
	Validate(ctx context.Context, access string) (Identity, error)
}

type ctxKey string

const identityKey ctxKey = "identity"

// Create a new context with the authenticated identity
func NewContext(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Extract the identity from the context
func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Extract token from 'Authorization: Bearer <token>' header. Scheme is case insensitive
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// Require valid bearer token. Identity is put to request context, see FromContext
// Every failure gets the same 401 response
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				render.Unauthorized(w)
				return
			}

			identity, err := v.Validate(r.Context(), token)
			if err != nil {
				render.Unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
		})
	}
}
