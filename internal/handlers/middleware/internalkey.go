package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/nkiryanov/noteauth/internal/handlers/render"
	"github.com/nkiryanov/noteauth/pkg/authmw"
)

const InternalKeyHeader = authmw.InternalKeyHeader

// Require shared key from internal callers. Does nothing if key is empty
func InternalKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				render.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
