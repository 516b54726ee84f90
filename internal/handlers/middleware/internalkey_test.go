package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	do := func(h http.Handler, key string) int {
		r := httptest.NewRequest(http.MethodPost, "/validate", nil)
		if key != "" {
			r.Header.Set(InternalKeyHeader, key)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("key required", func(t *testing.T) {
		h := InternalKey("secret")(handler)

		require.Equal(t, http.StatusOK, do(h, "secret"))
		require.Equal(t, http.StatusUnauthorized, do(h, "wrong"))
		require.Equal(t, http.StatusUnauthorized, do(h, ""))
	})

	t.Run("no key configured", func(t *testing.T) {
		h := InternalKey("")(handler)

		require.Equal(t, http.StatusOK, do(h, ""))
	})
}
