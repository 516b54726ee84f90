package authmw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Allow to use a function as validator
type validatorFunc func(ctx context.Context, access string) (Identity, error)

func (f validatorFunc) Validate(ctx context.Context, access string) (Identity, error) {
	return f(ctx, access)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "bearer abc", token: "abc", ok: true},
		{header: "BEARER  abc ", token: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer", ok: false},
		{header: "Bearer ", ok: false},
		{header: "abc", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tt.header)

			token, ok := BearerToken(r)

			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.token, token)
		})
	}
}

func TestMiddleware(t *testing.T) {
	// Simple handler that try to get identity from context
	// If ok write email to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set identity or write error to response
		identity, ok := FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(identity.Email))
		require.NoError(t, err, "should write email to response")
	})

	do := func(t *testing.T, v Validator, authorization string) (int, string) {
		srv := httptest.NewServer(Middleware(v)(handler))
		defer srv.Close()

		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/test", nil)
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return resp.StatusCode, string(body)
	}

	t.Run("auth ok", func(t *testing.T) {
		v := validatorFunc(func(ctx context.Context, access string) (Identity, error) {
			require.Equal(t, "good-token", access)
			return Identity{Email: "a@x.com"}, nil
		})

		code, body := do(t, v, "Bearer good-token")

		require.Equalf(t, http.StatusOK, code, "should return status OK. Resp: %s", body)
		require.Equal(t, "a@x.com", body, "should return email in response")
	})

	unauthorized := `{"error": "service_error", "message": "Unauthorized"}`

	t.Run("auth fail", func(t *testing.T) {
		v := validatorFunc(func(ctx context.Context, access string) (Identity, error) {
			return Identity{}, errors.New("token is expired")
		})

		code, body := do(t, v, "Bearer bad-token")

		require.Equal(t, http.StatusUnauthorized, code)
		require.JSONEq(t, unauthorized, body)
	})

	t.Run("no header", func(t *testing.T) {
		v := validatorFunc(func(ctx context.Context, access string) (Identity, error) {
			t.Fatal("validator must not be called without token")
			return Identity{}, nil
		})

		code, body := do(t, v, "")

		require.Equal(t, http.StatusUnauthorized, code)
		require.JSONEq(t, unauthorized, body)
	})
}

func TestContext(t *testing.T) {
	identity := Identity{UserID: uuid.New(), Email: "a@x.com"}

	got, ok := FromContext(NewContext(context.Background(), identity))
	require.True(t, ok)
	require.Equal(t, identity, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok, "empty context has no identity")
}
