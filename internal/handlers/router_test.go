package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/noteauth/internal/handlers/middleware"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/internal/repository/memory"
	"github.com/nkiryanov/noteauth/internal/service/auth"
	"github.com/nkiryanov/noteauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/noteauth/internal/service/profile"
)

type testResponse struct {
	Code   int
	Header http.Header
	Body   string
}

type testPair struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// Start server with production services on top of memory storage
func newTestServer(t *testing.T, cfg RouterConfig) *httptest.Server {
	t.Helper()

	storage := memory.NewStorage()
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage)
	require.NoError(t, err, "token manager should be created without errors")

	authService, err := auth.NewService(auth.Config{Hasher: auth.BcryptHasher{Cost: bcrypt.MinCost}}, tokenManager, storage)
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(NewRouter(cfg, authService, profile.NewService(storage), logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method string, path string, body string, headers ...string) testResponse {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return testResponse{Code: resp.StatusCode, Header: resp.Header, Body: string(data)}
}

func decodePair(t *testing.T, resp testResponse) testPair {
	t.Helper()

	var pair testPair
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &pair), "body: %s", resp.Body)
	require.NotEmpty(t, pair.AccessToken)
	require.Len(t, pair.RefreshToken, 64)
	return pair
}

func register(t *testing.T, srv *httptest.Server, email string, password string) testPair {
	t.Helper()

	resp := do(t, srv, http.MethodPost, "/register", `{"email": "`+email+`", "password": "`+password+`"}`)
	require.Equalf(t, http.StatusCreated, resp.Code, "not expected code. Body: %s", resp.Body)
	return decodePair(t, resp)
}

const unauthorized = `{"error": "service_error", "message": "Unauthorized"}`

func Test_Register(t *testing.T) {
	t.Parallel()

	t.Run("register ok", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")

		assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.AccessTokenExpiresAt, 2*time.Second)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), pair.RefreshTokenExpiresAt, 2*time.Second)
	})

	t.Run("register twice", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		register(t, srv, "a@x.com", "StrongEnoughPassword")

		resp := do(t, srv, http.MethodPost, "/register", `{"email": "A@x.com", "password": "OtherPassword"}`)

		require.Equal(t, http.StatusConflict, resp.Code)
		require.JSONEq(t, `{"error": "service_error", "message": "User already exists"}`, resp.Body)
	})

	t.Run("validation failed", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodPost, "/register", `{"email": "not-email", "password": "short"}`)

		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.JSONEq(t, `{
			"error": "validation_failed",
			"message": "Request validation failed",
			"fields": {
				"email": "Invalid email",
				"password": "Value is too short (minimum 8)"
			}
		}`, resp.Body)
	})

	t.Run("wrong method", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodGet, "/register", "")

		require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	})
}

func Test_Login(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, RouterConfig{})
	register(t, srv, "a@x.com", "StrongEnoughPassword")

	t.Run("login ok", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/login", `{"email": "a@x.com", "password": "StrongEnoughPassword"}`)

		require.Equalf(t, http.StatusOK, resp.Code, "not expected code. Body: %s", resp.Body)
		decodePair(t, resp)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		wrongPassword := do(t, srv, http.MethodPost, "/login", `{"email": "a@x.com", "password": "WrongPassword"}`)
		unknownEmail := do(t, srv, http.MethodPost, "/login", `{"email": "b@x.com", "password": "StrongEnoughPassword"}`)

		require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
		require.JSONEq(t, `{"error": "service_error", "message": "Invalid credentials"}`, wrongPassword.Body)

		require.Equal(t, wrongPassword.Code, unknownEmail.Code)
		require.Equal(t, wrongPassword.Body, unknownEmail.Body, "bodies must be byte identical")
		require.Equal(t, wrongPassword.Header.Get("Content-Type"), unknownEmail.Header.Get("Content-Type"))
		require.Equal(t, wrongPassword.Header.Get("Content-Length"), unknownEmail.Header.Get("Content-Length"))
	})
}

func Test_RefreshAndLogout(t *testing.T) {
	t.Parallel()

	t.Run("refresh ok", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")

		resp := do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+pair.RefreshToken+`"}`)

		require.Equalf(t, http.StatusOK, resp.Code, "not expected code. Body: %s", resp.Body)
		next := decodePair(t, resp)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	})

	t.Run("refresh malformed", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "not-a-token"}`)

		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.JSONEq(t, `{"error": "service_error", "message": "Malformed token"}`, resp.Body)
	})

	t.Run("refresh unknown", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+strings.Repeat("a", 64)+`"}`)

		require.Equal(t, http.StatusUnauthorized, resp.Code)
		require.JSONEq(t, unauthorized, resp.Body)
	})

	t.Run("logout then refresh", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")
		body := `{"refreshToken": "` + pair.RefreshToken + `"}`

		resp := do(t, srv, http.MethodPost, "/logout", body)
		require.Equal(t, http.StatusNoContent, resp.Code)
		require.Empty(t, resp.Body)

		resp = do(t, srv, http.MethodPost, "/logout", body)
		require.Equal(t, http.StatusNoContent, resp.Code, "logout is idempotent")

		resp = do(t, srv, http.MethodPost, "/refresh", body)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		require.JSONEq(t, unauthorized, resp.Body)
	})

	t.Run("logout unknown token", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodPost, "/logout", `{"refreshToken": "`+strings.Repeat("a", 64)+`"}`)

		require.Equal(t, http.StatusNoContent, resp.Code)
	})

	t.Run("logout malformed", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodPost, "/logout", `{"refreshToken": "bad"}`)

		require.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func Test_Validate(t *testing.T) {
	t.Parallel()

	t.Run("validate ok", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")

		resp := do(t, srv, http.MethodPost, "/validate", `{"accessToken": "`+pair.AccessToken+`"}`)

		require.Equalf(t, http.StatusOK, resp.Code, "not expected code. Body: %s", resp.Body)
		var identity struct {
			UserID string `json:"userId"`
			Email  string `json:"email"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &identity))
		require.NotEmpty(t, identity.UserID)
		require.Equal(t, "a@x.com", identity.Email)
	})

	t.Run("every failure looks the same", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")
		tampered := pair.AccessToken[:len(pair.AccessToken)-4] + "AAAA"

		for _, token := range []string{"", "garbage", "a.b.c", tampered, pair.RefreshToken} {
			resp := do(t, srv, http.MethodPost, "/validate", `{"accessToken": "`+token+`"}`)

			require.Equal(t, http.StatusUnauthorized, resp.Code, "token %q", token)
			require.Equal(t, `{"error":"service_error","message":"Unauthorized"}`+"\n", resp.Body)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{
			ValidateLimiter:    middleware.NewRateLimiter(),
			ValidateRateLimit:  2,
			ValidateRateWindow: time.Minute,
		})

		for range 2 {
			resp := do(t, srv, http.MethodPost, "/validate", `{"accessToken": "garbage"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Code)
		}

		resp := do(t, srv, http.MethodPost, "/validate", `{"accessToken": "garbage"}`)
		require.Equal(t, http.StatusTooManyRequests, resp.Code)
	})

	t.Run("internal key required", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{InternalKey: "internal"})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")
		body := `{"accessToken": "` + pair.AccessToken + `"}`

		resp := do(t, srv, http.MethodPost, "/validate", body)
		require.Equal(t, http.StatusUnauthorized, resp.Code)

		resp = do(t, srv, http.MethodPost, "/validate", body, middleware.InternalKeyHeader, "internal")
		require.Equal(t, http.StatusOK, resp.Code)
	})
}

func Test_Profile(t *testing.T) {
	t.Parallel()

	t.Run("get profile", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")

		resp := do(t, srv, http.MethodGet, "/profile", "", "Authorization", "Bearer "+pair.AccessToken)

		require.Equalf(t, http.StatusOK, resp.Code, "not expected code. Body: %s", resp.Body)
		var p map[string]any
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &p))
		require.Equal(t, "a@x.com", p["email"])
		require.Nil(t, p["firstName"])
	})

	t.Run("no token", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})

		resp := do(t, srv, http.MethodGet, "/profile", "")

		require.Equal(t, http.StatusUnauthorized, resp.Code)
		require.JSONEq(t, unauthorized, resp.Body)
	})

	t.Run("delete account", func(t *testing.T) {
		srv := newTestServer(t, RouterConfig{})
		pair := register(t, srv, "a@x.com", "StrongEnoughPassword")
		bearer := "Bearer " + pair.AccessToken

		resp := do(t, srv, http.MethodDelete, "/profile", "", "Authorization", bearer)
		require.Equal(t, http.StatusNoContent, resp.Code)

		resp = do(t, srv, http.MethodGet, "/profile", "", "Authorization", bearer)
		require.Equal(t, http.StatusNotFound, resp.Code, "access token still valid until expiry, but profile is gone")

		resp = do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+pair.RefreshToken+`"}`)
		require.Equal(t, http.StatusUnauthorized, resp.Code)

		resp = do(t, srv, http.MethodPost, "/login", `{"email": "a@x.com", "password": "StrongEnoughPassword"}`)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func Test_Health(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	resp := do(t, srv, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status": "ok"}`, resp.Body)
}

func Test_CORS(t *testing.T) {
	srv := newTestServer(t, RouterConfig{CORSAllowedOrigins: []string{"https://notes.example.com"}})

	resp := do(t, srv, http.MethodOptions, "/login", "",
		"Origin", "https://notes.example.com",
		"Access-Control-Request-Method", http.MethodPost,
	)

	require.Equal(t, "https://notes.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

// Login, call protected service, refresh, then replay the old refresh token
func Test_Scenario(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, RouterConfig{})
	register(t, srv, "a@x.com", "StrongEnoughPassword")

	resp := do(t, srv, http.MethodPost, "/login", `{"email": "a@x.com", "password": "StrongEnoughPassword"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	first := decodePair(t, resp)

	resp = do(t, srv, http.MethodPost, "/validate", `{"accessToken": "`+first.AccessToken+`"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+first.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	second := decodePair(t, resp)

	resp = do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+first.RefreshToken+`"}`)
	require.Equal(t, http.StatusUnauthorized, resp.Code, "old token reused")

	resp = do(t, srv, http.MethodPost, "/refresh", `{"refreshToken": "`+second.RefreshToken+`"}`)
	require.Equal(t, http.StatusUnauthorized, resp.Code, "family revoked after reuse")

	resp = do(t, srv, http.MethodPost, "/validate", `{"accessToken": "`+second.AccessToken+`"}`)
	require.Equal(t, http.StatusOK, resp.Code, "access tokens stay valid until expiry")
}
