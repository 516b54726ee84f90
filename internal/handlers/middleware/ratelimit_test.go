package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/noteauth/internal/testutil"
)

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "a", 2, time.Minute))
	require.True(t, l.Allow(ctx, "a", 2, time.Minute))
	require.False(t, l.Allow(ctx, "a", 2, time.Minute), "limit reached")
	require.True(t, l.Allow(ctx, "b", 2, time.Minute), "other key has own window")

	now = now.Add(time.Minute)
	require.True(t, l.Allow(ctx, "a", 2, time.Minute), "new window started")
	require.Len(t, l.buckets, 1, "finished windows evicted")
}

func TestRateLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(NewRateLimiter(), ClientIP, 2, time.Minute)(handler)

	do := func(remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/validate", nil)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1:1000").Code)
	require.Equal(t, http.StatusOK, do("10.0.0.1:1001").Code, "port is not a part of the key")

	limited := do("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "60", limited.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error": "service_error", "message": "Too many requests"}`, limited.Body.String())

	require.Equal(t, http.StatusOK, do("10.0.0.2:1000").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(nil, ClientIP, 1, time.Minute)(handler)

	for range 3 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.1:5555"
	r.Header.Set("X-Forwarded-For", "1.1.1.1")

	require.Equal(t, "192.168.1.1", ClientIP(r), "forwarded header is not trusted")

	r.RemoteAddr = "garbage"
	require.Equal(t, "garbage", ClientIP(r))
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()

	rc := testutil.StartRedisContainer(t)
	t.Cleanup(rc.Terminate)

	opts, err := redis.ParseURL(rc.URL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "test:", loggerFunc(func(string, ...any) {}))

	require.True(t, l.Allow(t.Context(), "a", 2, time.Minute))
	require.True(t, l.Allow(t.Context(), "a", 2, time.Minute))
	require.False(t, l.Allow(t.Context(), "a", 2, time.Minute), "limit reached")
	require.True(t, l.Allow(t.Context(), "b", 2, time.Minute))

	ttl, err := client.PTTL(t.Context(), "test:a").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0), "key expires with the window")

	require.True(t, l.Allow(t.Context(), "short", 1, 50*time.Millisecond))
	require.Eventually(t, func() bool {
		return l.Allow(t.Context(), "short", 1, 50*time.Millisecond)
	}, time.Second, 20*time.Millisecond, "window has to end")
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close() // nolint:errcheck

	l := NewRedisLimiter(client, "test:", loggerFunc(func(string, ...any) {}))

	require.True(t, l.Allow(context.Background(), "a", 1, time.Minute), "fail open")
}
