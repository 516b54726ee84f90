// Package authclient lets other services verify access tokens by calling the auth service POST /validate.
// Client satisfies authmw.Validator.
package authclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/pkg/authmw"
)

const (
	CodeRetryAfter = "retry-after"
	CodeUnknown    = "unknown"
)

// Auth service refused the token without telling why
var ErrTokenRejected = errors.New("token rejected")

// Satisfied by *slog.Logger
type Logger interface {
	Warn(msg string, args ...any)
}

const (
	maxCacheTTL     = 10 * time.Second
	defaultTimeout  = 5 * time.Second
	maxCacheEntries = 10_000
)

type ClientError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

func newClientError(code string, retryAfter int, err error) *ClientError {
	return &ClientError{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

type Config struct {
	// Auth service address, like http://auth:8080
	Addr string

	// Sent as X-Internal-Key header if set
	InternalKey string

	// How long positive answers are cached. Capped at 10 seconds, zero disables cache
	CacheTTL time.Duration

	// Timeout of one call to auth service
	Timeout time.Duration

	Now func() time.Time
}

type cacheEntry struct {
	identity  authmw.Identity
	expiresAt time.Time
}

type Client struct {
	addr        string
	internalKey string
	cacheTTL    time.Duration
	timeout     time.Duration
	now         func() time.Time

	client *http.Client
	logger Logger

	mu    sync.Mutex
	cache map[[sha256.Size]byte]cacheEntry
}

var _ authmw.Validator = (*Client)(nil)

// Logger may be nil, then nothing is logged
func New(cfg Config, l Logger) *Client {
	if cfg.CacheTTL > maxCacheTTL {
		cfg.CacheTTL = maxCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		addr:        strings.TrimRight(cfg.Addr, "/"),
		internalKey: cfg.InternalKey,
		cacheTTL:    cfg.CacheTTL,
		timeout:     cfg.Timeout,
		now:         cfg.Now,
		client:      &http.Client{},
		logger:      l,
		cache:       make(map[[sha256.Size]byte]cacheEntry),
	}
}

// Validate access token with auth service
// Rejected token returns ErrTokenRejected, throttling returns *ClientError with CodeRetryAfter
func (c *Client) Validate(ctx context.Context, access string) (authmw.Identity, error) {
	key := sha256.Sum256([]byte(access))
	if identity, ok := c.cached(key); ok {
		return identity, nil
	}

	identity, err := c.validate(ctx, access)
	if err != nil {
		return identity, err
	}

	c.store(key, access, identity)
	return identity, nil
}

func (c *Client) validate(ctx context.Context, access string) (authmw.Identity, error) {
	var identity authmw.Identity

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"accessToken": access})
	if err != nil {
		return identity, newClientError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/validate", bytes.NewReader(body))
	if err != nil {
		return identity, newClientError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalKey != "" {
		req.Header.Set(authmw.InternalKeyHeader, c.internalKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return identity, newClientError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(resp)
	case http.StatusUnauthorized:
		return identity, ErrTokenRejected
	case http.StatusTooManyRequests:
		return identity, c.processTooManyRequests(resp)
	default:
		c.logger.Warn("Failed to validate token", "status_code", resp.StatusCode)
		return identity, newClientError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (c *Client) processSuccess(resp *http.Response) (authmw.Identity, error) {
	var data struct {
		UserID uuid.UUID `json:"userId"`
		Email  string    `json:"email"`
	}
	err := json.NewDecoder(resp.Body).Decode(&data)
	if err != nil {
		c.logger.Warn("Failed to decode response", "error", err)
		return authmw.Identity{}, newClientError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	return authmw.Identity{UserID: data.UserID, Email: data.Email}, nil
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	c.logger.Warn("Auth service throttled", "retry_after", retryAfter)
	return newClientError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}

func (c *Client) cached(key [sha256.Size]byte) (authmw.Identity, bool) {
	if c.cacheTTL <= 0 {
		return authmw.Identity{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return authmw.Identity{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.cache, key)
		return authmw.Identity{}, false
	}
	return entry.identity, true
}

// Cache identity until cache TTL passes or the token itself expires, whichever comes first
// Tokens without readable expiration are not cached
func (c *Client) store(key [sha256.Size]byte, access string, identity authmw.Identity) {
	if c.cacheTTL <= 0 {
		return
	}
	tokenExp, ok := tokenExpiry(access)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.cacheTTL)
	if tokenExp.Before(expiresAt) {
		expiresAt = tokenExp
	}
	if !now.Before(expiresAt) {
		return
	}
	if len(c.cache) >= maxCacheEntries {
		for k, entry := range c.cache {
			if !now.Before(entry.expiresAt) {
				delete(c.cache, k)
			}
		}
	}
	if len(c.cache) >= maxCacheEntries {
		clear(c.cache)
	}

	c.cache[key] = cacheEntry{identity: identity, expiresAt: expiresAt}
}

// Expiration claim of the token. Signature is not checked: the auth service accepted the token already
func tokenExpiry(access string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(access, claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
