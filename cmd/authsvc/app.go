package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/noteauth/internal/db"
	"github.com/nkiryanov/noteauth/internal/handlers"
	"github.com/nkiryanov/noteauth/internal/handlers/middleware"
	"github.com/nkiryanov/noteauth/internal/logger"
	"github.com/nkiryanov/noteauth/internal/repository"
	"github.com/nkiryanov/noteauth/internal/repository/memory"
	"github.com/nkiryanov/noteauth/internal/repository/postgres"
	"github.com/nkiryanov/noteauth/internal/service/auth"
	"github.com/nkiryanov/noteauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/noteauth/internal/service/profile"
	"github.com/nkiryanov/noteauth/internal/service/tokensweeper"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *tokensweeper.Sweeper
	logger  logger.Logger
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     logger,
	}

	// Connect to the database and run migrations
	var storage repository.Storage
	if c.DatabaseDSN != "" {
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		storage = postgres.NewStorage(pool)
	} else {
		logger.Warn("Database not configured, users and tokens kept in memory")
		storage = memory.NewStorage()
	}

	// Rate limiter for /validate
	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("error while parsing redis url. Err: %w", err)
		}
		client := redis.NewClient(opts)
		app.closers = append(app.closers, func() { _ = client.Close() })
		limiter = middleware.NewRedisLimiter(client, "authsvc:ratelimit:validate:", logger)
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		Logger:     logger.With("component", "tokenmanager"),
	}, storage)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{Logger: logger}, tokenManager, storage)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	profileService := profile.NewService(storage)

	app.sweeper = tokensweeper.New(tokensweeper.Config{
		Interval:  c.SweepInterval,
		Retention: c.TokenRetention,
	}, logger.With("component", "tokensweeper"), storage.Refresh())

	app.Handler = handlers.NewRouter(
		handlers.RouterConfig{
			InternalKey:        c.InternalKey,
			ValidateLimiter:    limiter,
			ValidateRateLimit:  c.ValidateRateLimit,
			ValidateRateWindow: c.ValidateRateWindow,
			CORSAllowedOrigins: c.CORSAllowedOrigins,
		},
		authService,
		profileService,
		logger,
	)

	return app, nil
}

// Release database and redis connections
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and token sweeper, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		<-s.sweeper.Run(gCtx)
		return nil
	})

	return g.Wait()
}
