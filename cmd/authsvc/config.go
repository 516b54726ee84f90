package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/noteauth/internal/logger"
)

const (
	defaultListenAddr         = "localhost:8000"
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvProduction
	defaultAccessTTL          = 15 * time.Minute
	defaultRefreshTTL         = 7 * 24 * time.Hour
	defaultTokenRetention     = 30 * 24 * time.Hour
	defaultSweepInterval      = 10 * time.Minute
	defaultValidateRateLimit  = 100
	defaultValidateRateWindow = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the auth service will be run
	ListenAddr string

	// Database to connect to
	// May be empty in dev environment, then tokens and users are kept in memory
	DatabaseDSN string

	// Secret key to sign access tokens
	SecretKey string

	// Environment
	Environment string

	// Token lifetimes
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// How long dead refresh token records are kept and how often they are swept
	TokenRetention time.Duration
	SweepInterval  time.Duration

	// Redis to share /validate rate limit between replicas. In-memory limiter if empty
	RedisURL string

	// Key internal services present calling /validate
	InternalKey string

	// Requests per window allowed to /validate from one client ip
	ValidateRateLimit  int
	ValidateRateWindow time.Duration

	// Origins allowed to call the service from browser
	CORSAllowedOrigins []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		AccessTTL:          defaultAccessTTL,
		RefreshTTL:         defaultRefreshTTL,
		TokenRetention:     defaultTokenRetention,
		SweepInterval:      defaultSweepInterval,
		ValidateRateLimit:  defaultValidateRateLimit,
		ValidateRateWindow: defaultValidateRateWindow,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			*o = (*o)[:0]
			for item := range strings.SplitSeq(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*o = append(*o, item)
				}
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"SECRET_KEY":           setString(&c.SecretKey),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"ACCESS_TOKEN_TTL":     setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":    setDuration(&c.RefreshTTL),
		"TOKEN_RETENTION":      setDuration(&c.TokenRetention),
		"SWEEP_INTERVAL":       setDuration(&c.SweepInterval),
		"REDIS_URL":            setString(&c.RedisURL),
		"INTERNAL_KEY":         setString(&c.InternalKey),
		"VALIDATE_RATE_LIMIT":  setInt(&c.ValidateRateLimit),
		"VALIDATE_RATE_WINDOW": setDuration(&c.ValidateRateWindow),
		"CORS_ALLOWED_ORIGINS": setList(&c.CORSAllowedOrigins),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authsvc", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.TokenRetention, "token-retention", c.TokenRetention, "How long expired refresh tokens are kept")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "How often expired refresh tokens are swept")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis URL for shared rate limiting")
	fs.StringVarP(&c.InternalKey, "internal-key", "k", c.InternalKey, "Key required from services calling /validate")
	fs.IntVar(&c.ValidateRateLimit, "validate-rate-limit", c.ValidateRateLimit, "Requests to /validate allowed per window from one client")
	fs.DurationVar(&c.ValidateRateWindow, "validate-rate-window", c.ValidateRateWindow, "Rate limit window for /validate")
	fs.StringSliceVar(&c.CORSAllowedOrigins, "cors-origins", c.CORSAllowedOrigins, "Origins allowed to call the service from browser")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	switch {
	case c.SecretKey == "":
		return errors.New("secret key is required")
	case c.DatabaseDSN == "" && c.Environment != logger.EnvDevelopment:
		return errors.New("database DSN is required")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case c.AccessTTL >= c.RefreshTTL:
		return errors.New("access token lifetime must be shorter than refresh token lifetime")
	case c.ValidateRateLimit <= 0 || c.ValidateRateWindow <= 0:
		return errors.New("validate rate limit and window must be positive")
	}
	return nil
}
