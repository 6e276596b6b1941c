/*
Package config parses server configuration from flags, with environment
variables as fallbacks.

PRECEDENCE:
  explicit flag > environment variable > built-in default

FLAGS (ENV):
  -port                 (PORT)                   HTTP port, 8080
  -db                   (DB_PATH)                SQLite path, finance.db; ":memory:" allowed
  -jwt-secret           (JWT_SECRET)             HS256 secret, required unless -dev
  -dev                  (DEV)                    development mode, allows an empty secret
  -redis-url            (REDIS_URL)              empty: in-process cache and local-only sockets
  -cache-prefix         (CACHE_PREFIX)           beshtash
  -cache-ttl            (CACHE_TTL)              600s
  -firebase-credentials (FIREBASE_SERVICE_ACCOUNT) empty: push disabled
  -timezone             (TIME_ZONE)              Asia/Bishkek
  -big-expense          (BIG_EXPENSE_THRESHOLD)  1000
  -push-timeout         (PUSH_TIMEOUT)           5s
  -broadcast-timeout    (BROADCAST_TIMEOUT)      2s
  -push-workers         (PUSH_WORKERS)           4
  -cors-origins         (CORS_ALLOWED_ORIGINS)   comma separated
  -log-level            (LOG_LEVEL)              info
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database

	"github.com/warp/finance-engine/ledger"
)

// devSecret signs tokens in -dev mode when no secret is configured.
const devSecret = "dev-secret-do-not-use-in-production"

type Config struct {
	Port                int
	DBPath              string
	JWTSecret           string
	Dev                 bool
	RedisURL            string
	CachePrefix         string
	CacheTTL            time.Duration
	FirebaseCredentials string
	TimeZone            string
	Location            *time.Location
	BigExpenseThreshold ledger.Money
	PushTimeout         time.Duration
	BroadcastTimeout    time.Duration
	PushWorkers         int
	CORSOrigins         []string
	LogLevel            string
}

// Load parses args (without the program name) on a fresh FlagSet.
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var (
		port          = fs.String("port", env("PORT", "8080"), "HTTP server port")
		dbPath        = fs.String("db", env("DB_PATH", "finance.db"), "SQLite database path")
		jwtSecret     = fs.String("jwt-secret", env("JWT_SECRET", ""), "HS256 secret for bearer tokens")
		dev           = fs.Bool("dev", env("DEV", "") == "1" || env("DEV", "") == "true", "development mode")
		redisURL      = fs.String("redis-url", env("REDIS_URL", ""), "Redis URL for cache and realtime relay")
		cachePrefix   = fs.String("cache-prefix", env("CACHE_PREFIX", "beshtash"), "cache key prefix")
		cacheTTL      = fs.String("cache-ttl", env("CACHE_TTL", "600s"), "cache entry TTL")
		firebaseCreds = fs.String("firebase-credentials", env("FIREBASE_SERVICE_ACCOUNT", ""), "Firebase service account JSON path")
		timeZone      = fs.String("timezone", env("TIME_ZONE", "Asia/Bishkek"), "business time zone")
		bigExpense    = fs.String("big-expense", env("BIG_EXPENSE_THRESHOLD", "1000"), "big expense notification threshold")
		pushTimeout   = fs.String("push-timeout", env("PUSH_TIMEOUT", "5s"), "per-device push timeout")
		bcastTimeout  = fs.String("broadcast-timeout", env("BROADCAST_TIMEOUT", "2s"), "realtime broadcast timeout")
		pushWorkers   = fs.String("push-workers", env("PUSH_WORKERS", "4"), "push worker count")
		corsOrigins   = fs.String("cors-origins", env("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), "allowed CORS origins")
		logLevel      = fs.String("log-level", env("LOG_LEVEL", "info"), "log level")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:              *dbPath,
		JWTSecret:           *jwtSecret,
		Dev:                 *dev,
		RedisURL:            strings.TrimSpace(*redisURL),
		CachePrefix:         *cachePrefix,
		FirebaseCredentials: strings.TrimSpace(*firebaseCreds),
		TimeZone:            *timeZone,
		CORSOrigins:         splitList(*corsOrigins),
		LogLevel:            *logLevel,
	}

	var errs []error
	fail := func(name string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	var err error
	if cfg.Port, err = strconv.Atoi(*port); err != nil || cfg.Port <= 0 || cfg.Port > 65535 {
		fail("port", fmt.Errorf("invalid port %q", *port))
	}
	if cfg.CacheTTL, err = parseDuration(*cacheTTL); err != nil {
		fail("cache-ttl", err)
	}
	if cfg.PushTimeout, err = parseDuration(*pushTimeout); err != nil {
		fail("push-timeout", err)
	}
	if cfg.BroadcastTimeout, err = parseDuration(*bcastTimeout); err != nil {
		fail("broadcast-timeout", err)
	}
	if cfg.PushWorkers, err = strconv.Atoi(*pushWorkers); err != nil || cfg.PushWorkers < 1 {
		fail("push-workers", fmt.Errorf("must be a positive integer, got %q", *pushWorkers))
	}
	if cfg.BigExpenseThreshold, err = ledger.NewMoney(*bigExpense); err != nil {
		fail("big-expense", err)
	}
	if cfg.Location, err = time.LoadLocation(cfg.TimeZone); err != nil {
		fail("timezone", err)
	}
	if cfg.CachePrefix == "" {
		fail("cache-prefix", errors.New("must not be empty"))
	}

	if cfg.JWTSecret == "" {
		if cfg.Dev {
			cfg.JWTSecret = devSecret
		} else {
			fail("jwt-secret", errors.New("required unless -dev is set"))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("5s") and bare seconds ("600").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
