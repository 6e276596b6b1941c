/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance backend. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, then environment)
  2. Initialize logging and metrics
  3. Open the SQLite store in the business time zone
  4. Choose cache backend and realtime fan-out:
       REDIS_URL set    -> Redis cache + Redis pub/sub relay
       REDIS_URL empty  -> in-process cache (swept) + local hub only
  5. Choose push transport: FCM when credentials are set, none otherwise
  6. Start the notification dispatcher workers
  7. Configure HTTP router and serve

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain queued pushes, stop relay and sweeper
  4. Close Redis and database connections

EXAMPLES:
  # Local development, no Redis, no push
  ./server -dev -db=":memory:"

  # Production
  JWT_SECRET=... REDIS_URL=redis://redis:6379/1 \
  FIREBASE_SERVICE_ACCOUNT=/etc/firebase.json ./server -db=/data/finance.db

SEE ALSO:
  - config/config.go: every flag and variable
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/auth"
	"github.com/warp/finance-engine/cache"
	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/logging"
	"github.com/warp/finance-engine/metrics"
	"github.com/warp/finance-engine/notify"
	"github.com/warp/finance-engine/notify/fcm"
	"github.com/warp/finance-engine/realtime"
	"github.com/warp/finance-engine/service"
	"github.com/warp/finance-engine/store/sqlite"
)

// tokenDuration only matters for tokens minted by this process (tooling).
const tokenDuration = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)
	logger := slog.Default()
	m := metrics.New()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath, sqlite.WithLocation(cfg.Location))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(logger)
	var (
		backend     cache.Backend
		broadcaster notify.Broadcaster = hub
	)

	if cfg.RedisURL != "" {
		redisBackend, client, err := cache.NewRedisFromURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			// The cache degrades to misses and the relay to local delivery.
			logger.Warn("redis unreachable at startup", "error", err)
		}
		backend = redisBackend

		relay := realtime.NewRedisRelay(hub, client, cfg.CachePrefix, logger)
		if err := relay.Start(ctx); err != nil {
			logger.Warn("realtime relay not started, delivering locally only", "error", err)
		} else {
			defer relay.Stop()
			broadcaster = relay
		}
		logger.Info("using redis", "addr", redisAddr(client))
	} else {
		mem := cache.NewMemory()
		sweeper := cache.NewSweeper(mem, cache.DefaultSweepInterval, logger)
		sweeper.Start()
		defer sweeper.Stop()
		backend = mem
		logger.Info("using in-process cache", "ttl", cfg.CacheTTL)
	}

	var sender notify.Sender
	if cfg.FirebaseCredentials != "" {
		s, err := fcm.New(ctx, cfg.FirebaseCredentials)
		if err != nil {
			return fmt.Errorf("firebase: %w", err)
		}
		sender = s
	} else {
		logger.Info("push disabled, no firebase credentials")
	}

	dispatcher := notify.NewDispatcher(store, broadcaster, sender,
		notify.WithMetrics(m),
		notify.WithLogger(logger),
		notify.WithWorkers(cfg.PushWorkers),
		notify.WithTimeouts(cfg.BroadcastTimeout, cfg.PushTimeout),
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	svc := service.New(store,
		service.WithCache(cache.New(backend,
			cache.WithPrefix(cfg.CachePrefix),
			cache.WithTTL(cfg.CacheTTL),
			cache.WithMetrics(m),
			cache.WithLogger(logger),
		)),
		service.WithNotifier(dispatcher),
		service.WithRules(ledger.Rules{BigExpenseThreshold: cfg.BigExpenseThreshold}),
		service.WithLogger(logger),
	)

	jwt := auth.NewJWTManager(cfg.JWTSecret, tokenDuration)
	handler := api.NewHandler(svc, jwt,
		api.WithMetrics(m),
		api.WithLogger(logger),
		api.WithHealthCheck(store.Ping),
		api.WithRealtime(hub.Handler(jwt.UserFromToken)),
		api.WithCORSOrigins(cfg.CORSOrigins),
	)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "time_zone", cfg.TimeZone)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func redisAddr(c *redis.Client) string {
	return c.Options().Addr
}
