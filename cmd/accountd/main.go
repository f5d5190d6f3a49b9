package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/config"
	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/handler"
	"github.com/boddenberg/account-manager-go/internal/infra/cache"
	"github.com/boddenberg/account-manager-go/internal/infra/client"
	"github.com/boddenberg/account-manager-go/internal/infra/events"
	"github.com/boddenberg/account-manager-go/internal/infra/lock"
	"github.com/boddenberg/account-manager-go/internal/infra/memstore"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/infra/postgres"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"
	"github.com/boddenberg/account-manager-go/internal/service"
)

// stores bundles the three store ports, which one backend always provides
// together.
type stores struct {
	users    port.UserStore
	accounts port.AccountStore
	tx       port.Transactor
	health   port.HealthChecker
}

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	if cfg.LogFile != "" {
		logger = observability.WithRotatingFile(logger, cfg.LogFile, cfg.LogLevel)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lock_backend", cfg.LockBackend),
		zap.Duration("lock_wait", cfg.LockWait),
		zap.Int("max_accounts_per_user", cfg.MaxAccountsPerUser),
		zap.Duration("user_cache_ttl", cfg.UserCacheTTL),
		zap.Bool("events_enabled", cfg.EventsEnabled),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "account-manager")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Stores ---
	st, closeStore, err := openStores(ctx, cfg, resilienceCfg, metrics, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()
	checkers := []port.HealthChecker{st.health}

	// --- Users ---
	userSource := st.users
	if cfg.UserServiceURL != "" {
		uc := client.NewUserClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.UserServiceURL,
			resilience.NewCircuitBreaker("user-directory", logger),
			resilienceCfg,
		)
		userSource = uc
		checkers = append(checkers, uc)
		logger.Info("resolving users from directory", zap.String("url", cfg.UserServiceURL))
	}
	userCache := cache.New[domain.AccountUser](cfg.UserCacheTTL)
	defer userCache.Close()
	users := cache.NewUserStore(userSource, userCache, metrics)

	// --- Redis (locks and events) ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	// --- Locker ---
	var locker port.Locker
	switch cfg.LockBackend {
	case config.BackendRedis:
		rl := lock.NewRedis(redisClient, lock.RedisConfig{
			Lease:        cfg.LockLease,
			RetryBackoff: cfg.LockRetryBackoff,
		}, logger)
		locker = rl
		checkers = append(checkers, rl)
		logger.Info("using redis per-user locks")
	default:
		locker = lock.NewMemory()
		logger.Info("using in-process per-user locks")
	}

	// --- Events ---
	var publisher port.EventPublisher = events.Logging{Logger: logger}
	if cfg.EventsEnabled {
		publisher = events.NewRedisPublisher(redisClient, cfg.EventsStream, cfg.EventsMaxLen)
		logger.Info("publishing account events", zap.String("stream", cfg.EventsStream))
	}

	// --- Services ---
	accountSvc := service.NewAccountService(
		users,
		st.accounts,
		locker,
		st.tx,
		publisher,
		metrics,
		logger,
		service.Options{
			MaxAccountsPerUser: cfg.MaxAccountsPerUser,
			LockWait:           cfg.LockWait,
		},
	)

	// --- Router ---
	router := handler.NewRouter(accountSvc, checkers, handler.Options{
		JWTSecret:      cfg.JWTSecret,
		MaxConcurrency: cfg.MaxConcurrency,
		RequestTimeout: cfg.HTTPTimeout,
		CORSOrigins:    cfg.CORSOrigins,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStores builds the configured store backend. The returned func releases
// its resources.
func openStores(ctx context.Context, cfg *config.Config, resilienceCfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) (*stores, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, err
		}
		pg := postgres.NewStore(pool, resilience.NewCircuitBreaker("postgres", logger), resilienceCfg, metrics, logger)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.Info("using postgres store")
		return &stores{users: pg, accounts: pg, tx: pg, health: pg}, pool.Close, nil

	default:
		mem := memstore.New()
		seedDevUsers(mem)
		logger.Warn("using in-memory store; data is lost on restart")
		return &stores{users: mem, accounts: mem, tx: mem, health: mem}, func() {}, nil
	}
}

// seedDevUsers makes the in-memory backend usable without a user service.
func seedDevUsers(mem *memstore.Store) {
	for id, name := range map[int64]string{1: "dev-user-1", 2: "dev-user-2", 12: "dev-user-12"} {
		mem.PutUser(domain.AccountUser{ID: id, Name: name})
	}
}
