package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/database"
	"github.com/millatvt/millat-backend/internal/health"
	"github.com/millatvt/millat-backend/internal/http/handler"
	"github.com/millatvt/millat-backend/internal/http/middleware"
	"github.com/millatvt/millat-backend/internal/http/router"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/realtime"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
	"github.com/millatvt/millat-backend/internal/service"
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg)
}

// provideObservability starts the OTel pipelines and installs the resulting
// logger as the process default.
func provideObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	rt, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if rt.Logger != nil {
		slog.SetDefault(rt.Logger)
	}
	if rt.Enabled() {
		slog.Info("telemetry export enabled",
			"metrics", cfg.OTELMetricsEnabled,
			"tracing", cfg.OTELTracingEnabled,
			"logs", cfg.OTELLogsEnabled,
		)
	}
	return rt, nil
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoMigrate {
		return db, nil
	}
	if cfg.DatabaseDriver == "postgres" {
		version, err := database.MigrateUp(db)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		slog.Info("database migrated", "version", version)
		return db, nil
	}
	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

// provideRedis returns nil when REDIS_ADDR is unset; every consumer has an
// in-process fallback.
func provideRedis(cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideRefreshTokenRepository(cfg *config.Config, db *gorm.DB) repository.RefreshTokenRepository {
	return repository.NewRefreshTokenRepository(db, cfg.DBTxTimeout)
}

func provideConversationRepository(cfg *config.Config, db *gorm.DB) repository.ConversationRepository {
	return repository.NewConversationRepository(db, cfg.DBTxTimeout)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, repo repository.RefreshTokenRepository) *service.TokenService {
	return service.NewTokenService(jwtMgr, repo, cfg.RefreshTokenPepper, cfg.JWTAccessTTL, cfg.RefreshTokenTTL, cfg.JWTWebsocketTTL)
}

func providePrincipalStatusStore(cfg *config.Config, rdb redis.UniversalClient) service.PrincipalStatusStore {
	switch {
	case cfg.PrincipalCacheTTL <= 0:
		return service.NewNoopPrincipalStatusStore()
	case cfg.PrincipalCacheBackend == "redis" && rdb != nil:
		return service.NewRedisPrincipalStatusStore(rdb, service.PrincipalStatusRedisPrefix)
	case cfg.PrincipalCacheBackend == "none":
		return service.NewNoopPrincipalStatusStore()
	default:
		return service.NewInMemoryPrincipalStatusStore(cfg.PrincipalCacheSize, cfg.PrincipalCacheTTL)
	}
}

func providePrincipalStatusChecker(cfg *config.Config, repo repository.PrincipalRepository, store service.PrincipalStatusStore) *service.PrincipalStatusChecker {
	return service.NewPrincipalStatusChecker(repo, store, cfg.PrincipalCacheTTL)
}

func providePublisher(cfg *config.Config, rdb redis.UniversalClient) realtime.Publisher {
	if cfg.RealtimeFanout == "redis" && rdb != nil {
		return realtime.NewRedisFanout(rdb, cfg.RealtimeRedisChannel)
	}
	return nil
}

func provideGateway(cfg *config.Config, jwtMgr *security.JWTManager, checker *service.PrincipalStatusChecker, conversations repository.ConversationRepository, publisher realtime.Publisher) *realtime.Gateway {
	return realtime.NewGateway(realtime.NewHub(), jwtMgr, checker, conversations, publisher, realtime.Options{
		AllowedOrigins: cfg.CORSOrigins(),
		SendBuffer:     cfg.WSSendBuffer,
		EventRate:      cfg.WSEventRatePerSecond,
		EventBurst:     cfg.WSEventBurst,
	})
}

func provideAuthHandler(cfg *config.Config, auth *service.AuthService) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, security.CookieOptions{
		Secure:     cfg.SecureCookies(),
		Domain:     cfg.CookieDomain,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, !cfg.IsProduction())
}

func provideConversationHandler(cfg *config.Config, conversations *service.ConversationService) *handler.ConversationHandler {
	return handler.NewConversationHandler(conversations, !cfg.IsProduction())
}

func provideAdminHandler(cfg *config.Config, admin *service.AdminService) *handler.AdminHandler {
	return handler.NewAdminHandler(admin, !cfg.IsProduction())
}

func provideReadiness(db *gorm.DB, rdb redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.DBChecker(db)}
	if rdb != nil {
		checkers = append(checkers, health.RedisChecker(rdb))
	}
	return health.NewProbeRunner(2*time.Second, 2*time.Second, checkers...)
}

// provideRateLimiters keeps counters in redis when RATE_LIMIT_BACKEND=redis so
// every instance shares one budget.
func provideRateLimiters(cfg *config.Config, rdb redis.UniversalClient, jwtMgr *security.JWTManager) (router.GlobalRateLimiterFunc, router.AuthRateLimiterFunc) {
	if cfg.RateLimitBackend != "redis" || rdb == nil {
		return nil, nil
	}
	api := middleware.NewRateLimiter(
		middleware.NewRedisFixedWindowLimiter(rdb, "millat:rl:api"),
		middleware.Policy{Limit: cfg.APIRateLimitRPM, Window: time.Minute},
		middleware.FailOpen, "api", middleware.SubjectOrIPKeyFunc(jwtMgr),
	)
	auth := middleware.NewRateLimiter(
		middleware.NewRedisFixedWindowLimiter(rdb, "millat:rl:auth"),
		middleware.Policy{Limit: cfg.AuthRateLimitRPM, Window: time.Minute},
		middleware.FailClosed, "auth", nil,
	)
	return api.Middleware(), auth.Middleware()
}

func provideRouterDependencies(
	cfg *config.Config,
	rdb redis.UniversalClient,
	jwtMgr *security.JWTManager,
	checker *service.PrincipalStatusChecker,
	authHandler *handler.AuthHandler,
	conversationHandler *handler.ConversationHandler,
	adminHandler *handler.AdminHandler,
	gateway *realtime.Gateway,
	readiness *health.ProbeRunner,
) router.Dependencies {
	global, auth := provideRateLimiters(cfg, rdb, jwtMgr)
	return router.Dependencies{
		AuthHandler:         authHandler,
		ConversationHandler: conversationHandler,
		AdminHandler:        adminHandler,
		Gateway:             gateway,
		JWTManager:          jwtMgr,
		PrincipalChecker:    checker,
		CORSOrigins:         cfg.CORSOrigins(),
		AuthRateLimitRPM:    cfg.AuthRateLimitRPM,
		APIRateLimitRPM:     cfg.APIRateLimitRPM,
		GlobalRateLimiter:   global,
		AuthRateLimiter:     auth,
		Readiness:           readiness,
		EnableOTelHTTP:      cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
