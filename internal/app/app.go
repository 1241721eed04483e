package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/database"
	"github.com/millatvt/millat-backend/internal/health"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/realtime"
	"github.com/millatvt/millat-backend/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Gateway       *realtime.Gateway
	Tokens        *service.TokenService
	Readiness     *health.ProbeRunner

	ShutdownTimeout time.Duration
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	rdb redis.UniversalClient,
	gateway *realtime.Gateway,
	tokens *service.TokenService,
	readiness *health.ProbeRunner,
) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		DB:              db,
		Redis:           rdb,
		Gateway:         gateway,
		Tokens:          tokens,
		Readiness:       readiness,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves HTTP, the realtime fan-out listener and the refresh token
// cleanup loop until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "env", a.Config.AppEnv)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.Gateway != nil {
		g.Go(func() error { return a.Gateway.Run(gctx) })
	}
	if a.Tokens != nil {
		g.Go(func() error {
			a.Tokens.RunCleanup(gctx, a.Config.TokenCleanupInterval, func(removed int64, err error) {
				if err != nil {
					a.Logger.Warn("refresh token cleanup failed", "error", err.Error())
					return
				}
				if removed > 0 {
					a.Logger.Info("expired refresh tokens removed", "count", removed)
				}
			})
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdownServer()
	})

	err := g.Wait()
	a.Close()
	return err
}

func (a *App) shutdownServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	a.Logger.Info("shutting down http server")
	if err := a.Server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the database, redis and telemetry pipelines.
func (a *App) Close() {
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			a.Logger.Warn("close database", "error", err.Error())
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", "error", err.Error())
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.Observability.Shutdown(ctx); err != nil {
		a.Logger.Warn("shutdown observability", "error", err.Error())
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return a.ShutdownTimeout
}
