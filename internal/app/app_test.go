package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/database"
	"github.com/millatvt/millat-backend/internal/health"
	"github.com/millatvt/millat-backend/internal/realtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                "test",
		HTTPAddr:              "127.0.0.1:0",
		FrontendURL:           "http://localhost:5173",
		DatabaseDriver:        "sqlite",
		DatabaseURL:           fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		AutoMigrate:           true,
		DBTxTimeout:           time.Second,
		JWTIssuer:             "millat-backend",
		JWTAudience:           "millat-frontend",
		JWTAccessSecret:       "abcdefghijklmnopqrstuvwxyz123456",
		JWTAccessTTL:          15 * time.Minute,
		JWTWebsocketTTL:       2 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		RefreshTokenPepper:    "pepper",
		AuthRateLimitRPM:      30,
		APIRateLimitRPM:       600,
		RateLimitBackend:      "memory",
		PrincipalCacheBackend: "memory",
		PrincipalCacheTTL:     30 * time.Second,
		PrincipalCacheSize:    64,
		RealtimeFanout:        "local",
		TokenCleanupInterval:  time.Hour,
		ShutdownTimeout:       2 * time.Second,
	}
}

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: 10 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(100*time.Millisecond, 50*time.Millisecond)

	a := New(cfg, logger, server, nil, nil, nil, nil, nil, readiness)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Fatal("expected shutdown timeout copied from config")
	}
	if (&App{}).shutdownTimeout() != 10*time.Second {
		t.Fatal("expected default shutdown timeout")
	}
}

func TestInitializeAppAndRunUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	a, err := InitializeApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.Gateway == nil || a.Tokens == nil || a.Readiness == nil || a.Redis != nil {
		t.Fatalf("unexpected wiring %+v", a)
	}
	ready, results := a.Readiness.Ready(context.Background())
	if !ready || len(results) != 1 || results[0].Name != "database" {
		t.Fatalf("expected only the database probe, got %v %+v", ready, results)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestInitializeAppRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseDriver = "mysql"
	if _, err := InitializeApp(context.Background(), cfg); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestBackendSelection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cases := []struct {
		backend string
		ttl     time.Duration
		client  redis.UniversalClient
		want    string
	}{
		{"memory", time.Minute, nil, "memory"},
		{"redis", time.Minute, rdb, "redis"},
		{"redis", time.Minute, nil, "memory"},
		{"none", time.Minute, rdb, "none"},
		{"memory", 0, nil, "none"},
	}
	for _, tc := range cases {
		cfg := &config.Config{PrincipalCacheBackend: tc.backend, PrincipalCacheTTL: tc.ttl, PrincipalCacheSize: 16}
		if got := providePrincipalStatusStore(cfg, tc.client).Backend(); got != tc.want {
			t.Fatalf("%s ttl=%s client=%v: expected %s, got %s", tc.backend, tc.ttl, tc.client != nil, tc.want, got)
		}
	}

	if p := providePublisher(&config.Config{RealtimeFanout: "local"}, rdb); p != nil {
		t.Fatalf("expected no publisher for local fan-out, got %T", p)
	}
	if _, ok := providePublisher(&config.Config{RealtimeFanout: "redis"}, rdb).(*realtime.RedisFanout); !ok {
		t.Fatal("expected redis fan-out publisher")
	}

	global, auth := provideRateLimiters(&config.Config{RateLimitBackend: "memory"}, rdb, nil)
	if global != nil || auth != nil {
		t.Fatal("expected router defaults for the memory backend")
	}
	global, auth = provideRateLimiters(&config.Config{RateLimitBackend: "redis", APIRateLimitRPM: 10, AuthRateLimitRPM: 5}, rdb, nil)
	if global == nil || auth == nil {
		t.Fatal("expected redis-backed limiters")
	}
}

func TestProvideRedisDisabledWithoutAddr(t *testing.T) {
	client, err := provideRedis(&config.Config{})
	if err != nil || client != nil {
		t.Fatalf("expected nil client, got %v %v", client, err)
	}
	if _, err := provideRedis(&config.Config{RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestProvideDBAutoMigratesSQLite(t *testing.T) {
	cfg := testConfig(t)
	db, err := provideDB(cfg)
	if err != nil {
		t.Fatalf("provide db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if !db.Migrator().HasTable("conversations") {
		t.Fatal("expected auto migrated schema")
	}
}
