package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	FrontendURL string
	LogLevel    string

	DatabaseDriver string
	DatabaseURL    string
	DBTxTimeout    time.Duration
	AutoMigrate    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer          string
	JWTAudience        string
	JWTAccessSecret    string
	JWTAccessTTL       time.Duration
	JWTWebsocketTTL    time.Duration
	RefreshTokenTTL    time.Duration
	RefreshTokenPepper string
	CookieDomain       string

	AuthRateLimitRPM int
	APIRateLimitRPM  int
	RateLimitBackend string

	PrincipalCacheBackend string
	PrincipalCacheTTL     time.Duration
	PrincipalCacheSize    int

	RealtimeFanout       string
	RealtimeRedisChannel string
	WSEventRatePerSecond float64
	WSEventBurst         int
	WSSendBuffer         int

	TokenCleanupInterval time.Duration
	ShutdownTimeout      time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

var defaults = map[string]any{
	"APP_ENV":                      "development",
	"HTTP_ADDR":                    ":8080",
	"FRONTEND_URL":                 "http://localhost:5173",
	"LOG_LEVEL":                    "info",
	"DATABASE_DRIVER":              "postgres",
	"DB_TX_TIMEOUT":                "5s",
	"AUTO_MIGRATE":                 false,
	"REDIS_DB":                     0,
	"JWT_ISSUER":                   "millat-backend",
	"JWT_AUDIENCE":                 "millat-frontend",
	"JWT_ACCESS_TTL":               "15m",
	"JWT_WEBSOCKET_TTL":            "2m",
	"REFRESH_TOKEN_TTL":            "168h",
	"AUTH_RATE_LIMIT_PER_MIN":      30,
	"API_RATE_LIMIT_PER_MIN":       600,
	"RATE_LIMIT_BACKEND":           "memory",
	"PRINCIPAL_CACHE_BACKEND":      "memory",
	"PRINCIPAL_CACHE_TTL":          "30s",
	"PRINCIPAL_CACHE_SIZE":         4096,
	"REALTIME_FANOUT":              "local",
	"REALTIME_REDIS_CHANNEL":       "millat:realtime",
	"WS_EVENT_RATE_PER_SEC":        10.0,
	"WS_EVENT_BURST":               20,
	"WS_SEND_BUFFER":               64,
	"TOKEN_CLEANUP_INTERVAL":       "1h",
	"SHUTDOWN_TIMEOUT":             "20s",
	"OTEL_SERVICE_NAME":            "millat-backend",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  true,
	"OTEL_METRICS_ENABLED":         false,
	"OTEL_TRACING_ENABLED":         false,
	"OTEL_LOGS_ENABLED":            false,
	"OTEL_METRICS_EXPORT_INTERVAL": "15s",
}

// Load reads configuration from the environment, falling back to an optional
// dotenv file at envFile.
func Load(envFile string) (*Config, error) {
	cfg, err := load(envFile)
	profile, driver := os.Getenv("APP_ENV"), os.Getenv("DATABASE_DRIVER")
	if cfg != nil {
		profile, driver = cfg.AppEnv, cfg.DatabaseDriver
	}
	recordLoad(context.Background(), profile, driver, err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, atStage(stageFile, fmt.Errorf("read config file %s: %w", envFile, err))
			}
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		AppEnv:                   strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:                 v.GetString("HTTP_ADDR"),
		FrontendURL:              strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		LogLevel:                 v.GetString("LOG_LEVEL"),
		DatabaseDriver:           strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:              v.GetString("DATABASE_URL"),
		RedisAddr:                v.GetString("REDIS_ADDR"),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		JWTIssuer:                v.GetString("JWT_ISSUER"),
		JWTAudience:              v.GetString("JWT_AUDIENCE"),
		JWTAccessSecret:          v.GetString("JWT_ACCESS_SECRET"),
		RefreshTokenPepper:       v.GetString("REFRESH_TOKEN_PEPPER"),
		CookieDomain:             v.GetString("COOKIE_DOMAIN"),
		RateLimitBackend:         strings.ToLower(v.GetString("RATE_LIMIT_BACKEND")),
		PrincipalCacheBackend:    strings.ToLower(v.GetString("PRINCIPAL_CACHE_BACKEND")),
		RealtimeFanout:           strings.ToLower(v.GetString("REALTIME_FANOUT")),
		RealtimeRedisChannel:     v.GetString("REALTIME_REDIS_CHANNEL"),
		OTELServiceName:          v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:          v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.OTELEnvironment == "" {
		cfg.OTELEnvironment = cfg.AppEnv
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_TX_TIMEOUT", &cfg.DBTxTimeout},
		{"JWT_ACCESS_TTL", &cfg.JWTAccessTTL},
		{"JWT_WEBSOCKET_TTL", &cfg.JWTWebsocketTTL},
		{"REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL},
		{"PRINCIPAL_CACHE_TTL", &cfg.PrincipalCacheTTL},
		{"TOKEN_CLEANUP_INTERVAL", &cfg.TokenCleanupInterval},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(v, d.key); err != nil {
			return cfg, atStage(stageParse, err)
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"AUTH_RATE_LIMIT_PER_MIN", &cfg.AuthRateLimitRPM},
		{"API_RATE_LIMIT_PER_MIN", &cfg.APIRateLimitRPM},
		{"PRINCIPAL_CACHE_SIZE", &cfg.PrincipalCacheSize},
		{"WS_EVENT_BURST", &cfg.WSEventBurst},
		{"WS_SEND_BUFFER", &cfg.WSSendBuffer},
	}
	for _, i := range ints {
		if *i.dst, err = parseInt(v, i.key); err != nil {
			return cfg, atStage(stageParse, err)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"AUTO_MIGRATE", &cfg.AutoMigrate},
		{"OTEL_EXPORTER_OTLP_INSECURE", &cfg.OTELExporterOTLPInsecure},
		{"OTEL_METRICS_ENABLED", &cfg.OTELMetricsEnabled},
		{"OTEL_TRACING_ENABLED", &cfg.OTELTracingEnabled},
		{"OTEL_LOGS_ENABLED", &cfg.OTELLogsEnabled},
	}
	for _, b := range bools {
		if *b.dst, err = parseBool(v, b.key); err != nil {
			return cfg, atStage(stageParse, err)
		}
	}

	if cfg.WSEventRatePerSecond, err = parseFloat(v, "WS_EVENT_RATE_PER_SEC"); err != nil {
		return cfg, atStage(stageParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, atStage(stageValidate, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.AppEnv {
	case "development", "test", "staging", "production":
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, test, staging, production", c.AppEnv))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.RefreshTokenPepper) < 16 {
		errs = append(errs, "REFRESH_TOKEN_PEPPER must be at least 16 characters")
	}
	if c.JWTAccessTTL <= 0 || c.JWTWebsocketTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, "token lifetimes must be positive")
	}
	if c.DBTxTimeout <= 0 {
		errs = append(errs, "DB_TX_TIMEOUT must be positive")
	}
	if c.PrincipalCacheTTL < 0 {
		errs = append(errs, "PRINCIPAL_CACHE_TTL must not be negative")
	}
	switch c.PrincipalCacheBackend {
	case "none", "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when PRINCIPAL_CACHE_BACKEND=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("PRINCIPAL_CACHE_BACKEND %q is not one of none, memory, redis", c.PrincipalCacheBackend))
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_BACKEND %q is not one of memory, redis", c.RateLimitBackend))
	}
	switch c.RealtimeFanout {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when REALTIME_FANOUT=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("REALTIME_FANOUT %q is not one of local, redis", c.RealtimeFanout))
	}
	if c.WSEventRatePerSecond <= 0 || c.WSEventBurst <= 0 {
		errs = append(errs, "WS_EVENT_RATE_PER_SEC and WS_EVENT_BURST must be positive")
	}
	if c.FrontendURL == "" {
		errs = append(errs, "FRONTEND_URL is required")
	}
	if c.IsProduction() && c.OTELExporterOTLPInsecure && (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) {
		errs = append(errs, "OTEL_EXPORTER_OTLP_INSECURE must be false in production")
	}
	if len(errs) > 0 {
		return errors.New("validate config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// SecureCookies is false only in development so the frontend can run over plain http.
func (c *Config) SecureCookies() bool { return !c.IsDevelopment() }

func (c *Config) CORSOrigins() []string {
	out := []string{}
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
