package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/millatvt/millat-backend/internal/app"
	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/realtime"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// instance is one fully wired server process sharing storage with its peers.
type instance struct {
	app     *app.App
	baseURL string
}

type cluster struct {
	redis  *miniredis.Miniredis
	dbPath string
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	return &cluster{redis: miniredis.RunT(t), dbPath: filepath.Join(t.TempDir(), "millat.db")}
}

func (c *cluster) config(mutate func(*config.Config)) *config.Config {
	cfg := &config.Config{
		AppEnv:                "test",
		HTTPAddr:              "127.0.0.1:0",
		FrontendURL:           "http://localhost:5173",
		DatabaseDriver:        "sqlite",
		DatabaseURL:           "file:" + c.dbPath + "?_busy_timeout=5000&_journal_mode=WAL",
		AutoMigrate:           true,
		DBTxTimeout:           5 * time.Second,
		RedisAddr:             c.redis.Addr(),
		JWTIssuer:             "millat-backend",
		JWTAudience:           "millat-frontend",
		JWTAccessSecret:       "abcdefghijklmnopqrstuvwxyz123456",
		JWTAccessTTL:          15 * time.Minute,
		JWTWebsocketTTL:       2 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		RefreshTokenPepper:    "pepper-pepper-pepper",
		AuthRateLimitRPM:      1000,
		APIRateLimitRPM:       1000,
		RateLimitBackend:      "redis",
		PrincipalCacheBackend: "redis",
		PrincipalCacheTTL:     time.Minute,
		PrincipalCacheSize:    128,
		RealtimeFanout:        "redis",
		RealtimeRedisChannel:  "millat:itest",
		WSEventRatePerSecond:  50,
		WSEventBurst:          50,
		WSSendBuffer:          32,
		TokenCleanupInterval:  time.Hour,
		ShutdownTimeout:       2 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// start wires an instance through the production injector and serves its
// handler from an httptest server. The realtime listener runs until cleanup.
func (c *cluster) start(t *testing.T, mutate func(*config.Config)) *instance {
	t.Helper()
	cfg := c.config(mutate)
	subscribers := c.redis.PubSubNumSub(cfg.RealtimeRedisChannel)[cfg.RealtimeRedisChannel]

	a, err := app.InitializeApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Gateway.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		a.Close()
	})

	if cfg.RealtimeFanout == "redis" {
		waitFor(t, func() bool {
			return c.redis.PubSubNumSub(cfg.RealtimeRedisChannel)[cfg.RealtimeRedisChannel] > subscribers
		})
	}
	return &instance{app: a, baseURL: srv.URL}
}

func (in *instance) seed(t *testing.T, kind domain.PrincipalKind, email, password string) domain.Principal {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	acct := &domain.Account{Email: email, Name: email, PasswordHash: hash, Active: true}
	if err := repository.NewPrincipalRepository(in.app.DB).Create(context.Background(), kind, acct); err != nil {
		t.Fatalf("seed %s: %v", email, err)
	}
	return domain.Principal{ID: acct.ID, Kind: kind}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp, env
}

func login(t *testing.T, in *instance, kind domain.PrincipalKind, email, password string) *http.Client {
	t.Helper()
	c := newClient(t)
	resp, env := doJSON(t, c, http.MethodPost, in.baseURL+"/api/auth/"+string(kind)+"/login", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %+v", email, resp.StatusCode, env)
	}
	return c
}

func dialGateway(t *testing.T, in *instance, client *http.Client) *websocket.Conn {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodGet, in.baseURL+"/api/auth/refresh/websocket-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("websocket token: %d %+v", resp.StatusCode, env)
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	before, _ := in.app.Gateway.Hub().Stats()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(in.baseURL, "http")+"/ws?token="+tok.Token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitFor(t, func() bool {
		n, _ := in.app.Gateway.Hub().Stats()
		return n > before
	})
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, want string) realtime.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f realtime.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read %s: %v", want, err)
	}
	if f.Event != want {
		t.Fatalf("expected %s, got %s %s", want, f.Event, f.Data)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
