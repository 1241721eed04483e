package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "millat.db"))
	t.Setenv("JWT_ACCESS_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	t.Setenv("REFRESH_TOKEN_PEPPER", "pepper-pepper-pepper")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"serve"}, {"migrate", "up"}, {"migrate", "down"}, {"admin", "create"},
		{"admin", "ban"}, {"admin", "unban"}, {"tokens", "cleanup"}, {"watch"}, {"loadgen"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("expected command %v, got %v %v", path, cmd, err)
		}
	}
}

func TestAccountLifecycleAgainstSQLite(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "migrate", "up")
	if err != nil || !strings.Contains(out, "schema synced") {
		t.Fatalf("migrate up: %q %v", out, err)
	}

	out, err = execute(t, "admin", "create", "--name", "Root", "--email", "root@millat.edu", "--password", "admin-pass")
	if err != nil || !strings.Contains(out, "created admin:1 root@millat.edu") {
		t.Fatalf("admin create: %q %v", out, err)
	}
	if _, err := execute(t, "admin", "create", "--name", "Root", "--email", "root@millat.edu", "--password", "admin-pass"); err == nil {
		t.Fatal("expected duplicate email to fail")
	}

	out, err = execute(t, "admin", "create", "--kind", "teacher", "--name", "T", "--email", "t@millat.edu", "--password", "teacher-pass")
	if err != nil || !strings.Contains(out, "created teacher:1") {
		t.Fatalf("teacher create: %q %v", out, err)
	}
	out, err = execute(t, "admin", "ban", "teacher", "1")
	if err != nil || !strings.Contains(out, "teacher:1 active=false") {
		t.Fatalf("ban: %q %v", out, err)
	}
	if _, err := execute(t, "admin", "ban", "admin", "1"); err == nil {
		t.Fatal("expected admins to be unbannable")
	}
	if _, err := execute(t, "admin", "ban", "student", "nope"); err == nil {
		t.Fatal("expected invalid id error")
	}

	out, err = execute(t, "tokens", "cleanup")
	if err != nil || !strings.Contains(out, "removed 0 expired") {
		t.Fatalf("tokens cleanup: %q %v", out, err)
	}
}

func TestAdminBanClearsSharedStatusCache(t *testing.T) {
	setTestEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("PRINCIPAL_CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", mr.Addr())

	if _, err := execute(t, "migrate", "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := execute(t, "admin", "create", "--kind", "teacher", "--name", "T", "--email", "t@millat.edu", "--password", "teacher-pass"); err != nil {
		t.Fatalf("teacher create: %v", err)
	}
	key := "millat:principal_status:teacher:1"
	if err := mr.Set(key, "1"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := mr.Set("millat:principal_status:student:1", "1"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	out, err := execute(t, "admin", "ban", "teacher", "1")
	if err != nil || !strings.Contains(out, "teacher:1 active=false") {
		t.Fatalf("ban: %q %v", out, err)
	}
	if mr.Exists(key) {
		t.Fatal("expected cached active status to be dropped on ban")
	}
	if !mr.Exists("millat:principal_status:student:1") {
		t.Fatal("unrelated cache entry must survive")
	}
}

func TestAdminCreateRequiresInput(t *testing.T) {
	setTestEnv(t)
	if _, err := execute(t, "admin", "create", "--email", "x@millat.edu", "--password", "short"); err == nil {
		t.Fatal("expected missing name and short password to fail")
	}
}

func TestMigrateDownRejectsSQLite(t *testing.T) {
	setTestEnv(t)
	if _, err := execute(t, "migrate", "down", "--steps", "1"); err == nil {
		t.Fatal("expected sql migrations to require postgres")
	}
	if _, err := execute(t, "migrate", "down", "--steps", "0"); err == nil {
		t.Fatal("expected non-positive steps to fail")
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":      "ws://localhost:8080/ws?token=abc",
		"https://api.millat.edu/":    "wss://api.millat.edu/ws?token=abc",
		"https://millat.edu/backend": "wss://millat.edu/backend/ws?token=abc",
	}
	for base, want := range cases {
		got, err := websocketURL(base, "abc")
		if err != nil || got != want {
			t.Fatalf("websocketURL(%q) = %q %v, want %q", base, got, err, want)
		}
	}
}

func TestCallAPISurfacesEnvelopeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/ok" {
			_, _ = w.Write([]byte(`{"success":true,"data":{"token":"t"}}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	}))
	defer srv.Close()

	data, err := callAPI(context.Background(), srv.Client(), http.MethodGet, srv.URL+"/ok", nil)
	if err != nil || !strings.Contains(string(data), `"token":"t"`) {
		t.Fatalf("ok: %s %v", data, err)
	}
	_, err = callAPI(context.Background(), srv.Client(), http.MethodPost, srv.URL+"/login", map[string]string{"email": "x"})
	if err == nil || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("expected envelope message in error, got %v", err)
	}
}
