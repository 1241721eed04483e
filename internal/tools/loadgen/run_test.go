package loadgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  AUTH  "); got != "auth" {
		t.Fatalf("normalizeProfile auth=%q want auth", got)
	}
}

func TestRunRequiresCredentialsForAuthProfiles(t *testing.T) {
	if _, err := Run(context.Background(), Config{Profile: "auth", Duration: time.Second}); err == nil {
		t.Fatal("expected missing credentials error")
	}
}

func TestRunAuthProfileRotatesRefreshCookie(t *testing.T) {
	var logins, refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/teacher/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "r1", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("refreshToken"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		refreshes.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := Run(context.Background(), Config{
		BaseURL:     srv.URL,
		Profile:     "auth",
		Duration:    300 * time.Millisecond,
		RPS:         50,
		Concurrency: 2,
		Kind:        "teacher",
		Email:       "t@millat.edu",
		Password:    "secret-pass",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalRequests == 0 || res.Failures != 0 || res.StatusClasses["2xx"] != res.TotalRequests {
		t.Fatalf("unexpected result %+v", res)
	}
	if logins.Load() != 2 || refreshes.Load() == 0 {
		t.Fatalf("expected one login per worker then refreshes, got logins=%d refreshes=%d", logins.Load(), refreshes.Load())
	}
}
