package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         float64
	Concurrency int
	Seed        uint64
	Kind        string
	Email       string
	Password    string
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	Elapsed       time.Duration
}

func (r Result) Details() []string {
	out := []string{fmt.Sprintf("total=%d failures=%d elapsed=%s", r.TotalRequests, r.Failures, r.Elapsed.Truncate(time.Millisecond))}
	for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other"} {
		if n := r.StatusClasses[class]; n > 0 {
			out = append(out, fmt.Sprintf("%s=%d", class, n))
		}
	}
	return out
}

type recorder struct {
	mu  sync.Mutex
	res Result
}

func (r *recorder) record(status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.TotalRequests++
	if err != nil {
		r.res.Failures++
		r.res.StatusClasses["other"]++
		return
	}
	class := classifyStatusClass(status)
	r.res.StatusClasses[class]++
	if class == "5xx" || class == "other" {
		r.res.Failures++
	}
}

// Run drives traffic against a running server at a fixed aggregate rate.
// The auth profile logs in once per worker and then rotates the refresh
// cookie; the health profile only hits the liveness probe.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Kind == "" {
		cfg.Kind = "student"
	}
	if cfg.Profile != "health" && (cfg.Email == "" || cfg.Password == "") {
		return Result{}, fmt.Errorf("profile %s needs --email and --password", cfg.Profile)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	rec := &recorder{res: Result{StatusClasses: map[string]int{}}}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		w, err := newWorker(cfg, uint64(i))
		if err != nil {
			return Result{}, err
		}
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				status, err := w.step(gctx)
				if gctx.Err() != nil {
					return nil
				}
				rec.record(status, err)
			}
		})
	}
	_ = g.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.res.Elapsed = time.Since(start)
	return rec.res, nil
}

type worker struct {
	cfg      Config
	client   *http.Client
	rng      *rand.Rand
	loggedIn bool
}

func newWorker(cfg Config, id uint64) (*worker, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &worker{
		cfg:    cfg,
		client: &http.Client{Jar: jar, Timeout: 10 * time.Second},
		rng:    rand.New(rand.NewPCG(cfg.Seed, id)),
	}, nil
}

func (w *worker) step(ctx context.Context) (int, error) {
	switch w.cfg.Profile {
	case "health":
		return w.do(ctx, http.MethodGet, "/health/live", nil)
	case "auth":
		return w.authStep(ctx)
	default:
		switch w.rng.IntN(3) {
		case 0:
			return w.do(ctx, http.MethodGet, "/health/live", nil)
		case 1:
			return w.authStep(ctx)
		default:
			if !w.loggedIn {
				return w.authStep(ctx)
			}
			return w.do(ctx, http.MethodGet, "/api/conversations", nil)
		}
	}
}

func (w *worker) authStep(ctx context.Context) (int, error) {
	if !w.loggedIn {
		status, err := w.do(ctx, http.MethodPost, "/api/auth/"+w.cfg.Kind+"/login", map[string]string{
			"email":    w.cfg.Email,
			"password": w.cfg.Password,
		})
		w.loggedIn = err == nil && status == http.StatusOK
		return status, err
	}
	status, err := w.do(ctx, http.MethodPost, "/api/auth/refresh", nil)
	if err != nil || status != http.StatusOK {
		w.loggedIn = false
	}
	return status, err
}

func (w *worker) do(ctx context.Context, method, path string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(raw string) string {
	switch p := strings.ToLower(strings.TrimSpace(raw)); p {
	case "health", "auth":
		return p
	default:
		return "mixed"
	}
}
