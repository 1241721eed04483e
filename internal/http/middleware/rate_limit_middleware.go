package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/security"
)

// Policy allows Limit requests per Window for each key.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// Limiter is a rate limit backend shared by every route using a RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

const (
	localLimiterSize = 10_000
	rateLimitCode    = "RATE_LIMITED"
	rateLimitMessage = "Too many requests, please try again later"
)

// LocalLimiter keeps one token bucket per key in process memory. Idle buckets
// are evicted after two windows or when the cache is full.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

func NewLocalLimiter(window time.Duration) *LocalLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](localLimiterSize, nil, 2*window),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	now := l.now()

	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(rate.Every(policy.Window/time.Duration(policy.Limit)), policy.Limit)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()

	res := bucket.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: delay, ResetAt: now.Add(delay)}, nil
	}
	tokens := bucket.TokensAt(now)
	missing := float64(policy.Limit) - tokens
	refill := time.Duration(missing * float64(policy.Window) / float64(policy.Limit))
	return Decision{
		Allowed:   true,
		Remaining: int(math.Max(math.Floor(tokens), 0)),
		ResetAt:   now.Add(refill),
	}, nil
}

// RateLimiter turns a Limiter into chi middleware for one route group.
type RateLimiter struct {
	limiter Limiter
	policy  Policy
	mode    FailureMode
	scope   string
	key     KeyFunc
}

// NewRateLimiter counts requests against limiter. scope labels metrics and
// logs; a nil key buckets by client IP.
func NewRateLimiter(limiter Limiter, policy Policy, mode FailureMode, scope string, key KeyFunc) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if key == nil {
		key = clientIPKey
	}
	return &RateLimiter{limiter: limiter, policy: policy.normalized(), mode: mode, scope: scope, key: key}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.key(r)
			if key == "" {
				key = clientIPKey(r)
			}
			keyType := rateLimitKeyType(key)

			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", keyType)
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				decision = Decision{RetryAfter: rl.policy.Window, ResetAt: time.Now().Add(rl.policy.Window)}
			}

			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision)
			if !decision.Allowed {
				if err == nil {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", keyType)
					slog.DebugContext(r.Context(), "rate limit exceeded", "scope", rl.scope, "key_type", keyType)
				}
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, rateLimitCode, rateLimitMessage, nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", keyType)
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectOrIPKeyFunc buckets authenticated callers by principal so users
// behind one NAT do not share a budget.
func SubjectOrIPKeyFunc(jwtMgr *security.JWTManager) KeyFunc {
	return func(r *http.Request) string {
		if jwtMgr == nil {
			return clientIPKey(r)
		}
		if subject := requestSubject(r, jwtMgr); subject != "" {
			return "sub:" + subject
		}
		return clientIPKey(r)
	}
}

// requestSubject identifies the caller from a valid access token, or "".
func requestSubject(r *http.Request, jwtMgr *security.JWTManager) string {
	raw, _ := accessTokenFromRequest(r)
	if raw == "" {
		return ""
	}
	claims, err := jwtMgr.ParseAccessToken(raw)
	if err != nil {
		return ""
	}
	p, err := claims.Principal()
	if err != nil {
		return ""
	}
	return p.String()
}

// parseRequestIP reads RemoteAddr, which chi's RealIP middleware has already
// rewritten from the forwarding headers.
func parseRequestIP(r *http.Request) net.IP {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

func clientIPKey(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

func writeRateLimitHeaders(h http.Header, limit int, d Decision) {
	resetAt := d.ResetAt
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func rateLimitKeyType(key string) string {
	if strings.HasPrefix(key, "sub:") {
		return "subject"
	}
	return "ip"
}
