package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/health"
	"github.com/millatvt/millat-backend/internal/http/handler"
	"github.com/millatvt/millat-backend/internal/http/middleware"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/security"
)

type Dependencies struct {
	AuthHandler         *handler.AuthHandler
	ConversationHandler *handler.ConversationHandler
	AdminHandler        *handler.AdminHandler
	Gateway             http.Handler
	JWTManager          *security.JWTManager
	PrincipalChecker    middleware.PrincipalChecker
	CORSOrigins         []string
	AuthRateLimitRPM    int
	APIRateLimitRPM     int
	GlobalRateLimiter   GlobalRateLimiterFunc
	AuthRateLimiter     AuthRateLimiterFunc
	Readiness           *health.ProbeRunner
	EnableOTelHTTP      bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler

var loginKinds = []domain.PrincipalKind{domain.KindAdmin, domain.KindTeacher, domain.KindStudent}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		policy := middleware.Policy{Limit: dep.AuthRateLimitRPM, Window: time.Minute}
		authLimiter = middleware.NewRateLimiter(middleware.NewLocalLimiter(policy.Window), policy, middleware.FailClosed, "auth", nil).Middleware()
	}
	apiLimiter := dep.GlobalRateLimiter
	if apiLimiter == nil {
		policy := middleware.Policy{Limit: dep.APIRateLimitRPM, Window: time.Minute}
		apiLimiter = middleware.NewRateLimiter(middleware.NewLocalLimiter(policy.Window), policy, middleware.FailClosed, "api", middleware.SubjectOrIPKeyFunc(dep.JWTManager)).Middleware()
	}
	authenticated := middleware.AuthMiddleware(dep.JWTManager, dep.PrincipalChecker)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	if dep.Gateway != nil {
		r.Handle("/ws", dep.Gateway)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.BodyLimit(1 << 20))
		r.Use(apiLimiter)

		r.Route("/auth", func(r chi.Router) {
			for _, kind := range loginKinds {
				prefix := "/" + string(kind)
				r.With(authLimiter).Post(prefix+"/login", dep.AuthHandler.Login(kind))
				r.With(authenticated, middleware.RequireKind(kind)).Post(prefix+"/logout", dep.AuthHandler.Logout)
				r.With(authenticated, middleware.RequireKind(kind)).Get(prefix+"/me", dep.AuthHandler.Me)
			}
			r.With(authLimiter).Post("/student/signup", dep.AuthHandler.SignupStudent)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authenticated).Post("/logout-all", dep.AuthHandler.LogoutAll)
			r.With(authenticated).Get("/refresh/websocket-token", dep.AuthHandler.WebsocketToken)
			r.With(authenticated).Get("/sessions", dep.AuthHandler.Sessions)
			r.With(authenticated).Delete("/sessions/{id}", dep.AuthHandler.RevokeSession)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/", dep.ConversationHandler.List)
			r.Post("/", dep.ConversationHandler.Create)
			r.Get("/{id}/messages", dep.ConversationHandler.Messages)
			r.Post("/{id}/messages", dep.ConversationHandler.Send)
			r.Post("/{id}/read", dep.ConversationHandler.MarkRead)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.RequireKind(domain.KindAdmin))
			for _, kind := range []domain.PrincipalKind{domain.KindTeacher, domain.KindStudent} {
				prefix := "/" + string(kind) + "s"
				r.Get(prefix, dep.AdminHandler.List(kind))
				r.Post(prefix, dep.AdminHandler.Create(kind))
				r.Patch(prefix+"/{id}/status", dep.AdminHandler.SetStatus(kind))
			}
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
