package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditContext records an audit event outside an HTTP handler.
func AuditContext(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	if id := chimiddleware.GetReqID(ctx); id != "" {
		base = append(base, "request_id", id)
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
