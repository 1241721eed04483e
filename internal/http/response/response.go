package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/millatvt/millat-backend/internal/apperr"
)

type envelope struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
	Stack   []string    `json:"stack,omitempty"`
	Meta    meta        `json:"meta"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func JSONWithMessage(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}) {
	write(w, status, envelope{Success: true, Message: message, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, fieldErrors interface{}) {
	write(w, status, envelope{Success: false, Code: code, Message: message, Errors: fieldErrors, Meta: buildMeta(r)})
}

// FromError maps an error to its status and envelope. Errors that are not
// *apperr.Error become 500s; their text and stack are only exposed when
// exposeInternal is set.
func FromError(w http.ResponseWriter, r *http.Request, err error, exposeInternal bool) {
	kind := apperr.KindOf(err)
	env := envelope{Success: false, Code: string(kind), Meta: buildMeta(r)}

	appErr, ok := asAppError(err)
	switch {
	case ok && kind != apperr.KindInternal:
		env.Message = appErr.Message
		if len(appErr.Fields) > 0 {
			env.Errors = appErr.Fields
		}
	case exposeInternal:
		env.Message = err.Error()
		for _, frame := range apperr.StackOf(err) {
			env.Stack = append(env.Stack, fmt.Sprintf("%+v", frame))
		}
	default:
		env.Message = "Internal server error"
	}
	if kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", env.Meta.RequestID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	write(w, kind.HTTPStatus(), env)
}

func asAppError(err error) (*apperr.Error, bool) {
	var appErr *apperr.Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func write(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
