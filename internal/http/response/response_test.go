package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/millatvt/millat-backend/internal/apperr"
)

type decoded struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
	Stack   []string          `json:"stack"`
	Meta    struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) decoded {
	t.Helper()
	var out decoded
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v body=%s", err, rr.Body.String())
	}
	return out
}

func TestFromErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Authentication("Invalid credentials"), http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
		{apperr.Forbidden("Account is banned or deactivated"), http.StatusForbidden, "FORBIDDEN"},
		{apperr.NotFound("Conversation not found"), http.StatusNotFound, "NOT_FOUND"},
		{apperr.Conflict("Email already registered"), http.StatusConflict, "CONFLICT"},
		{apperr.Validation("Validation failed", map[string]string{"email": "required"}), http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req-1")
		FromError(rr, req, tc.err, false)

		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, rr.Code)
		}
		body := decode(t, rr)
		if body.Success || body.Code != tc.code || body.Meta.RequestID != "req-1" {
			t.Fatalf("unexpected envelope %+v", body)
		}
	}
}

func TestFromErrorValidationFields(t *testing.T) {
	rr := httptest.NewRecorder()
	FromError(rr, httptest.NewRequest(http.MethodPost, "/", nil), apperr.Validation("Validation failed", map[string]string{"email": "required"}), false)
	if body := decode(t, rr); body.Errors["email"] != "required" {
		t.Fatalf("expected field errors, got %+v", body)
	}
}

func TestFromErrorHidesInternalInProduction(t *testing.T) {
	err := apperr.Internal(errors.New("pq: connection refused"), "load principal")

	rr := httptest.NewRecorder()
	FromError(rr, httptest.NewRequest(http.MethodGet, "/", nil), err, false)
	body := decode(t, rr)
	if rr.Code != http.StatusInternalServerError || body.Message != "Internal server error" || len(body.Stack) != 0 {
		t.Fatalf("internal details leaked: %+v", body)
	}

	rr = httptest.NewRecorder()
	FromError(rr, httptest.NewRequest(http.MethodGet, "/", nil), err, true)
	body = decode(t, rr)
	if body.Message == "Internal server error" || len(body.Stack) == 0 {
		t.Fatalf("expected message and stack outside production, got %+v", body)
	}
}

func TestFromErrorPlainError(t *testing.T) {
	rr := httptest.NewRecorder()
	FromError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"), false)
	if rr.Code != http.StatusInternalServerError || decode(t, rr).Code != "INTERNAL_ERROR" {
		t.Fatalf("expected 500 INTERNAL_ERROR, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestJSONEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	JSONWithMessage(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, "Created", map[string]int{"id": 1})
	body := decode(t, rr)
	if rr.Code != http.StatusCreated || !body.Success || body.Message != "Created" || body.Meta.RequestID != "req-unknown" {
		t.Fatalf("unexpected envelope %+v", body)
	}
}
