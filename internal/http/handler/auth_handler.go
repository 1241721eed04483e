package handler

import (
	"net"
	"net/http"

	"github.com/millatvt/millat-backend/internal/apperr"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/http/middleware"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/security"
	"github.com/millatvt/millat-backend/internal/service"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type authResponse struct {
	User        domain.Profile `json:"user"`
	AccessToken string         `json:"accessToken"`
}

type AuthHandler struct {
	auth           *service.AuthService
	cookies        security.CookieOptions
	exposeInternal bool
}

func NewAuthHandler(auth *service.AuthService, cookies security.CookieOptions, exposeInternal bool) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies, exposeInternal: exposeInternal}
}

func (h *AuthHandler) Login(kind domain.PrincipalKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		res, err := h.auth.Login(r.Context(), kind, req.Email, req.Password, requestMeta(r))
		if err != nil {
			observability.Audit(r, "auth.login", "kind", string(kind), "outcome", string(apperr.KindOf(err)))
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		security.SetAuthCookies(w, res.Tokens, h.cookies)
		observability.Audit(r, "auth.login", "kind", string(kind), "principal_id", res.Profile.ID, "outcome", "success")
		response.JSONWithMessage(w, r, http.StatusOK, "Login successful", authResponse{User: res.Profile, AccessToken: res.Tokens.AccessToken})
	}
}

func (h *AuthHandler) SignupStudent(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	res, err := h.auth.SignupStudent(r.Context(), service.SignupInput{Name: req.Name, Email: req.Email, Password: req.Password}, requestMeta(r))
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	security.SetAuthCookies(w, res.Tokens, h.cookies)
	observability.Audit(r, "auth.signup", "kind", string(domain.KindStudent), "principal_id", res.Profile.ID)
	response.JSONWithMessage(w, r, http.StatusCreated, "Signup successful", authResponse{User: res.Profile, AccessToken: res.Tokens.AccessToken})
}

// Logout drops the presented refresh token and clears both cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := security.GetCookie(r, security.RefreshTokenCookie); raw != "" {
		if err := h.auth.Logout(r.Context(), raw); err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
	}
	security.ClearAuthCookies(w, h.cookies)
	if auth, ok := middleware.AuthFromContext(r.Context()); ok {
		observability.Audit(r, "auth.logout", "principal", auth.Principal.String())
	}
	response.JSONWithMessage(w, r, http.StatusOK, "Logout successful", nil)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	n, err := h.auth.LogoutAll(r.Context(), auth.Principal)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	security.ClearAuthCookies(w, h.cookies)
	observability.Audit(r, "auth.logout_all", "principal", auth.Principal.String(), "revoked", n)
	response.JSONWithMessage(w, r, http.StatusOK, "Logged out from all devices", map[string]int64{"revoked": n})
}

// Sessions lists the caller's live refresh tokens, marking the one in the
// request's cookie.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	sessions, err := h.auth.Sessions(r.Context(), auth.Principal, security.GetCookie(r, security.RefreshTokenCookie))
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, sessions)
}

// RevokeSession signs one of the caller's devices out. Revoking the session
// in use also clears the cookies.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	id, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	current := false
	if raw := security.GetCookie(r, security.RefreshTokenCookie); raw != "" {
		sessions, err := h.auth.Sessions(r.Context(), auth.Principal, raw)
		if err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		for _, s := range sessions {
			if s.ID == id && s.IsCurrent {
				current = true
			}
		}
	}
	if err := h.auth.RevokeSession(r.Context(), auth.Principal, id); err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	if current {
		security.ClearAuthCookies(w, h.cookies)
	}
	observability.Audit(r, "auth.session.revoke", "principal", auth.Principal.String(), "session_id", id, "current", current)
	response.JSONWithMessage(w, r, http.StatusOK, "Session revoked", map[string]any{"id": id, "current": current})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.RefreshTokenCookie)
	if raw == "" {
		response.FromError(w, r, apperr.Authentication("Refresh token missing"), h.exposeInternal)
		return
	}
	res, err := h.auth.Refresh(r.Context(), raw, requestMeta(r))
	if err != nil {
		security.ClearAuthCookies(w, h.cookies)
		observability.Audit(r, "auth.refresh", "outcome", string(apperr.KindOf(err)))
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	security.SetAuthCookies(w, res.Tokens, h.cookies)
	observability.Audit(r, "auth.refresh", "principal_id", res.Profile.ID, "kind", string(res.Profile.Kind), "outcome", "success")
	response.JSONWithMessage(w, r, http.StatusOK, "Token refreshed", authResponse{User: res.Profile, AccessToken: res.Tokens.AccessToken})
}

func (h *AuthHandler) WebsocketToken(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	res, err := h.auth.WebsocketToken(r.Context(), auth.Principal)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	profile, err := h.auth.Me(r.Context(), auth.Principal)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, profile)
}

func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.RequestMeta{UserAgent: r.UserAgent(), IP: ip}
}
