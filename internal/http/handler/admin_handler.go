package handler

import (
	"net/http"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/http/middleware"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/service"
)

type createPrincipalRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type setStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type AdminHandler struct {
	admin          *service.AdminService
	exposeInternal bool
}

func NewAdminHandler(admin *service.AdminService, exposeInternal bool) *AdminHandler {
	return &AdminHandler{admin: admin, exposeInternal: exposeInternal}
}

func (h *AdminHandler) Create(kind domain.PrincipalKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPrincipalRequest
		if err := decodeJSON(r, &req); err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		profile, err := h.admin.CreatePrincipal(r.Context(), kind, service.CreatePrincipalInput{Name: req.Name, Email: req.Email, Password: req.Password})
		if err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		observability.Audit(r, "admin.principal.create", "kind", string(kind), "principal_id", profile.ID)
		response.JSONWithMessage(w, r, http.StatusCreated, "Created", profile)
	}
}

func (h *AdminHandler) List(kind domain.PrincipalKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := h.admin.ListPrincipals(r.Context(), kind, pageFromQuery(r))
		if err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		response.JSON(w, r, http.StatusOK, page)
	}
}

// SetStatus bans or reinstates a teacher or student.
func (h *AdminHandler) SetStatus(kind domain.PrincipalKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uintParam(r, "id")
		if err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		var req setStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		if err := h.admin.SetPrincipalActive(r.Context(), kind, id, *req.Active); err != nil {
			response.FromError(w, r, err, h.exposeInternal)
			return
		}
		actor, _ := middleware.AuthFromContext(r.Context())
		observability.Audit(r, "admin.principal.status", "actor", actor.Principal.String(), "kind", string(kind), "principal_id", id, "active", *req.Active)
		response.JSONWithMessage(w, r, http.StatusOK, "Status updated", map[string]any{"id": id, "active": *req.Active})
	}
}
