package handler

import (
	"net/http"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/http/middleware"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/service"
)

type createConversationRequest struct {
	ParticipantType string `json:"participantType" validate:"required,oneof=admin teacher student"`
	ParticipantID   uint   `json:"participantId" validate:"required,gt=0"`
	Message         string `json:"message" validate:"max=4000"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type markReadRequest struct {
	MessageIDs []uint `json:"messageIds" validate:"required,min=1,max=500,dive,gt=0"`
}

type ConversationHandler struct {
	conversations  *service.ConversationService
	exposeInternal bool
}

func NewConversationHandler(conversations *service.ConversationService, exposeInternal bool) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, exposeInternal: exposeInternal}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	list, err := h.conversations.List(r.Context(), auth.Principal)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, list)
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	view, created, err := h.conversations.Create(r.Context(), auth.Principal, service.CreateConversationInput{
		CounterpartKind: domain.PrincipalKind(req.ParticipantType),
		CounterpartID:   req.ParticipantID,
		Message:         req.Message,
	})
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	if created {
		response.JSONWithMessage(w, r, http.StatusCreated, "Conversation created", view)
		return
	}
	if view.Message != nil {
		response.JSONWithMessage(w, r, http.StatusOK, "Message sent", view)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	id, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	page, err := h.conversations.Messages(r.Context(), auth.Principal, id, pageFromQuery(r))
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	id, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	msg, err := h.conversations.Send(r.Context(), auth.Principal, id, req.Content)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSONWithMessage(w, r, http.StatusCreated, "Message sent", msg)
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	id, err := uintParam(r, "id")
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	receipt, err := h.conversations.MarkRead(r.Context(), auth.Principal, id, req.MessageIDs)
	if err != nil {
		response.FromError(w, r, err, h.exposeInternal)
		return
	}
	response.JSON(w, r, http.StatusOK, receipt)
}
