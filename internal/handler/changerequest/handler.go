package changerequest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/handler"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
)

// Service is the change negotiation surface the handler needs.
type Service interface {
	CreateChangeRequest(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, req *model.CreateChangeRequestRequest) (*model.ChangeRequest, error)
	ApproveChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Appointment, error)
	RejectChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) error
	CancelChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) error
	GetChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.ChangeRequest, error)
	ListChangeRequests(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, page model.Pagination) ([]*model.ChangeRequest, error)
	ListPendingForUser(ctx context.Context, actor model.Actor, page model.Pagination) ([]*model.ChangeRequest, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/appointments/:id/change-requests", h.CreateChangeRequest)
	r.GET("/appointments/:id/change-requests", h.ListForAppointment)

	requests := r.Group("/change-requests")
	{
		requests.GET("/pending", h.ListPending)
		requests.GET("/:id", h.GetChangeRequest)
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/reject", h.Reject)
		requests.DELETE("/:id", h.Cancel)
	}
}

func (h *Handler) CreateChangeRequest(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	appointmentID, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.CreateChangeRequestRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	cr, err := h.service.CreateChangeRequest(c.Request.Context(), actor, appointmentID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, cr)
}

func (h *Handler) ListForAppointment(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	appointmentID, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	page := handler.Page(c)
	requests, err := h.service.ListChangeRequests(c.Request.Context(), actor, appointmentID, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithList(c, requests, page.Limit, page.Offset, len(requests))
}

func (h *Handler) ListPending(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}

	page := handler.Page(c)
	requests, err := h.service.ListPendingForUser(c.Request.Context(), actor, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithList(c, requests, page.Limit, page.Offset, len(requests))
}

func (h *Handler) GetChangeRequest(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	cr, err := h.service.GetChangeRequest(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, cr)
}

func (h *Handler) Approve(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	appointment, err := h.service.ApproveChangeRequest(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appointment)
}

func (h *Handler) Reject(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.RejectChangeRequest(c.Request.Context(), actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"id": id, "status": model.ChangeRequestStatusRejected})
}

func (h *Handler) Cancel(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.CancelChangeRequest(c.Request.Context(), actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"id": id})
}
