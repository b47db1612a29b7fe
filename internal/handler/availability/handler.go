package availability

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/handler"
	"github.com/jwalitptl/care-scheduling-api/internal/middleware"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/pkg/errors"
	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
)

type Service interface {
	CreateSlot(ctx context.Context, actor model.Actor, req *model.CreateSlotRequest) (*model.AvailabilitySlot, error)
	CreateSlotsFromWindow(ctx context.Context, actor model.Actor, req *model.CreateSlotWindowRequest) ([]*model.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, actor model.Actor, id uuid.UUID) error
	ListSlots(ctx context.Context, filters model.SlotFilters) ([]*model.AvailabilitySlot, error)
}

type Handler struct {
	service Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	slots := r.Group("/availability")
	{
		slots.GET("", h.ListSlots)

		manage := slots.Group("", h.auth.RequireRole(model.RoleCaregiver, model.RoleAdmin))
		manage.POST("", h.CreateSlot)
		manage.POST("/window", h.CreateWindow)
		manage.DELETE("/:id", h.DeleteSlot)
	}
}

func (h *Handler) CreateSlot(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.CreateSlotRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	slot, err := h.service.CreateSlot(c.Request.Context(), actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, slot)
}

func (h *Handler) CreateWindow(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.CreateSlotWindowRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	slots, err := h.service.CreateSlotsFromWindow(c.Request.Context(), actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, slots)
}

func (h *Handler) DeleteSlot(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteSlot(c.Request.Context(), actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"id": id})
}

func (h *Handler) ListSlots(c *gin.Context) {
	filters := model.SlotFilters{Pagination: handler.Page(c)}

	var ok bool
	if filters.CaregiverID, ok = handler.QueryUUID(c, "caregiver_id"); !ok {
		return
	}
	for name, dst := range map[string]*model.Date{"from": &filters.From, "to": &filters.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.InvalidInput("invalid "+name+", expected YYYY-MM-DD", err))
			return
		}
		*dst = d
	}

	slots, err := h.service.ListSlots(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithList(c, slots, filters.Limit, filters.Offset, len(slots))
}
