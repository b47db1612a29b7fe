package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/internal/handler/appointment"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/availability"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/changerequest"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/health"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/care-scheduling-api/internal/middleware"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	availabilityService "github.com/jwalitptl/care-scheduling-api/internal/service/availability"
	bookingService "github.com/jwalitptl/care-scheduling-api/internal/service/booking"
	negotiationService "github.com/jwalitptl/care-scheduling-api/internal/service/negotiation"
	"github.com/jwalitptl/care-scheduling-api/internal/service/servicetest"
	"github.com/jwalitptl/care-scheduling-api/pkg/auth"
)

type api struct {
	t      *testing.T
	f      *servicetest.Fixture
	engine *gin.Engine
	tokens auth.JWTService
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	f := servicetest.New(t)
	opts := f.Options()
	rules := availabilityService.Rules{DefaultSlotMinutes: 60, MinSlotMinutes: 15, MaxSlotMinutes: 240, MaxSlotsPerWindow: 12}

	tokens := auth.NewJWTService("secret", "test", time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	r := NewRouter(
		f.Log,
		authMiddleware,
		health.NewHandler(map[string]health.Pinger{"database": f.Store}),
		prometheus.New(prom.NewRegistry(), f.Metrics),
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), MetricsPath: "/metrics"},
		appointment.NewHandler(bookingService.NewService(f.Store, f.Directory, f.Log, f.Metrics, opts)),
		availability.NewHandler(availabilityService.NewService(f.Store, f.Directory, rules, f.Log, f.Metrics, opts), authMiddleware),
		changerequest.NewHandler(negotiationService.NewService(f.Store, f.Log, f.Metrics, opts)),
	)
	r.Setup()

	return &api{t: t, f: f, engine: r.Engine(), tokens: tokens}
}

// do sends body as JSON on behalf of actor; a nil actor sends no token.
func (a *api) do(actor *model.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := a.tokens.GenerateAccessToken(actor.UserID, actor.Role)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestPublicRoutes(t *testing.T) {
	a := newAPI(t)

	w := a.do(nil, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(nil, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(nil, http.MethodGet, "/api/v1/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))
}

func TestBookAndNegotiateFlow(t *testing.T) {
	a := newAPI(t)
	f := a.f

	// caregiver publishes a slot
	w := a.do(&f.Caregiver, http.MethodPost, "/api/v1/availability", gin.H{
		"date": "2025-06-02", "start_time": "09:00", "end_time": "10:00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	slot := decode[model.AvailabilitySlot](t, w).Data

	w = a.do(&f.Client, http.MethodPost, "/api/v1/availability", gin.H{
		"date": "2025-06-02", "start_time": "11:00", "end_time": "12:00",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// client books it
	w = a.do(&f.Client, http.MethodPost, "/api/v1/appointments", gin.H{
		"availability_slot_id": slot.ID, "task": "  weekly check-in ",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decode[model.Appointment](t, w).Data
	assert.Equal(t, "weekly check-in", appt.Task)
	assert.Equal(t, f.Caregiver.UserID, appt.CaregiverID)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), appt.ScheduledAt.UTC())
	assert.Equal(t, 60, appt.DurationMinutes)

	w = a.do(&f.Other, http.MethodPost, "/api/v1/appointments", gin.H{
		"availability_slot_id": slot.ID, "task": "same slot",
	})
	assert.Equal(t, http.StatusNotFound, w.Code, "the slot was consumed")

	w = a.do(&f.Other, http.MethodGet, "/api/v1/appointments/"+appt.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "access_denied", decode[any](t, w).Code)

	// client proposes a new time
	target := f.Slot(t, f.Caregiver.UserID, "2025-06-03", "14:00", "15:30")
	w = a.do(&f.Client, http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/change-requests", gin.H{
		"new_availability_slot_id": target.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cr := decode[model.ChangeRequest](t, w).Data
	assert.Equal(t, model.ChangeRequestStatusPending, cr.Status)

	w = a.do(&f.Client, http.MethodPost, "/api/v1/change-requests/"+cr.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "authors cannot approve their own request")

	w = a.do(&f.Caregiver, http.MethodGet, "/api/v1/change-requests/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[[]model.ChangeRequest](t, w).Data
	require.Len(t, pending, 1)
	assert.Equal(t, cr.ID, pending[0].ID)

	w = a.do(&f.Caregiver, http.MethodPost, "/api/v1/change-requests/"+cr.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[model.Appointment](t, w).Data
	assert.Equal(t, time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC), moved.ScheduledAt.UTC())
	assert.Equal(t, 90, moved.DurationMinutes)

	w = a.do(&f.Caregiver, http.MethodPost, "/api/v1/change-requests/"+cr.ID.String()+"/reject", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_state", decode[any](t, w).Code)

	// the old window is offered again
	assert.True(t, f.HasWindow(t, f.Caregiver.UserID, "2025-06-02", "09:00", "10:00"))

	w = a.do(&f.Client, http.MethodGet, "/api/v1/appointments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Appointment](t, w).Data, 1)
}

func TestRequestErrors(t *testing.T) {
	a := newAPI(t)
	f := a.f

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing fields", http.MethodPost, "/api/v1/appointments", gin.H{}, http.StatusBadRequest, "invalid_input"},
		{"bad slot date", http.MethodPost, "/api/v1/availability", gin.H{"date": "tomorrow", "start_time": "09:00", "end_time": "10:00"}, http.StatusBadRequest, "invalid_input"},
		{"bad id", http.MethodGet, "/api/v1/appointments/not-a-uuid", nil, http.StatusBadRequest, "invalid_input"},
		{"unknown appointment", http.MethodGet, "/api/v1/appointments/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"unknown change request", http.MethodPost, "/api/v1/change-requests/" + uuid.NewString() + "/approve", nil, http.StatusNotFound, "not_found"},
		{"bad list date", http.MethodGet, "/api/v1/availability?from=June", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(&f.Caregiver, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[any](t, w).Code)
		})
	}
}
