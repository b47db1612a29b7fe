package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/pkg/auth"
	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewJWTService("secret", "test", time.Hour)
	m := NewAuthMiddleware(tokens)
	id := uuid.New()
	token, err := tokens.GenerateAccessToken(id, model.RoleCaregiver)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", m.Authenticate(), func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": actor.UserID, "role": actor.Role})
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", decode(t, w).Code)
			} else {
				assert.Contains(t, w.Body.String(), id.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(auth.NewJWTService("secret", "", time.Hour))

	serve := func(actor *model.Actor) int {
		r := gin.New()
		r.GET("/slots", func(c *gin.Context) {
			if actor != nil {
				c.Set(ContextActor, *actor)
			}
			c.Next()
		}, m.RequireRole(model.RoleCaregiver, model.RoleAdmin), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slots", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(&model.Actor{UserID: uuid.New(), Role: model.RoleCaregiver}))
	assert.Equal(t, http.StatusNoContent, serve(&model.Actor{UserID: uuid.New(), Role: model.RoleAdmin}))
	assert.Equal(t, http.StatusForbidden, serve(&model.Actor{UserID: uuid.New(), Role: model.RoleClient}))
	assert.Equal(t, http.StatusUnauthorized, serve(nil))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func TestRateLimit(t *testing.T) {
	actor := model.Actor{UserID: uuid.New(), Role: model.RoleClient}

	serve := func(l *stubLimiter, withActor bool) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			if withActor {
				c.Set(ContextActor, actor)
			}
			c.Next()
		}, RateLimit(l, logger.Nop()), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}

	t.Run("allowed per user", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		assert.Equal(t, http.StatusOK, serve(l, true).Code)
		assert.Equal(t, []string{"user:" + actor.UserID.String()}, l.keys)
	})

	t.Run("anonymous keyed by ip", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		serve(l, false)
		require.Len(t, l.keys, 1)
		assert.True(t, strings.HasPrefix(l.keys[0], "ip:"))
	})

	t.Run("denied", func(t *testing.T) {
		w := serve(&stubLimiter{}, true)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "rate_limited", decode(t, w).Code)
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		w := serve(&stubLimiter{err: stderrors.New("redis down")}, true)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})

	serve := func(rid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if rid != "" {
			req.Header.Set(HeaderXRequestID, rid)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := serve("abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "abc-123", w.Body.String())

	w = serve("")
	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err, "a missing id is minted")

	w = serve(strings.Repeat("x", maxRequestIDLength+1))
	_, err = uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err, "an oversized id is replaced")
}

type bookingBody struct {
	Date string `json:"date" binding:"required,date"`
	Task string `json:"task" binding:"required"`
}

func TestValidationRendersBindErrors(t *testing.T) {
	require.NoError(t, RegisterValidators())

	r := gin.New()
	r.Use(Validation())
	r.POST("/x", func(c *gin.Context) {
		var body bookingBody
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}
		c.Status(http.StatusCreated)
	})

	serve := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusCreated, serve(`{"date":"2025-06-01","task":"walk"}`).Code)

	w := serve(`{"date":"June 1st"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "invalid_input", resp.Code)
	assert.Contains(t, resp.Message, "date must be a date in YYYY-MM-DD form")
	assert.Contains(t, resp.Message, "task is required")
	assert.Len(t, resp.Data, 2)

	w = serve(`{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(decode(t, w).Message, "malformed request"))
}
