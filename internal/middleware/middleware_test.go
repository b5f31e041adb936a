package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/javajoker/tunevault-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-test-secret")
	userID := uuid.New()
	token, err := utils.GenerateJWT(userID, "alice", "artist", 1)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", AuthRequired(), func(c *gin.Context) {
		id, ok := utils.GetUserIDFromContext(c)
		assert.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	w := serve(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())

	assert.Equal(t, http.StatusOK, serve(r, "bearer "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, token).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer ").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer "+token+"x").Code)
}

func TestAdminRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-test-secret")

	r := gin.New()
	r.GET("/", AuthRequired(), AdminRequired(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	artist, err := utils.GenerateJWT(uuid.New(), "alice", "artist", 1)
	require.NoError(t, err)
	admin, err := utils.GenerateJWT(uuid.New(), "root", "admin", 1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer "+artist).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "Bearer "+admin).Code)
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(rate.Every(time.Minute), 2)
	clock := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	ok, _ := limiter.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := limiter.allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), wait.Seconds(), 1)

	ok, _ = limiter.allow("10.0.0.2")
	assert.True(t, ok, "other clients keep their own bucket")

	clock = clock.Add(time.Minute)
	ok, _ = limiter.allow("10.0.0.1")
	assert.True(t, ok)
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(1), 1)
	clock := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	limiter.allow("10.0.0.1")
	clock = clock.Add(visitorTTL + time.Second)
	limiter.allow("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.visitors, "10.0.0.1")
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(rate.Every(time.Minute), 1)

	r := gin.New()
	r.Use(RequestLogger(), limiter.Middleware())
	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, serve(r, "").Code)

	w := serve(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"RATE_LIMITED"`)
	assert.Contains(t, w.Body.String(), `"request_id"`)
}

func TestRequestLoggerKeepsIncomingID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(utils.ContextRequestID))
	})

	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
