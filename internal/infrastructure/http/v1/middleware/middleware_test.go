package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/pkg/logger"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), Logger(logger.Nop()), ErrorHandler(), Actor("ops"))
	r.GET("/x", handlers...)
	return r
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestTrace_PropagatesIDs(t *testing.T) {
	var seen *appctx.TraceContext
	var actor string
	r := newEngine(func(c *gin.Context) {
		seen = appctx.GetTrace(c.Request.Context())
		actor = appctx.GetActor(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	req.Header.Set(HeaderTraceID, "trace-42")
	req.Header.Set(HeaderActor, "alice")
	w, _ := serve(r, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "req-42", seen.RequestID)
	assert.Equal(t, "trace-42", seen.TraceID)
	assert.Len(t, seen.SpanID, 16)
	assert.Equal(t, "alice", actor)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "trace-42", w.Header().Get(HeaderTraceID))
}

func TestTrace_GeneratesIDs(t *testing.T) {
	r := newEngine(func(c *gin.Context) { c.Status(http.StatusOK) })
	w, _ := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Len(t, w.Header().Get(HeaderTraceID), 32)
}

func TestRecovery_RendersInternalError(t *testing.T) {
	r := newEngine(func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	w, body := serve(r, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.NotContains(t, w.Body.String(), "boom")
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "req-7", details["request_id"])
}

func TestErrorHandler_RetryableHint(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(apperror.NewLockTimeout("fiscal_periods"))
		c.Abort()
	})
	w, body := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apperror.CodeLockTimeout, body["code"])
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
