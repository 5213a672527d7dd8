package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyerfyer/paper-dataset/api/model"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SetTraceID(), ErrorMiddleware())
	r.GET("/test", handler)
	return r
}

func serve(t *testing.T, r *gin.Engine) (*httptest.ResponseRecorder, model.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		typ  string
	}{
		{"app error", NewConflictError("busy"), http.StatusConflict, ErrorTypeConflict},
		{"app error pointer", &AppError{Type: ErrorTypeNotFound, Message: "gone", Code: http.StatusNotFound}, http.StatusNotFound, ErrorTypeNotFound},
		{"wrapped app error", fmt.Errorf("handler: %w", NewValidationError("bad")), http.StatusBadRequest, ErrorTypeValidation},
		{"invalid config", models.NewError(models.KindInvalidConfig, "run config", nil), http.StatusBadRequest, ErrorTypeValidation},
		{"unsupported format", models.NewError(models.KindUnsupportedFormat, "yaml", nil), http.StatusBadRequest, ErrorTypeValidation},
		{"not found", models.ErrNotFound, http.StatusNotFound, ErrorTypeNotFound},
		{"network", models.NewError(models.KindNetwork, "connection refused", nil), http.StatusBadGateway, ErrorTypeUnavailable},
		{"internal", models.NewError(models.KindInternal, "stage transition", nil), http.StatusInternalServerError, ErrorTypeInternal},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := FromError(tt.err)
			assert.Equal(t, tt.code, app.Code)
			assert.Equal(t, tt.typ, app.Type)
		})
	}
}

func TestErrorMiddlewareWritesEnvelope(t *testing.T) {
	r := newTestRouter(func(c *gin.Context) {
		HandleError(c, NewConflictError("已有运行正在进行"))
	})

	w, resp := serve(t, r)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "已有运行正在进行", resp.Message)
	assert.Equal(t, "trace-123", resp.TraceID)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestErrorMiddlewareRecoversPanic(t *testing.T) {
	r := newTestRouter(func(c *gin.Context) {
		panic("unexpected")
	})

	w, resp := serve(t, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "An unexpected error occurred", resp.Message)
	assert.Equal(t, "trace-123", resp.TraceID)
}

func TestErrorMiddlewareKeepsWrittenResponse(t *testing.T) {
	r := newTestRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, model.NewSuccessResponse("ok"))
		HandleError(c, errors.New("late error"))
	})

	w, resp := serve(t, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody([]byte("short")))

	long := bytes.Repeat([]byte("a"), maxLoggedBody+10)
	out := truncateBody(long)
	assert.True(t, strings.HasSuffix(out, "(10 bytes truncated)"))
	assert.Len(t, out, maxLoggedBody+len("...(10 bytes truncated)"))
}

func TestGenerateTraceID(t *testing.T) {
	a, b := generateTraceID(), generateTraceID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^\d{14}-[0-9a-f]{8}$`, a)
}
