package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productshop/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("order_not_found", "order\nmissing", http.StatusNotFound))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Empty(t, rr.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "order_not_found", body["error"])
	assert.Equal(t, "order missing", body["message"])
	assert.EqualValues(t, 404, body["status"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "abc", body["trace_id"])
}

func TestWriteErrorRetryAfterAndDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("order_unavailable", "try later", http.StatusServiceUnavailable).
		WithRetryAfter(1500 * time.Millisecond).
		WithDetails(map[string]any{"status": "overridden", "checks": []string{"postgres"}})
	WriteError(context.Background(), rr, err)

	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 503, body["status"])
	assert.Equal(t, []any{"postgres"}, body["checks"])
	assert.NotContains(t, body, "request_id")
}

func TestZeroStatusWritesInternalError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, Error{Code: "boom"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
