package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func postOrder(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	code, _ := payload["error"].(string)
	return code
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, postOrder("", `{}`))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareRequiredKey(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithRequired(true))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "idempotency_key_required", errorCode(t, rec.Body.Bytes()))
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("abc-123", `{"lines":[1]}`))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder("abc-123", `{"lines":[1]}`))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"orderId":"ord_1"}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("abc", `{"a":1}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("abc", `{"a":2}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "idempotency_key_conflict", errorCode(t, rec.Body.Bytes()))
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("retry-me", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("retry-me", `{}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestMiddlewareSkipsNonPost(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Idempotency-Key", "abc")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(replayHeaderName))
}

type failingStore struct{ MemoryStore }

func (*failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{}, errors.New("redis down")
}

func TestMiddlewareStoreOutage(t *testing.T) {
	handler := Middleware(&failingStore{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, postOrder("abc", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	require.NoError(t, store.SaveResponse(ctx, "k", "fp", Response{Status: 201, Body: []byte("ok")}, fixedTime, time.Hour))
	res, err = store.Reserve(ctx, "k", "fp", fixedTime.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, []byte("ok"), res.Record.ResponseBody)

	res, err = store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State, "expired records are replaced")

	require.NoError(t, store.Release(ctx, "k"))
	_, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
}

func TestSanitizeHeadersDropsHopByHop(t *testing.T) {
	headers := sanitizeHeaders(http.Header{
		"content-type":   {"application/json"},
		"Content-Length": {"12"},
		"Connection":     {"keep-alive"},
	})
	assert.Equal(t, map[string][]string{"Content-Type": {"application/json"}}, headers)
	assert.Nil(t, sanitizeHeaders(nil))
}
