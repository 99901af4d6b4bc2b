package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/productshop/api/internal/domain"
)

func TestRegistryOrderCounters(t *testing.T) {
	reg := New()

	reg.PlacementSettled(domain.PaymentStatusCompleted, domain.ReservationFailureNone)
	reg.PlacementSettled(domain.PaymentStatusFailed, domain.ReservationFailureInsufficient)
	reg.PlacementSettled(domain.PaymentStatusFailed, domain.ReservationFailureInsufficient)
	reg.StockCompensated(3)
	reg.StatusTransitioned(domain.OrderStatusPaymentCompleted, domain.OrderStatusCancelled)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.placements.WithLabelValues("PAYMENT_COMPLETED", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.placements.WithLabelValues("PAYMENT_FAILED", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.compensations))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.compensated))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.transitions.WithLabelValues("PAYMENT_COMPLETED", "ORDER_CANCELLED")))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	reg := New()
	router := chi.NewRouter()
	router.Use(reg.Middleware)
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Handle("/metrics", reg.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.requests.WithLabelValues("/orders/{orderID}", "GET", "404")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "productshop_http_requests_total"))
}
