package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/platform/auth"
	"github.com/productshop/api/internal/services"
)

type stubCheckoutService struct {
	previewFn func(context.Context, services.PreviewCommand) (services.CheckoutPreview, error)
	placeFn   func(context.Context, services.PlaceOrderCommand) (services.PaymentResult, error)
}

func (s *stubCheckoutService) Preview(ctx context.Context, cmd services.PreviewCommand) (services.CheckoutPreview, error) {
	if s.previewFn != nil {
		return s.previewFn(ctx, cmd)
	}
	return services.CheckoutPreview{}, errors.New("not implemented")
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PaymentResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.PaymentResult{}, errors.New("not implemented")
}

func newCheckoutRouter(svc services.CheckoutService, opts ...CheckoutOption) chi.Router {
	router := chi.NewRouter()
	NewCheckoutHandlers(auth.NewAuthenticator(auth.DevVerifier{}), svc, opts...).Routes(router)
	return router
}

func TestCheckoutHandlersPreview(t *testing.T) {
	var captured services.PreviewCommand
	svc := &stubCheckoutService{
		previewFn: func(_ context.Context, cmd services.PreviewCommand) (services.CheckoutPreview, error) {
			captured = cmd
			return services.CheckoutPreview{
				Shipping: services.ShippingProfile{RecipientName: "Kim", ZipCode: "06236", Address: "Seoul", Phone: "01012345678"},
				Pricing: services.PricingSummary{
					Lines: []services.PricedLine{{
						ProductID: "prod-1", OptionID: "opt-1", ProductTitle: "Lamp", OptionName: "Black",
						Quantity: 2, ProductPrice: 10000, OptionPrice: 1000, UnitPrice: 11000, LineTotal: 22000,
					}},
					ItemsTotal:  22000,
					ShippingFee: 3000,
					TotalPrice:  25000,
				},
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	body := `{"lines":[{"product_id":" prod-1 ","option_id":"opt-1","quantity":2}]}`
	newCheckoutRouter(svc).ServeHTTP(rr, authedRequest(http.MethodPost, "/orders:preview", "member-1", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.MemberID != "member-1" || len(captured.Lines) != 1 || captured.Lines[0].ProductID != "prod-1" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp previewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Pricing.TotalPrice != 25000 || resp.Pricing.ShippingFee != 3000 || resp.Shipping.RecipientName != "Kim" {
		t.Fatalf("unexpected preview %+v", resp)
	}
	if len(resp.Pricing.Lines) != 1 || resp.Pricing.Lines[0].UnitPrice != 11000 {
		t.Fatalf("unexpected priced lines %+v", resp.Pricing.Lines)
	}
}

func TestCheckoutHandlersPreviewRequiresBody(t *testing.T) {
	rr := httptest.NewRecorder()
	newCheckoutRouter(&stubCheckoutService{}).ServeHTTP(rr, authedRequest(http.MethodPost, "/orders:preview", "member-1", ""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPlaceOrderCompleted(t *testing.T) {
	var captured services.PlaceOrderCommand
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PaymentResult, error) {
			captured = cmd
			return services.PaymentResult{
				Status:        domain.PaymentStatusCompleted,
				OrderID:       "ord_01",
				PaymentMethod: domain.PaymentMethodKB,
				Shipping:      cmd.Shipping,
				Pricing:       services.PricingSummary{ItemsTotal: 50000, TotalPrice: 50000},
			}, nil
		},
	}

	body := `{"payment_method":"kb","request_note":"leave at door","shipping":{"recipient_name":"Lee","zip_code":"12345","address":"Busan","phone":"0101111"},"lines":[{"product_id":"prod-1","quantity":5}]}`
	rr := httptest.NewRecorder()
	newCheckoutRouter(svc).ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", "member-1", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord_01" {
		t.Fatalf("unexpected location %q", loc)
	}
	if captured.PaymentMethod != "kb" || captured.RequestNote != "leave at door" || captured.Shipping.RecipientName != "Lee" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "PAYMENT_COMPLETED" || resp.OrderID != "ord_01" || resp.FailureReason != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCheckoutHandlersPlaceOrderStockFailureIsNotAnError(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PaymentResult, error) {
			if !cmd.Shipping.IsZero() {
				t.Errorf("expected shipping to be omitted, got %+v", cmd.Shipping)
			}
			return services.PaymentResult{
				Status:        domain.PaymentStatusFailed,
				OrderID:       "ord_02",
				FailureReason: domain.ReservationFailureInsufficient,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCheckoutRouter(svc).ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", "member-1", `{"payment_method":"BC","lines":[{"product_id":"prod-1","quantity":1}]}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"failure_reason":"insufficient_stock"`) {
		t.Fatalf("expected failure reason in body, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersPlaceOrderErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: unknown payment method", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: prod-9", services.ErrCatalogNotFound), http.StatusNotFound, "catalog_not_found"},
		{services.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
		{fmt.Errorf("%w: option opt-1 is not offered for product prod-2", services.ErrInvalidReference), http.StatusNotFound, "invalid_reference"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubCheckoutService{
				placeFn: func(context.Context, services.PlaceOrderCommand) (services.PaymentResult, error) {
					return services.PaymentResult{}, tc.err
				},
			}
			rr := httptest.NewRecorder()
			newCheckoutRouter(svc).ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", "member-1", `{"lines":[]}`))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("expected code %s in %s", tc.code, rr.Body.String())
			}
		})
	}
}

func TestCheckoutHandlersPlacementMiddlewareOnlyWrapsPlacement(t *testing.T) {
	var hits []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	svc := &stubCheckoutService{
		previewFn: func(context.Context, services.PreviewCommand) (services.CheckoutPreview, error) {
			return services.CheckoutPreview{}, nil
		},
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.PaymentResult, error) {
			return services.PaymentResult{Status: domain.PaymentStatusCompleted, OrderID: "ord_1"}, nil
		},
	}
	router := newCheckoutRouter(svc, WithPlacementMiddlewares(mw))

	router.ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodPost, "/orders:preview", "member-1", `{"lines":[]}`))
	router.ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodPost, "/orders", "member-1", `{"lines":[]}`))

	if len(hits) != 1 || hits[0] != "/orders" {
		t.Fatalf("expected middleware to run for placement only, got %v", hits)
	}
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)
