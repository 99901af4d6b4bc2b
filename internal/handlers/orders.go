package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/productshop/api/internal/platform/auth"
	"github.com/productshop/api/internal/platform/httpx"
	"github.com/productshop/api/internal/platform/pagination"
	"github.com/productshop/api/internal/services"
)

const maxOrderCancelBodySize = 4 * 1024

var orderPageOptions = pagination.Options{
	DefaultPageSize: pagination.DefaultPageSize,
	MaxPageSize:     pagination.DefaultMaxPageSize,
}

type orderReasonRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the member's order history and post-payment actions.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders read and lifecycle endpoints on the API root.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireAuth())
		}
		group.Get("/orders", h.listOrders)
		group.Get("/orders/{orderID}", h.getOrder)
		group.Post("/orders/{orderID}:cancel", h.cancelOrder)
		group.Post("/orders/{orderID}:return", h.requestReturn)
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, orderPageOptions)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		MemberID: strings.TrimSpace(identity.UID),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, summary := range page.Items {
		items = append(items, buildOrderSummary(summary))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		MemberID: strings.TrimSpace(identity.UID),
		OrderID:  orderID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req orderReasonRequest
	if !decodeJSONBody(ctx, w, r, maxOrderCancelBodySize, true, &req) {
		return
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		MemberID: strings.TrimSpace(identity.UID),
		OrderID:  orderID,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, cancelled.ID, cancelled.Status)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req orderReasonRequest
	if !decodeJSONBody(ctx, w, r, maxOrderCancelBodySize, true, &req) {
		return
	}

	returned, err := h.orders.RequestReturn(ctx, services.RequestReturnCommand{
		MemberID: strings.TrimSpace(identity.UID),
		OrderID:  orderID,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, returned.ID, returned.Status)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(returned)})
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	TotalPrice        int64  `json:"total_price"`
	FirstProductTitle string `json:"first_product_title"`
	LineCount         int    `json:"line_count"`
	CreatedAt         string `json:"created_at"`
	StatusChangedAt   string `json:"status_changed_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	MemberID          string             `json:"member_id"`
	Status            string             `json:"status"`
	Paid              bool               `json:"paid"`
	PaymentMethod     string             `json:"payment_method"`
	ItemsTotal        int64              `json:"items_total"`
	ShippingFee       int64              `json:"shipping_fee"`
	TotalPrice        int64              `json:"total_price"`
	Shipping          shippingPayload    `json:"shipping"`
	RequestNote       string             `json:"request_note,omitempty"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	CancelReason      string             `json:"cancel_reason,omitempty"`
	ReturnReason      string             `json:"return_reason,omitempty"`
	Lines             []orderLinePayload `json:"lines"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	StatusChangedAt   string             `json:"status_changed_at,omitempty"`
	PaidAt            string             `json:"paid_at,omitempty"`
	FailedAt          string             `json:"failed_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
	ReturnRequestedAt string             `json:"return_requested_at,omitempty"`
	Cancellable       bool               `json:"cancellable"`
	Returnable        bool               `json:"returnable"`
}

type orderLinePayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	OptionID     string `json:"option_id,omitempty"`
	ProductTitle string `json:"product_title"`
	OptionName   string `json:"option_name,omitempty"`
	Quantity     int64  `json:"quantity"`
	ProductPrice int64  `json:"product_price"`
	OptionPrice  int64  `json:"option_price"`
	UnitPrice    int64  `json:"unit_price"`
	LineTotal    int64  `json:"line_total"`
}

func buildOrderSummary(summary services.OrderSummary) orderSummaryPayload {
	return orderSummaryPayload{
		ID:                summary.ID,
		Status:            string(summary.Status),
		TotalPrice:        summary.TotalPrice,
		FirstProductTitle: summary.FirstProductTitle,
		LineCount:         summary.LineCount,
		CreatedAt:         formatTime(summary.CreatedAt),
		StatusChangedAt:   formatTime(summary.StatusChangedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		MemberID:          order.MemberID,
		Status:            string(order.Status),
		Paid:              order.Paid,
		PaymentMethod:     string(order.PaymentMethod),
		ItemsTotal:        order.ItemsTotal,
		ShippingFee:       order.ShippingFee,
		TotalPrice:        order.TotalPrice,
		Shipping:          buildShippingPayload(order.Shipping),
		RequestNote:       order.RequestNote,
		FailureReason:     string(order.FailureReason),
		CancelReason:      order.CancelReason,
		ReturnReason:      order.ReturnReason,
		Lines:             make([]orderLinePayload, 0, len(order.Lines)),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		StatusChangedAt:   formatTime(order.StatusChangedAt),
		PaidAt:            formatTime(pointerTime(order.PaidAt)),
		FailedAt:          formatTime(pointerTime(order.FailedAt)),
		ShippedAt:         formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:       formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:       formatTime(pointerTime(order.CancelledAt)),
		ReturnRequestedAt: formatTime(pointerTime(order.ReturnRequestedAt)),
		Cancellable:       services.IsCancellable(order.Status),
		Returnable:        services.IsReturnable(order.Status),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:           line.ID,
			ProductID:    line.ProductID,
			OptionID:     line.OptionID,
			ProductTitle: line.ProductTitle,
			OptionName:   line.OptionName,
			Quantity:     line.Quantity,
			ProductPrice: line.ProductPrice,
			OptionPrice:  line.OptionPrice,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
	}
	return payload
}

// retryAfter is advertised on lock contention and storage outages.
const retryAfter = 2 * time.Second

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMemberNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("member_not_found", "member profile not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidReference):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_reference", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrReturnWindowExpired):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_expired", "return window has expired", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict).WithRetryAfter(retryAfter))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order storage unavailable", http.StatusServiceUnavailable).WithRetryAfter(retryAfter))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
