package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/productshop/api/internal/platform/auth"
	"github.com/productshop/api/internal/platform/httpx"
	"github.com/productshop/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes order preview and placement for authenticated members.
type CheckoutHandlers struct {
	authn     *auth.Authenticator
	checkout  services.CheckoutService
	placement []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithPlacementMiddlewares wraps only the placement route, after authentication has run.
func WithPlacementMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.placement = append(h.placement, mw...)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by bearer authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints on the API root.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireAuth())
		}
		group.Post("/orders:preview", h.preview)

		placement := group
		for _, mw := range h.placement {
			if mw != nil {
				placement = placement.With(mw)
			}
		}
		placement.Post("/orders", h.placeOrder)
	})
}

type lineRequestPayload struct {
	ProductID string `json:"product_id"`
	OptionID  string `json:"option_id"`
	Quantity  int64  `json:"quantity"`
}

type shippingPayload struct {
	RecipientName string `json:"recipient_name"`
	ZipCode       string `json:"zip_code"`
	Address       string `json:"address"`
	Phone         string `json:"phone"`
}

type previewRequest struct {
	Lines []lineRequestPayload `json:"lines"`
}

type placeOrderRequest struct {
	Lines         []lineRequestPayload `json:"lines"`
	PaymentMethod string               `json:"payment_method"`
	RequestNote   string               `json:"request_note"`
	Shipping      *shippingPayload     `json:"shipping"`
}

type pricedLinePayload struct {
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

type pricingPayload struct {
	Lines       []pricedLinePayload `json:"lines"`
	ItemsTotal  int64               `json:"items_total"`
	ShippingFee int64               `json:"shipping_fee"`
	TotalPrice  int64               `json:"total_price"`
}

type previewResponse struct {
	Shipping shippingPayload `json:"shipping"`
	Pricing  pricingPayload  `json:"pricing"`
}

type placeOrderResponse struct {
	Status        string          `json:"status"`
	OrderID       string          `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	RequestNote   string          `json:"request_note,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Shipping      shippingPayload `json:"shipping"`
	Pricing       pricingPayload  `json:"pricing"`
}

func (h *CheckoutHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req previewRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutRequestBody, false, &req) {
		return
	}

	preview, err := h.checkout.Preview(ctx, services.PreviewCommand{
		MemberID: strings.TrimSpace(identity.UID),
		Lines:    toLineRequests(req.Lines),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, previewResponse{
		Shipping: buildShippingPayload(preview.Shipping),
		Pricing:  buildPricingPayload(preview.Pricing),
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutRequestBody, false, &req) {
		return
	}

	cmd := services.PlaceOrderCommand{
		MemberID:      strings.TrimSpace(identity.UID),
		PaymentMethod: req.PaymentMethod,
		RequestNote:   req.RequestNote,
		Lines:         toLineRequests(req.Lines),
	}
	if req.Shipping != nil {
		cmd.Shipping = services.ShippingProfile{
			RecipientName: req.Shipping.RecipientName,
			ZipCode:       req.Shipping.ZipCode,
			Address:       req.Shipping.Address,
			Phone:         req.Shipping.Phone,
		}
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	annotateOrder(ctx, result.OrderID, result.Order.Status)
	w.Header().Set("Location", "/api/v1/orders/"+result.OrderID)
	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Status:        string(result.Status),
		OrderID:       result.OrderID,
		PaymentMethod: string(result.PaymentMethod),
		RequestNote:   result.RequestNote,
		FailureReason: string(result.FailureReason),
		Shipping:      buildShippingPayload(result.Shipping),
		Pricing:       buildPricingPayload(result.Pricing),
	})
}

func toLineRequests(lines []lineRequestPayload) []services.LineRequest {
	out := make([]services.LineRequest, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.LineRequest{
			ProductID: strings.TrimSpace(line.ProductID),
			OptionID:  strings.TrimSpace(line.OptionID),
			Quantity:  line.Quantity,
		})
	}
	return out
}

func buildShippingPayload(profile services.ShippingProfile) shippingPayload {
	return shippingPayload{
		RecipientName: profile.RecipientName,
		ZipCode:       profile.ZipCode,
		Address:       profile.Address,
		Phone:         profile.Phone,
	}
}

func buildPricingPayload(summary services.PricingSummary) pricingPayload {
	payload := pricingPayload{
		Lines:       make([]pricedLinePayload, 0, len(summary.Lines)),
		ItemsTotal:  summary.ItemsTotal,
		ShippingFee: summary.ShippingFee,
		TotalPrice:  summary.TotalPrice,
	}
	for _, line := range summary.Lines {
		payload.Lines = append(payload.Lines, pricedLinePayload{
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
