package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/platform/auth"
	"github.com/productshop/api/internal/platform/httpx"
	"github.com/productshop/api/internal/services"
)

// AdminOrderHandlers exposes fulfilment transitions to staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the fulfilment endpoints under the /admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		group.Post("/orders/{orderID}:ship", h.transition(domain.OrderStatusShipping))
		group.Post("/orders/{orderID}:deliver", h.transition(domain.OrderStatusDelivered))
	})
}

func (h *AdminOrderHandlers) transition(target domain.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
			OrderID:      orderID,
			TargetStatus: target,
			ActorID:      strings.TrimSpace(identity.UID),
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		annotateOrder(ctx, order.ID, order.Status)
		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}
