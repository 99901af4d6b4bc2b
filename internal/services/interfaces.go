package services

import (
	"context"

	domain "github.com/productshop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderSummary       = domain.OrderSummary
	ShippingProfile    = domain.ShippingProfile
	PaymentMethod      = domain.PaymentMethod
	PaymentStatus      = domain.PaymentStatus
	ReservationFailure = domain.ReservationFailure
	StockKey           = domain.StockKey
	HealthReport       = domain.HealthReport
)

// CheckoutService prices order requests and settles placements against inventory.
type CheckoutService interface {
	Preview(ctx context.Context, cmd PreviewCommand) (CheckoutPreview, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PaymentResult, error)
}

// OrderService exposes member order history and the post-payment lifecycle.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderSummary], error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// SystemService reports readiness of the storage and messaging dependencies.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// LineRequest is one requested product (optionally one option) with a quantity.
type LineRequest struct {
	ProductID string
	OptionID  string
	Quantity  int64
}

type PreviewCommand struct {
	MemberID string
	Lines    []LineRequest
}

// CheckoutPreview is returned to confirmation screens before the member commits to payment.
type CheckoutPreview struct {
	Shipping ShippingProfile
	Pricing  PricingSummary
}

type PlaceOrderCommand struct {
	MemberID      string
	Shipping      ShippingProfile
	PaymentMethod string
	RequestNote   string
	Lines         []LineRequest
}

// PaymentResult is the settled outcome of a placement. Stock shortfalls are reported through
// Status and FailureReason rather than as errors.
type PaymentResult struct {
	Status        PaymentStatus
	OrderID       string
	Order         Order
	Pricing       PricingSummary
	Shipping      ShippingProfile
	PaymentMethod PaymentMethod
	RequestNote   string
	FailureReason ReservationFailure
}

// Completed reports whether the placement reserved stock and settled the order.
func (r PaymentResult) Completed() bool {
	return r.Status == domain.PaymentStatusCompleted
}

type OrderListFilter struct {
	MemberID   string
	Pagination Pagination
}

type OrderQuery struct {
	MemberID string
	OrderID  string
}

type CancelOrderCommand struct {
	MemberID string
	OrderID  string
	Reason   string
}

type RequestReturnCommand struct {
	MemberID string
	OrderID  string
	Reason   string
}

// OrderStatusTransitionCommand drives fulfilment transitions performed by staff.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}
