package services

import (
	"context"
	"maps"
	"time"
)

const (
	orderEventPlaced          = "order.placed"
	orderEventPaymentFailed   = "order.payment_failed"
	orderEventCancelled       = "order.cancelled"
	orderEventReturnRequested = "order.return_requested"
	orderEventShipped         = "order.shipped"
	orderEventDelivered       = "order.delivered"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	MemberID       string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	TotalPrice     int64
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderMetrics receives counters for placements and lifecycle transitions.
type OrderMetrics interface {
	PlacementSettled(status PaymentStatus, failure ReservationFailure)
	StockCompensated(pools int)
	StatusTransitioned(from, to OrderStatus)
}

type noopOrderMetrics struct{}

func (noopOrderMetrics) PlacementSettled(PaymentStatus, ReservationFailure) {}
func (noopOrderMetrics) StockCompensated(int)                               {}
func (noopOrderMetrics) StatusTransitioned(OrderStatus, OrderStatus)        {}

type eventSink struct {
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// publish is best effort; the order is already committed when it runs.
func (s eventSink) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}
