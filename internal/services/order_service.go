package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/platform/pagination"
	"github.com/productshop/api/internal/repositories"
)

const (
	unknownProductTitle = "Unknown Product"
	unknownOptionName   = "Unknown Option"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Inventory    repositories.InventoryRepository
	UnitOfWork   repositories.UnitOfWork
	ReturnWindow time.Duration
	Clock        func() time.Time
	Events       OrderEventPublisher
	Metrics      OrderMetrics
	Tracer       trace.Tracer
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	coordinator *StockCoordinator
	unitOfWork  repositories.UnitOfWork
	returns     ReturnWindowPolicy
	clock       func() time.Time
	sink        eventSink
	metrics     OrderMetrics
	tracer      trace.Tracer
	logger      func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	coordinator, err := NewStockCoordinator(deps.Inventory, logger)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &orderService{
		orders:      deps.Orders,
		coordinator: coordinator,
		unitOfWork:  unit,
		returns:     NewReturnWindowPolicy(deps.ReturnWindow),
		clock: func() time.Time {
			return clock().UTC()
		},
		sink:    eventSink{events: deps.Events, logger: logger},
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderSummary], error) {
	memberID := strings.TrimSpace(filter.MemberID)
	if memberID == "" {
		return domain.CursorPage[OrderSummary]{}, fmt.Errorf("%w: member id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByMember(ctx, repositories.OrderListFilter{
		MemberID:   memberID,
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[OrderSummary]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[OrderSummary]{}, mapOrderRepositoryError(err)
	}

	summaries := make([]OrderSummary, 0, len(page.Items))
	for _, order := range page.Items {
		summaries = append(summaries, summarizeOrder(order))
	}
	return domain.CursorPage[OrderSummary]{Items: summaries, NextPageToken: page.NextPageToken}, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if err := ensureOwner(order, query.MemberID); err != nil {
		return Order{}, err
	}
	return withDisplayFallbacks(order), nil
}

// Cancel restores the stock consumed by the order and moves it to ORDER_CANCELLED.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(attribute.String("order.id", cmd.OrderID)))
	defer span.End()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		cancelled Order
		previous  OrderStatus
		skipped   []StockKey
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindForUpdate(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := ensureOwner(order, cmd.MemberID); err != nil {
			return err
		}
		if !IsCancellable(order.Status) {
			return cancelRejection(order.Status)
		}

		_, missing, err := s.coordinator.Restock(txCtx, order.Lines)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		prev, err := applyStatusTransition(&order, domain.OrderStatusCancelled, s.clock())
		if err != nil {
			return err
		}
		order.CancelReason = strings.TrimSpace(cmd.Reason)
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}

		cancelled, previous, skipped = order, prev, missing
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Order{}, err
	}

	if len(skipped) > 0 {
		keys := make([]string, 0, len(skipped))
		for _, key := range skipped {
			keys = append(keys, key.String())
		}
		s.logger(ctx, "order.cancel.restock.skipped", map[string]any{
			"order": cancelled.ID,
			"keys":  keys,
		})
	}

	s.afterTransition(ctx, orderEventCancelled, previous, cancelled, cmd.MemberID, cancelled.CancelReason)
	return withDisplayFallbacks(cancelled), nil
}

// RequestReturn flags a delivered order for return review. Stock is untouched until the
// physical return is confirmed elsewhere.
func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.RequestReturn", trace.WithAttributes(attribute.String("order.id", cmd.OrderID)))
	defer span.End()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		returned Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindForUpdate(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := ensureOwner(order, cmd.MemberID); err != nil {
			return err
		}
		if !IsReturnable(order.Status) {
			return fmt.Errorf("%w: only delivered orders can be returned (status %s)", ErrOrderInvalidState, order.Status)
		}

		now := s.clock()
		if !s.returns.Open(returnWindowStart(order), now) {
			return fmt.Errorf("%w: window of %s elapsed", ErrReturnWindowExpired, s.returns.Window)
		}

		prev, err := applyStatusTransition(&order, domain.OrderStatusReturnRequested, now)
		if err != nil {
			return err
		}
		order.ReturnReason = strings.TrimSpace(cmd.Reason)
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}

		returned, previous = order, prev
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Order{}, err
	}

	s.afterTransition(ctx, orderEventReturnRequested, previous, returned, cmd.MemberID, returned.ReturnReason)
	return withDisplayFallbacks(returned), nil
}

// TransitionStatus applies staff driven fulfilment transitions (shipping and delivery).
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var eventType string
	switch cmd.TargetStatus {
	case domain.OrderStatusShipping:
		eventType = orderEventShipped
	case domain.OrderStatusDelivered:
		eventType = orderEventDelivered
	default:
		return Order{}, fmt.Errorf("%w: unsupported fulfilment status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	var (
		updated  Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindForUpdate(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		prev, err := applyStatusTransition(&order, cmd.TargetStatus, s.clock())
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		updated, previous = order, prev
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterTransition(ctx, eventType, previous, updated, strings.TrimSpace(cmd.ActorID), "")
	return withDisplayFallbacks(updated), nil
}

func (s *orderService) afterTransition(ctx context.Context, eventType string, previous OrderStatus, order Order, actor, reason string) {
	s.metrics.StatusTransitioned(previous, order.Status)
	s.logger(ctx, "order.status.changed", map[string]any{
		"order":    order.ID,
		"previous": string(previous),
		"status":   string(order.Status),
		"actor":    actor,
	})

	var metadata map[string]any
	if reason != "" {
		metadata = map[string]any{"reason": reason}
	}
	s.sink.publish(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		MemberID:       order.MemberID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        actor,
		TotalPrice:     order.TotalPrice,
		OccurredAt:     order.StatusChangedAt,
		Metadata:       metadata,
	})
}

// ensureOwner hides orders of other members behind the not found error.
func ensureOwner(order Order, memberID string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || order.MemberID != memberID {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	return nil
}

func cancelRejection(status OrderStatus) error {
	switch status {
	case domain.OrderStatusShipping, domain.OrderStatusDelivered, domain.OrderStatusReturnRequested:
		return fmt.Errorf("%w: cannot cancel order after it has been shipped", ErrOrderInvalidState)
	default:
		return fmt.Errorf("%w: order in status %s cannot be cancelled", ErrOrderInvalidState, status)
	}
}

func summarizeOrder(order Order) OrderSummary {
	title := unknownProductTitle
	if len(order.Lines) > 0 && strings.TrimSpace(order.Lines[0].ProductTitle) != "" {
		title = order.Lines[0].ProductTitle
	}
	return OrderSummary{
		ID:                order.ID,
		Status:            order.Status,
		TotalPrice:        order.TotalPrice,
		FirstProductTitle: title,
		LineCount:         len(order.Lines),
		CreatedAt:         order.CreatedAt,
		StatusChangedAt:   order.StatusChangedAt,
	}
}

func withDisplayFallbacks(order Order) Order {
	lines := make([]OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		if strings.TrimSpace(line.ProductTitle) == "" {
			line.ProductTitle = unknownProductTitle
		}
		if line.OptionID != "" && strings.TrimSpace(line.OptionName) == "" {
			line.OptionName = unknownOptionName
		}
		lines[i] = line
	}
	order.Lines = lines
	return order
}
