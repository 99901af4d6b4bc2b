package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/repositories"
)

const tracerName = "github.com/productshop/api/internal/services"

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Catalog    repositories.CatalogRepository
	Inventory  repositories.InventoryRepository
	Orders     repositories.OrderRepository
	Members    repositories.MemberRepository
	UnitOfWork repositories.UnitOfWork
	// Shipping defaults to DefaultShippingPolicy when zero.
	Shipping        ShippingPolicy
	Limits          PricingLimits
	Clock           func() time.Time
	IDGenerator     func() string
	LineIDGenerator func() string
	Events          OrderEventPublisher
	Metrics         OrderMetrics
	Tracer          trace.Tracer
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders      repositories.OrderRepository
	members     repositories.MemberRepository
	unitOfWork  repositories.UnitOfWork
	pricing     *PricingCalculator
	coordinator *StockCoordinator
	clock       func() time.Time
	newID       func() string
	newLineID   func() string
	sink        eventSink
	metrics     OrderMetrics
	tracer      trace.Tracer
	logger      func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService wires the pricing calculator and stock coordinator into the placement flow.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Members == nil {
		return nil, errors.New("checkout service: member repository is required")
	}

	shipping := deps.Shipping
	if shipping == (ShippingPolicy{}) {
		shipping = DefaultShippingPolicy()
	}
	pricing, err := NewPricingCalculator(deps.Catalog, shipping, deps.Limits)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	coordinator, err := NewStockCoordinator(deps.Inventory, logger)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	lineIDGen := deps.LineIDGenerator
	if lineIDGen == nil {
		lineIDGen = func() string {
			return uuid.NewString()
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &checkoutService{
		orders:      deps.Orders,
		members:     deps.Members,
		unitOfWork:  unit,
		pricing:     pricing,
		coordinator: coordinator,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newLineID: lineIDGen,
		sink:      eventSink{events: deps.Events, logger: logger},
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

func (s *checkoutService) Preview(ctx context.Context, cmd PreviewCommand) (CheckoutPreview, error) {
	member, err := s.lookupMember(ctx, cmd.MemberID)
	if err != nil {
		return CheckoutPreview{}, err
	}

	pricing, err := s.pricing.Compute(ctx, cmd.Lines)
	if err != nil {
		return CheckoutPreview{}, err
	}

	return CheckoutPreview{Shipping: member.Shipping, Pricing: pricing}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (result PaymentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	member, err := s.lookupMember(ctx, cmd.MemberID)
	if err != nil {
		return PaymentResult{}, err
	}

	method, err := parsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return PaymentResult{}, err
	}

	profile := cmd.Shipping
	if profile.IsZero() {
		profile = member.Shipping
	}
	profile, err = normalizeShippingProfile(profile)
	if err != nil {
		return PaymentResult{}, err
	}

	note, err := sanitizeRequestNote(cmd.RequestNote)
	if err != nil {
		return PaymentResult{}, err
	}

	pricing, err := s.pricing.Compute(ctx, cmd.Lines)
	if err != nil {
		return PaymentResult{}, err
	}

	now := s.clock()
	draft := Order{
		ID:              orderIDPrefix + s.newID(),
		MemberID:        member.ID,
		Status:          domain.OrderStatusPaying,
		PaymentMethod:   method,
		ItemsTotal:      pricing.ItemsTotal,
		ShippingFee:     pricing.ShippingFee,
		TotalPrice:      pricing.TotalPrice,
		Shipping:        profile,
		RequestNote:     note,
		Lines:           s.buildOrderLines(pricing.Lines),
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
	span.SetAttributes(
		attribute.String("order.id", draft.ID),
		attribute.Int("order.lines", len(draft.Lines)),
		attribute.Int64("order.total", draft.TotalPrice),
	)

	var (
		settled     Order
		reservation ReservationResult
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order := draft
		order.Lines = append([]OrderLine(nil), draft.Lines...)

		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}

		res, err := s.coordinator.Reserve(txCtx, order.Lines)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		target := domain.OrderStatusPaymentCompleted
		if !res.OK() {
			target = domain.OrderStatusPaymentFailed
			order.FailureReason = res.Failure
		}
		if _, err := applyStatusTransition(&order, target, s.clock()); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}

		settled = order
		reservation = res
		return nil
	})
	if err != nil {
		s.logger(ctx, "checkout.place_order.failed", map[string]any{
			"order":  draft.ID,
			"member": member.ID,
			"error":  err.Error(),
		})
		return PaymentResult{}, err
	}

	status := domain.PaymentStatusCompleted
	eventType := orderEventPlaced
	if !reservation.OK() {
		status = domain.PaymentStatusFailed
		eventType = orderEventPaymentFailed
		s.metrics.StockCompensated(reservation.Compensated)
	}
	s.metrics.PlacementSettled(status, reservation.Failure)
	s.metrics.StatusTransitioned(domain.OrderStatusPaying, settled.Status)
	span.SetAttributes(attribute.String("order.status", string(settled.Status)))

	s.logger(ctx, "checkout.place_order.settled", map[string]any{
		"order":   settled.ID,
		"member":  settled.MemberID,
		"status":  string(settled.Status),
		"reason":  string(settled.FailureReason),
		"total":   settled.TotalPrice,
		"payment": string(settled.PaymentMethod),
	})

	metadata := map[string]any{"paymentMethod": string(settled.PaymentMethod)}
	if !reservation.OK() {
		metadata["reason"] = string(reservation.Failure)
		metadata["stockKey"] = reservation.Key.String()
	}
	s.sink.publish(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        settled.ID,
		MemberID:       settled.MemberID,
		PreviousStatus: domain.OrderStatusPaying,
		CurrentStatus:  settled.Status,
		ActorID:        settled.MemberID,
		TotalPrice:     settled.TotalPrice,
		OccurredAt:     settled.UpdatedAt,
		Metadata:       metadata,
	})

	return PaymentResult{
		Status:        status,
		OrderID:       settled.ID,
		Order:         settled,
		Pricing:       pricing,
		Shipping:      settled.Shipping,
		PaymentMethod: settled.PaymentMethod,
		RequestNote:   settled.RequestNote,
		FailureReason: settled.FailureReason,
	}, nil
}

func (s *checkoutService) lookupMember(ctx context.Context, memberID string) (domain.Member, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return domain.Member{}, fmt.Errorf("%w: member id is required", ErrOrderInvalidInput)
	}
	member, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
		}
		return domain.Member{}, mapOrderRepositoryError(err)
	}
	return member, nil
}

func (s *checkoutService) buildOrderLines(priced []PricedLine) []OrderLine {
	lines := make([]OrderLine, 0, len(priced))
	for _, line := range priced {
		lines = append(lines, OrderLine{
			ID:           s.newLineID(),
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
	return lines
}
