package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/repositories/memory"
)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type captureOrderMetrics struct {
	mu          sync.Mutex
	settled     map[PaymentStatus]int
	compensated int
	transitions []string
}

func (c *captureOrderMetrics) PlacementSettled(status PaymentStatus, _ ReservationFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled == nil {
		c.settled = map[PaymentStatus]int{}
	}
	c.settled[status]++
}

func (c *captureOrderMetrics) StockCompensated(pools int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compensated += pools
}

func (c *captureOrderMetrics) StatusTransitioned(from, to OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, string(from)+"->"+string(to))
}

var testShipping = ShippingProfile{
	RecipientName: "Kim Minji",
	ZipCode:       "06236",
	Address:       "Teheran-ro 152, Gangnam-gu, Seoul",
	Phone:         "010-1234-5678",
}

func newSeededStore() *memory.Store {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: "prod_a", Title: "Linen Shirt", Price: 10000, Stock: 5})
	store.SeedProduct(
		domain.Product{ID: "prod_b", Title: "Canvas Tote", Price: 5000, Stock: 10},
		domain.ProductOption{ID: "opt_b_large", Name: "Large", Price: 1000, Stock: 3},
	)
	store.SeedMember(domain.Member{ID: "mem_1", Email: "minji@example.com", Shipping: testShipping})
	store.SeedMember(domain.Member{ID: "mem_2", Email: "other@example.com", Shipping: testShipping})
	return store
}

func newTestCheckoutService(t *testing.T, store *memory.Store, clock func() time.Time, events OrderEventPublisher, metrics OrderMetrics) CheckoutService {
	t.Helper()
	var seq int
	var mu sync.Mutex
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Catalog:    store.Catalog(),
		Inventory:  store.Inventory(),
		Orders:     store.Orders(),
		Members:    store.Members(),
		UnitOfWork: store,
		Clock:      clock,
		IDGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("%04d", seq)
		},
		Events:  events,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestCheckoutServicePlaceOrderSettlesPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	store := newSeededStore()
	events := &captureOrderEvents{}
	metrics := &captureOrderMetrics{}
	svc := newTestCheckoutService(t, store, func() time.Time { return now }, events, metrics)

	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		MemberID:      "mem_1",
		PaymentMethod: "kb",
		RequestNote:   "<b>Leave at the door</b>",
		Lines: []LineRequest{
			{ProductID: "prod_a", Quantity: 2},
			{ProductID: "prod_b", OptionID: "opt_b_large", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if !result.Completed() {
		t.Fatalf("expected completed payment, got %+v", result)
	}
	if result.OrderID != "ord_0001" {
		t.Fatalf("expected order id ord_0001, got %s", result.OrderID)
	}
	if result.Pricing.ItemsTotal != 26000 || result.Pricing.ShippingFee != 3000 || result.Pricing.TotalPrice != 29000 {
		t.Fatalf("unexpected pricing %+v", result.Pricing)
	}
	if result.PaymentMethod != domain.PaymentMethodKB {
		t.Fatalf("expected KB payment method, got %s", result.PaymentMethod)
	}
	if result.RequestNote != "Leave at the door" {
		t.Fatalf("expected sanitised note, got %q", result.RequestNote)
	}
	if result.Shipping != testShipping {
		t.Fatalf("expected member shipping profile, got %+v", result.Shipping)
	}

	if got, _ := store.Stock(StockKey{ProductID: "prod_a"}); got != 3 {
		t.Fatalf("expected product stock 3, got %d", got)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_b", OptionID: "opt_b_large"}); got != 2 {
		t.Fatalf("expected option stock 2, got %d", got)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_b"}); got != 10 {
		t.Fatalf("expected product b stock untouched, got %d", got)
	}

	stored, err := store.Orders().FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPaymentCompleted || !stored.Paid || stored.PaidAt == nil {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	var sum int64
	for _, line := range stored.Lines {
		if line.ID == "" {
			t.Fatalf("expected line id to be generated")
		}
		sum += line.UnitPrice * line.Quantity
	}
	if stored.TotalPrice != sum+stored.ShippingFee {
		t.Fatalf("total %d does not reconcile with lines %d + fee %d", stored.TotalPrice, sum, stored.ShippingFee)
	}

	if len(events.events) != 1 || events.events[0].Type != orderEventPlaced {
		t.Fatalf("expected order.placed event, got %+v", events.events)
	}
	if metrics.settled[domain.PaymentStatusCompleted] != 1 {
		t.Fatalf("expected completed placement metric, got %+v", metrics.settled)
	}
}

func TestCheckoutServicePlaceOrderFailsAndRestoresStock(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	events := &captureOrderEvents{}
	metrics := &captureOrderMetrics{}
	svc := newTestCheckoutService(t, store, nil, events, metrics)

	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		MemberID:      "mem_1",
		PaymentMethod: "SHINHAN",
		Lines: []LineRequest{
			{ProductID: "prod_a", Quantity: 2},
			{ProductID: "prod_b", OptionID: "opt_b_large", Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if result.Status != domain.PaymentStatusFailed || result.FailureReason != domain.ReservationFailureInsufficient {
		t.Fatalf("expected insufficient stock failure, got %+v", result)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_a"}); got != 5 {
		t.Fatalf("expected product stock restored to 5, got %d", got)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_b", OptionID: "opt_b_large"}); got != 3 {
		t.Fatalf("expected option stock untouched, got %d", got)
	}

	stored, err := store.Orders().FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("expected failed order to be persisted: %v", err)
	}
	if stored.Status != domain.OrderStatusPaymentFailed || stored.Paid || stored.FailedAt == nil {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	if len(events.events) != 1 || events.events[0].Type != orderEventPaymentFailed {
		t.Fatalf("expected order.payment_failed event, got %+v", events.events)
	}
	if metrics.compensated != 1 {
		t.Fatalf("expected one compensated pool, got %d", metrics.compensated)
	}
}

func TestCheckoutServicePlaceOrderRejectsCatalogMissBeforePersisting(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore()
	svc := newTestCheckoutService(t, store, nil, nil, nil)

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		MemberID:      "mem_1",
		PaymentMethod: "KB",
		Lines:         []LineRequest{{ProductID: "prod_missing", Quantity: 1}},
	})
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected catalog not found, got %v", err)
	}

	page, err := store.Orders().ListByMember(ctx, listFilter("mem_1"))
	if err != nil {
		t.Fatalf("ListByMember: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no orders persisted, got %d", len(page.Items))
	}
}

func TestCheckoutServicePlaceOrderValidatesInput(t *testing.T) {
	store := newSeededStore()
	svc := newTestCheckoutService(t, store, nil, nil, nil)
	lines := []LineRequest{{ProductID: "prod_a", Quantity: 1}}

	cases := []struct {
		name string
		cmd  PlaceOrderCommand
		want error
	}{
		{name: "unknown member", cmd: PlaceOrderCommand{MemberID: "mem_x", PaymentMethod: "KB", Lines: lines}, want: ErrMemberNotFound},
		{name: "unknown payment method", cmd: PlaceOrderCommand{MemberID: "mem_1", PaymentMethod: "PAYPAL", Lines: lines}, want: ErrOrderInvalidInput},
		{name: "partial shipping profile", cmd: PlaceOrderCommand{MemberID: "mem_1", PaymentMethod: "KB", Shipping: ShippingProfile{RecipientName: "Lee"}, Lines: lines}, want: ErrOrderInvalidInput},
		{name: "foreign option", cmd: PlaceOrderCommand{MemberID: "mem_1", PaymentMethod: "KB", Lines: []LineRequest{{ProductID: "prod_a", OptionID: "opt_b_large", Quantity: 1}}}, want: ErrInvalidReference},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCheckoutServicePlaceOrderNormalisesShippingProfile(t *testing.T) {
	store := newSeededStore()
	svc := newTestCheckoutService(t, store, nil, nil, nil)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		MemberID:      "mem_1",
		PaymentMethod: "nh",
		Shipping: ShippingProfile{
			RecipientName: "  Park Jisoo ",
			ZipCode:       "０６２３６",
			Address:       "Sejong-daero 110",
			Phone:         "０１０-９８７６-５４３２",
		},
		Lines: []LineRequest{{ProductID: "prod_a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Shipping.RecipientName != "Park Jisoo" || result.Shipping.ZipCode != "06236" || result.Shipping.Phone != "010-9876-5432" {
		t.Fatalf("unexpected normalised profile %+v", result.Shipping)
	}
}

func TestCheckoutServiceConcurrentPlacementsNeverOversell(t *testing.T) {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: "prod_last", Title: "Last Units", Price: 4000, Stock: 2})
	store.SeedMember(domain.Member{ID: "mem_1", Shipping: testShipping})
	store.SeedMember(domain.Member{ID: "mem_2", Shipping: testShipping})
	svc := newTestCheckoutService(t, store, nil, nil, nil)

	start := make(chan struct{})
	results := make([]PaymentResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, member := range []string{"mem_1", "mem_2"} {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.PlaceOrder(context.Background(), PlaceOrderCommand{
				MemberID:      member,
				PaymentMethod: "BC",
				Lines:         []LineRequest{{ProductID: "prod_last", Quantity: 2}},
			})
		}(i, member)
	}
	close(start)
	wg.Wait()

	completed, failed := 0, 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("PlaceOrder %d: %v", i, errs[i])
		}
		switch results[i].Status {
		case domain.PaymentStatusCompleted:
			completed++
		case domain.PaymentStatusFailed:
			failed++
		}
	}
	if completed != 1 || failed != 1 {
		t.Fatalf("expected one completed and one failed placement, got %d/%d", completed, failed)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_last"}); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestCheckoutServicePreviewUsesMemberProfile(t *testing.T) {
	store := newSeededStore()
	svc := newTestCheckoutService(t, store, nil, nil, nil)

	preview, err := svc.Preview(context.Background(), PreviewCommand{
		MemberID: "mem_1",
		Lines:    []LineRequest{{ProductID: "prod_a", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.Shipping != testShipping {
		t.Fatalf("expected member profile, got %+v", preview.Shipping)
	}
	if preview.Pricing.TotalPrice != 30000 || preview.Pricing.ShippingFee != 0 {
		t.Fatalf("unexpected preview pricing %+v", preview.Pricing)
	}
	if got, _ := store.Stock(StockKey{ProductID: "prod_a"}); got != 5 {
		t.Fatalf("preview must not touch stock, got %d", got)
	}
}
