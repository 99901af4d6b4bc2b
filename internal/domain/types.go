package domain

import (
	"slices"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPaying indicates the order row exists and stock reservation is in progress.
	OrderStatusPaying OrderStatus = "PAYING"
	// OrderStatusPaymentCompleted indicates stock was reserved and the order is settled.
	OrderStatusPaymentCompleted OrderStatus = "PAYMENT_COMPLETED"
	// OrderStatusPaymentFailed indicates the reservation batch was rejected and compensated.
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
	// OrderStatusShipping indicates the order left the warehouse.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered indicates the order reached the recipient.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the member cancelled before shipment.
	OrderStatusCancelled OrderStatus = "ORDER_CANCELLED"
	// OrderStatusReturnRequested indicates the member asked to return a delivered order.
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
)

// PaymentMethod is the card company tag recorded against an order.
type PaymentMethod string

const (
	PaymentMethodShinhan PaymentMethod = "SHINHAN"
	PaymentMethodKB      PaymentMethod = "KB"
	PaymentMethodHyundai PaymentMethod = "HYUNDAI"
	PaymentMethodSamsung PaymentMethod = "SAMSUNG"
	PaymentMethodLotte   PaymentMethod = "LOTTE"
	PaymentMethodHana    PaymentMethod = "HANA"
	PaymentMethodWoori   PaymentMethod = "WOORI"
	PaymentMethodBC      PaymentMethod = "BC"
	PaymentMethodNH      PaymentMethod = "NH"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PaymentMethodShinhan: {},
	PaymentMethodKB:      {},
	PaymentMethodHyundai: {},
	PaymentMethodSamsung: {},
	PaymentMethodLotte:   {},
	PaymentMethodHana:    {},
	PaymentMethodWoori:   {},
	PaymentMethodBC:      {},
	PaymentMethodNH:      {},
}

// ParsePaymentMethod normalises a card company tag, reporting false for unknown values.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := paymentMethods[method]; !ok {
		return "", false
	}
	return method, true
}

// PaymentStatus is the outcome tag of a placement attempt.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "PAYMENT_COMPLETED"
	PaymentStatusFailed    PaymentStatus = "PAYMENT_FAILED"
)

// ReservationFailure explains why a stock reservation batch was rejected.
type ReservationFailure string

const (
	ReservationFailureNone             ReservationFailure = ""
	ReservationFailureInsufficient     ReservationFailure = "insufficient_stock"
	ReservationFailureMissingReference ReservationFailure = "catalog_reference_missing"
)

// Member is the resolved, already decrypted member profile handed to the core.
type Member struct {
	ID       string
	Email    string
	Shipping ShippingProfile
}

// ShippingProfile is the recipient snapshot copied onto an order.
type ShippingProfile struct {
	RecipientName string
	ZipCode       string
	Address       string
	Phone         string
}

// IsZero reports whether no field of the profile was supplied.
func (p ShippingProfile) IsZero() bool {
	return p.RecipientName == "" && p.ZipCode == "" && p.Address == "" && p.Phone == ""
}

// Product is the catalog record read during pricing and reservation.
type Product struct {
	ID        string
	Title     string
	Category  string
	Price     int64
	Stock     int64
	OptionIDs []string
	UpdatedAt time.Time
}

// ProductOption is a purchasable variant of a product with its own price delta and stock.
type ProductOption struct {
	ID        string
	ProductID string
	Name      string
	Price     int64
	Stock     int64
	UpdatedAt time.Time
}

// StockKey identifies one stock pool. Option stock is addressed when OptionID is set,
// product stock otherwise.
type StockKey struct {
	ProductID string
	OptionID  string
}

// HasOption reports whether the key addresses option stock.
func (k StockKey) HasOption() bool {
	return k.OptionID != ""
}

// Less orders keys by product then option; locks are always taken in this order.
func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.OptionID < other.OptionID
}

// String renders the key for logs and error messages.
func (k StockKey) String() string {
	if k.OptionID == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.OptionID
}

// Order captures one checkout transaction and its immutable line snapshots.
type Order struct {
	ID                string
	MemberID          string
	Status            OrderStatus
	Paid              bool
	PaymentMethod     PaymentMethod
	ItemsTotal        int64
	ShippingFee       int64
	TotalPrice        int64
	Shipping          ShippingProfile
	RequestNote       string
	FailureReason     ReservationFailure
	CancelReason      string
	ReturnReason      string
	Lines             []OrderLine
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StatusChangedAt   time.Time
	PaidAt            *time.Time
	FailedAt          *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	ReturnRequestedAt *time.Time
}

// StockKeys returns the distinct stock pools touched by the order in lock order.
func (o Order) StockKeys() []StockKey {
	return SortedStockKeys(o.Lines)
}

// OrderLine is one product (optionally one option) within an order.
type OrderLine struct {
	ID           string
	ProductID    string
	OptionID     string
	ProductTitle string
	OptionName   string
	Quantity     int64
	ProductPrice int64
	OptionPrice  int64
	UnitPrice    int64
	LineTotal    int64
}

// StockKey returns the pool this line draws from.
func (l OrderLine) StockKey() StockKey {
	return StockKey{ProductID: l.ProductID, OptionID: l.OptionID}
}

// SortedStockKeys collects the distinct keys of lines in ascending key order.
func SortedStockKeys(lines []OrderLine) []StockKey {
	seen := make(map[StockKey]struct{}, len(lines))
	keys := make([]StockKey, 0, len(lines))
	for _, line := range lines {
		key := line.StockKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	SortStockKeys(keys)
	return keys
}

// SortStockKeys sorts keys in place into lock order.
func SortStockKeys(keys []StockKey) {
	slices.SortFunc(keys, func(a, b StockKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID                string
	Status            OrderStatus
	TotalPrice        int64
	FirstProductTitle string
	LineCount         int
	CreatedAt         time.Time
	StatusChangedAt   time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth describes the outcome of a single dependency probe.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
