package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/productshop/api/internal/repositories"
)

const (
	// DefaultFreeShippingThreshold is the items total at or above which shipping is free.
	DefaultFreeShippingThreshold int64 = 30000
	// DefaultShippingFee is charged below the free shipping threshold.
	DefaultShippingFee int64 = 3000

	defaultMaxOrderLines   = 50
	defaultMaxLineQuantity = 999
)

// ShippingPolicy derives the shipping fee from the items total.
type ShippingPolicy struct {
	FreeThreshold int64
	FlatFee       int64
}

// DefaultShippingPolicy returns the standard domestic shipping policy.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{FreeThreshold: DefaultFreeShippingThreshold, FlatFee: DefaultShippingFee}
}

// FeeFor returns zero when itemsTotal reaches the threshold and the flat fee otherwise.
func (p ShippingPolicy) FeeFor(itemsTotal int64) int64 {
	if itemsTotal >= p.FreeThreshold {
		return 0
	}
	return p.FlatFee
}

// PricingLimits bounds the size of one order request.
type PricingLimits struct {
	MaxLines    int
	MaxQuantity int64
}

// PricedLine is one request line resolved against the live catalog.
type PricedLine struct {
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

// PricingSummary is the authoritative price breakdown for a set of lines.
type PricingSummary struct {
	Lines       []PricedLine
	ItemsTotal  int64
	ShippingFee int64
	TotalPrice  int64
}

// PricingCalculator prices line requests from current catalog records. It never writes.
type PricingCalculator struct {
	catalog  repositories.CatalogRepository
	shipping ShippingPolicy
	limits   PricingLimits
}

// NewPricingCalculator constructs a calculator. Zero limits fall back to defaults.
func NewPricingCalculator(catalog repositories.CatalogRepository, shipping ShippingPolicy, limits PricingLimits) (*PricingCalculator, error) {
	if catalog == nil {
		return nil, errors.New("pricing calculator: catalog repository is required")
	}
	if shipping.FreeThreshold < 0 || shipping.FlatFee < 0 {
		return nil, errors.New("pricing calculator: shipping policy values must be non-negative")
	}
	if limits.MaxLines <= 0 {
		limits.MaxLines = defaultMaxOrderLines
	}
	if limits.MaxQuantity <= 0 {
		limits.MaxQuantity = defaultMaxLineQuantity
	}
	return &PricingCalculator{catalog: catalog, shipping: shipping, limits: limits}, nil
}

// Compute resolves every line and aggregates the order totals.
func (c *PricingCalculator) Compute(ctx context.Context, lines []LineRequest) (PricingSummary, error) {
	if len(lines) == 0 {
		return PricingSummary{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if len(lines) > c.limits.MaxLines {
		return PricingSummary{}, fmt.Errorf("%w: at most %d lines are allowed", ErrOrderInvalidInput, c.limits.MaxLines)
	}

	summary := PricingSummary{Lines: make([]PricedLine, 0, len(lines))}
	for i, req := range lines {
		priced, err := c.priceLine(ctx, req)
		if err != nil {
			return PricingSummary{}, fmt.Errorf("line %d: %w", i, err)
		}
		if summary.ItemsTotal > math.MaxInt64-priced.LineTotal {
			return PricingSummary{}, fmt.Errorf("%w: order total overflows", ErrOrderInvalidInput)
		}
		summary.ItemsTotal += priced.LineTotal
		summary.Lines = append(summary.Lines, priced)
	}

	summary.ShippingFee = c.shipping.FeeFor(summary.ItemsTotal)
	summary.TotalPrice = summary.ItemsTotal + summary.ShippingFee
	return summary, nil
}

func (c *PricingCalculator) priceLine(ctx context.Context, req LineRequest) (PricedLine, error) {
	productID := strings.TrimSpace(req.ProductID)
	optionID := strings.TrimSpace(req.OptionID)
	if productID == "" {
		return PricedLine{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	if req.Quantity <= 0 || req.Quantity > c.limits.MaxQuantity {
		return PricedLine{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrOrderInvalidInput, c.limits.MaxQuantity)
	}

	product, err := c.catalog.FindProduct(ctx, productID)
	if err != nil {
		return PricedLine{}, mapCatalogRepositoryError(err, "product "+productID)
	}

	line := PricedLine{
		ProductID:    product.ID,
		ProductTitle: product.Title,
		Quantity:     req.Quantity,
		ProductPrice: product.Price,
	}

	if optionID != "" {
		option, err := c.catalog.FindOption(ctx, optionID)
		if err != nil {
			return PricedLine{}, mapCatalogRepositoryError(err, "option "+optionID)
		}
		if option.ProductID != product.ID {
			return PricedLine{}, fmt.Errorf("%w: option %s is not offered for product %s", ErrInvalidReference, optionID, productID)
		}
		line.OptionID = option.ID
		line.OptionName = option.Name
		line.OptionPrice = option.Price
	}

	line.UnitPrice = line.ProductPrice + line.OptionPrice
	if line.UnitPrice < 0 {
		return PricedLine{}, fmt.Errorf("%w: negative unit price for product %s", ErrOrderInvalidInput, productID)
	}
	if line.UnitPrice > 0 && line.Quantity > math.MaxInt64/line.UnitPrice {
		return PricedLine{}, fmt.Errorf("%w: line total overflows", ErrOrderInvalidInput)
	}
	line.LineTotal = line.UnitPrice * line.Quantity
	return line, nil
}
