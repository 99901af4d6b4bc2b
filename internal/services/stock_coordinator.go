package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/repositories"
)

// ReservationResult is the tagged outcome of a reservation batch. A zero Failure means every
// line was reserved.
type ReservationResult struct {
	Failure ReservationFailure
	// Line is the index of the line that aborted the batch, or -1 on success.
	Line      int
	Key       StockKey
	Requested int64
	Available int64
	// Compensated counts the stock pools written back to their original values.
	Compensated int
}

// OK reports whether the batch reserved every line.
func (r ReservationResult) OK() bool {
	return r.Failure == domain.ReservationFailureNone
}

type stockChange struct {
	key      StockKey
	original int64
}

// stockLedger records the pre-mutation value of every pool a batch has touched, in touch order.
type stockLedger struct {
	changes []stockChange
	seen    map[StockKey]struct{}
}

func newStockLedger(size int) *stockLedger {
	return &stockLedger{
		changes: make([]stockChange, 0, size),
		seen:    make(map[StockKey]struct{}, size),
	}
}

func (l *stockLedger) record(key StockKey, original int64) {
	if _, ok := l.seen[key]; ok {
		return
	}
	l.seen[key] = struct{}{}
	l.changes = append(l.changes, stockChange{key: key, original: original})
}

// StockCoordinator is the only component that writes stock. Every call must run inside a
// unit of work so the locks taken by LockStock are held until the caller commits.
type StockCoordinator struct {
	inventory repositories.InventoryRepository
	logger    func(context.Context, string, map[string]any)
}

// NewStockCoordinator constructs a coordinator over the inventory repository.
func NewStockCoordinator(inventory repositories.InventoryRepository, logger func(context.Context, string, map[string]any)) (*StockCoordinator, error) {
	if inventory == nil {
		return nil, errors.New("stock coordinator: inventory repository is required")
	}
	if logger == nil {
		logger = noopLogger
	}
	return &StockCoordinator{inventory: inventory, logger: logger}, nil
}

// Reserve decrements stock for every line in order. The first line that cannot be served
// aborts the batch; every pool already decremented is then written back through compensate
// and the failure is returned as a result, not an error. Errors are reserved for storage
// failures, after which the caller must discard the unit of work.
func (c *StockCoordinator) Reserve(ctx context.Context, lines []OrderLine) (ReservationResult, error) {
	current, err := c.inventory.LockStock(ctx, domain.SortedStockKeys(lines))
	if err != nil {
		return ReservationResult{}, err
	}

	ledger := newStockLedger(len(lines))
	for i, line := range lines {
		key := line.StockKey()
		available, ok := current[key]
		if !ok {
			return c.abort(ctx, ledger, ReservationResult{
				Failure:   domain.ReservationFailureMissingReference,
				Line:      i,
				Key:       key,
				Requested: line.Quantity,
			})
		}
		if line.Quantity > available {
			return c.abort(ctx, ledger, ReservationResult{
				Failure:   domain.ReservationFailureInsufficient,
				Line:      i,
				Key:       key,
				Requested: line.Quantity,
				Available: available,
			})
		}

		ledger.record(key, available)
		next := available - line.Quantity
		if err := c.inventory.SetStock(ctx, key, next); err != nil {
			return ReservationResult{}, fmt.Errorf("reserve %s: %w", key, err)
		}
		current[key] = next
	}

	return ReservationResult{Line: -1}, nil
}

func (c *StockCoordinator) abort(ctx context.Context, ledger *stockLedger, result ReservationResult) (ReservationResult, error) {
	restored, err := c.compensate(ctx, ledger.changes)
	if err != nil {
		return ReservationResult{}, err
	}
	result.Compensated = restored
	c.logger(ctx, "stock.reservation.aborted", map[string]any{
		"reason":      string(result.Failure),
		"line":        result.Line,
		"key":         result.Key.String(),
		"requested":   result.Requested,
		"available":   result.Available,
		"compensated": restored,
	})
	return result, nil
}

// compensate writes each recorded original value back, most recent change first.
func (c *StockCoordinator) compensate(ctx context.Context, changes []stockChange) (int, error) {
	restored := 0
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		if err := c.inventory.SetStock(ctx, change.key, change.original); err != nil {
			return restored, fmt.Errorf("compensate %s: %w", change.key, err)
		}
		restored++
	}
	return restored, nil
}

// Restock adds each line quantity back to the pool it was reserved from. Pools whose catalog
// row no longer exists are skipped and reported.
func (c *StockCoordinator) Restock(ctx context.Context, lines []OrderLine) (restored int, skipped []StockKey, err error) {
	current, err := c.inventory.LockStock(ctx, domain.SortedStockKeys(lines))
	if err != nil {
		return 0, nil, err
	}

	for _, line := range lines {
		key := line.StockKey()
		value, ok := current[key]
		if !ok {
			skipped = append(skipped, key)
			continue
		}
		next := value + line.Quantity
		if err := c.inventory.SetStock(ctx, key, next); err != nil {
			return restored, skipped, fmt.Errorf("restock %s: %w", key, err)
		}
		current[key] = next
		restored++
	}
	return restored, skipped, nil
}
