package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/repositories"
)

const orderIDPrefix = "ord_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located for the requesting member.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrReturnWindowExpired indicates the return window closed before the request arrived.
	ErrReturnWindowExpired = fmt.Errorf("%w: return window expired", ErrOrderInvalidState)
	// ErrOrderConflict indicates concurrent writers or duplicate identifiers.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the storage backend could not serve the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrMemberNotFound indicates the member directory has no profile for the caller.
	ErrMemberNotFound = errors.New("member: not found")
	// ErrCatalogNotFound indicates a requested product or option does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrInvalidReference indicates an option was requested against a product it does not belong to.
	// It matches ErrCatalogNotFound: the option is not found on that product.
	ErrInvalidReference = fmt.Errorf("%w: option does not belong to product", ErrCatalogNotFound)
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPaying:           {domain.OrderStatusPaymentCompleted, domain.OrderStatusPaymentFailed},
	domain.OrderStatusPaymentCompleted: {domain.OrderStatusCancelled, domain.OrderStatusShipping},
	domain.OrderStatusShipping:         {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:        {domain.OrderStatusReturnRequested},
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// IsCancellable reports whether members may still cancel an order in the given status.
func IsCancellable(status OrderStatus) bool {
	return canTransition(status, domain.OrderStatusCancelled)
}

// IsReturnable reports whether a return may be requested from the given status.
func IsReturnable(status OrderStatus) bool {
	return canTransition(status, domain.OrderStatusReturnRequested)
}

// applyStatusTransition is the only place an order status is written. It returns the previous status.
func applyStatusTransition(order *Order, target OrderStatus, now time.Time) (OrderStatus, error) {
	current := order.Status
	if !canTransition(current, target) {
		return current, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	order.StatusChangedAt = now
	updateTimestamps(order, target, now)
	return current, nil
}

func updateTimestamps(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPaymentCompleted:
		order.Paid = true
		order.PaidAt = &now
	case domain.OrderStatusPaymentFailed:
		order.Paid = false
		order.FailedAt = &now
	case domain.OrderStatusShipping:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusReturnRequested:
		order.ReturnRequestedAt = &now
	}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorNotFound {
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func mapCatalogRepositoryError(err error, ref string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrCatalogNotFound, ref)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}
