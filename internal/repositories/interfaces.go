package repositories

import (
	"context"

	domain "github.com/productshop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Members() MemberRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Implementations may invoke fn more than once when the backend retries aborted transactions,
// so fn must rebuild any state it derives from reads.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository reads product and option records. Stock values returned here are
// informational; reservations must go through InventoryRepository.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindOption(ctx context.Context, optionID string) (domain.ProductOption, error)
}

// InventoryRepository reads and writes stock pools. Both methods must run inside
// UnitOfWork.RunInTx; LockStock excludes concurrent writers of the returned rows until the
// unit of work finishes.
type InventoryRepository interface {
	// LockStock returns the current value of each key. Keys without a matching row (or an
	// option that does not belong to the key's product) are omitted from the result.
	LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int64, error)
	// SetStock persists an absolute stock value. Negative values are rejected with a StockError.
	SetStock(ctx context.Context, key domain.StockKey, value int64) error
}

// OrderRepository persists orders together with their line snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update rewrites the mutable order header (status, flags, timestamps). Lines are immutable.
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindForUpdate loads the order and holds it against concurrent updates until the
	// surrounding unit of work completes.
	FindForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	ListByMember(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// MemberRepository resolves member profiles supplied by the identity collaborator.
type MemberRepository interface {
	FindByID(ctx context.Context, memberID string) (domain.Member, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// OrderListFilter narrows member order listings.
type OrderListFilter struct {
	MemberID   string
	Pagination domain.Pagination
}
