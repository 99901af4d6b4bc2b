// Package memory implements the repository registry in process memory. It backs local
// development and tests, and provides the same row-level exclusion contract as the SQL backend:
// rows locked inside RunInTx stay locked until the unit of work commits or fails.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/platform/pagination"
	"github.com/productshop/api/internal/repositories"
)

// Store is an in-memory repositories.Registry.
type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	options  map[string]domain.ProductOption
	members  map[string]domain.Member
	orders   map[string]domain.Order

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		options:  make(map[string]domain.ProductOption),
		members:  make(map[string]domain.Member),
		orders:   make(map[string]domain.Order),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SeedProduct stores a product and its options, linking option IDs onto the product.
func (s *Store) SeedProduct(product domain.Product, options ...domain.ProductOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, option := range options {
		option.ProductID = product.ID
		s.options[option.ID] = option
		if !slices.Contains(product.OptionIDs, option.ID) {
			product.OptionIDs = append(product.OptionIDs, option.ID)
		}
	}
	s.products[product.ID] = product
}

// SeedMember stores a member profile.
func (s *Store) SeedMember(member domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[member.ID] = member
}

// Stock returns the committed value of a stock pool.
func (s *Store) Stock(key domain.StockKey) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committedStock(key)
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepository{store: s} }

func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{store: s} }

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

func (s *Store) Members() repositories.MemberRepository { return memberRepository{store: s} }

// RunInTx stages writes and applies them atomically when fn succeeds. Nested calls join the
// outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if current := txFromContext(ctx); current != nil && current.store == s {
		return fn(ctx)
	}

	t := &tx{
		store:  s,
		held:   make(map[string]*sync.Mutex),
		stock:  make(map[domain.StockKey]int64),
		orders: make(map[string]domain.Order),
	}
	defer t.release()

	if err := fn(context.WithValue(ctx, txContextKey{}, t)); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range t.stock {
		if key.HasOption() {
			option := s.options[key.OptionID]
			option.Stock = value
			s.options[key.OptionID] = option
			continue
		}
		product := s.products[key.ProductID]
		product.Stock = value
		s.products[key.ProductID] = product
	}
	for id, order := range t.orders {
		s.orders[id] = cloneOrder(order)
	}
}

// committedStock must be called with s.mu held.
func (s *Store) committedStock(key domain.StockKey) (int64, bool) {
	if key.HasOption() {
		option, ok := s.options[key.OptionID]
		if !ok || option.ProductID != key.ProductID {
			return 0, false
		}
		return option.Stock, true
	}
	product, ok := s.products[key.ProductID]
	if !ok {
		return 0, false
	}
	return product.Stock, true
}

func (s *Store) rowLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

type txContextKey struct{}

type tx struct {
	store  *Store
	held   map[string]*sync.Mutex
	stock  map[domain.StockKey]int64
	orders map[string]domain.Order
}

func txFromContext(ctx context.Context) *tx {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(txContextKey{}).(*tx)
	return t
}

func (t *tx) lock(name string) {
	if _, ok := t.held[name]; ok {
		return
	}
	lock := t.store.rowLock(name)
	lock.Lock()
	t.held[name] = lock
}

func (t *tx) holds(name string) bool {
	_, ok := t.held[name]
	return ok
}

func (t *tx) release() {
	for name, lock := range t.held {
		lock.Unlock()
		delete(t.held, name)
	}
}

func stockLockName(key domain.StockKey) string { return "stock:" + key.String() }

func orderLockName(orderID string) string { return "order:" + orderID }

type catalogRepository struct{ store *Store }

func (r catalogRepository) FindProduct(_ context.Context, productID string) (domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", fmt.Errorf("product %q not found", productID))
	}
	product.OptionIDs = append([]string(nil), product.OptionIDs...)
	return product, nil
}

func (r catalogRepository) FindOption(_ context.Context, optionID string) (domain.ProductOption, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	option, ok := r.store.options[optionID]
	if !ok {
		return domain.ProductOption{}, repositories.NewNotFoundError("product_options.get", fmt.Errorf("option %q not found", optionID))
	}
	return option, nil
}

type inventoryRepository struct{ store *Store }

func (r inventoryRepository) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int64, error) {
	t := txFromContext(ctx)
	if t == nil || t.store != r.store {
		return nil, repositories.NewStockError("stock.lock", repositories.StockErrorTxRequired, "stock must be locked inside a unit of work", nil)
	}

	ordered := append([]domain.StockKey(nil), keys...)
	domain.SortStockKeys(ordered)
	for _, key := range ordered {
		t.lock(stockLockName(key))
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	values := make(map[domain.StockKey]int64, len(ordered))
	for _, key := range ordered {
		if staged, ok := t.stock[key]; ok {
			values[key] = staged
			continue
		}
		if value, ok := r.store.committedStock(key); ok {
			values[key] = value
		}
	}
	return values, nil
}

func (r inventoryRepository) SetStock(ctx context.Context, key domain.StockKey, value int64) error {
	const op = "stock.set"
	t := txFromContext(ctx)
	if t == nil || t.store != r.store {
		return repositories.NewStockError(op, repositories.StockErrorTxRequired, "stock must be written inside a unit of work", nil)
	}
	if !t.holds(stockLockName(key)) {
		return repositories.NewStockError(op, repositories.StockErrorNotLocked, fmt.Sprintf("stock %s is not locked", key), nil)
	}
	if value < 0 {
		return repositories.NewStockError(op, repositories.StockErrorNegative, fmt.Sprintf("stock %s cannot be negative", key), nil)
	}

	r.store.mu.RLock()
	_, exists := r.store.committedStock(key)
	r.store.mu.RUnlock()
	if !exists {
		return repositories.NewStockError(op, repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", key), nil)
	}
	t.stock[key] = value
	return nil
}

type orderRepository struct{ store *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewError("orders.insert", errors.New("order id is required"))
	}
	if t := txFromContext(ctx); t != nil && t.store == r.store {
		t.lock(orderLockName(order.ID))
		if _, staged := t.orders[order.ID]; staged || r.exists(order.ID) {
			return repositories.NewConflictError("orders.insert", fmt.Errorf("order %q already exists", order.ID))
		}
		t.orders[order.ID] = cloneOrder(order)
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.orders[order.ID]; ok {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %q already exists", order.ID))
	}
	r.store.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	if t := txFromContext(ctx); t != nil && t.store == r.store {
		t.lock(orderLockName(order.ID))
		if _, staged := t.orders[order.ID]; !staged && !r.exists(order.ID) {
			return repositories.NewNotFoundError("orders.update", fmt.Errorf("order %q not found", order.ID))
		}
		t.orders[order.ID] = cloneOrder(order)
		return nil
	}

	lock := r.store.rowLock(orderLockName(order.ID))
	lock.Lock()
	defer lock.Unlock()
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.orders[order.ID]; !ok {
		return repositories.NewNotFoundError("orders.update", fmt.Errorf("order %q not found", order.ID))
	}
	r.store.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if t := txFromContext(ctx); t != nil && t.store == r.store {
		if staged, ok := t.orders[orderID]; ok {
			return cloneOrder(staged), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", fmt.Errorf("order %q not found", orderID))
	}
	return cloneOrder(order), nil
}

func (r orderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if t := txFromContext(ctx); t != nil && t.store == r.store {
		t.lock(orderLockName(orderID))
	}
	return r.FindByID(ctx, orderID)
}

func (r orderRepository) ListByMember(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	r.store.mu.RLock()
	matches := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.MemberID != filter.MemberID {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.store.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matches) > pageSize {
		last := matches[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matches = matches[:pageSize]
	}
	page.Items = matches
	return page, nil
}

func (r orderRepository) exists(orderID string) bool {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.orders[orderID]
	return ok
}

type memberRepository struct{ store *Store }

func (r memberRepository) FindByID(_ context.Context, memberID string) (domain.Member, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	member, ok := r.store.members[memberID]
	if !ok {
		return domain.Member{}, repositories.NewNotFoundError("members.get", fmt.Errorf("member %q not found", memberID))
	}
	return member, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return order
}
