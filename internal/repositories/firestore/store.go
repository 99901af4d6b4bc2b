// Package firestore implements the repository registry on Cloud Firestore.
//
// Firestore transactions require every read to happen before the first write, while the
// checkout flow inserts the order before it reads stock. The unit of work therefore stages
// writes in memory and hands them to the transaction only after fn returns.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/productshop/api/internal/domain"
	pfirestore "github.com/productshop/api/internal/platform/firestore"
	"github.com/productshop/api/internal/platform/pagination"
	"github.com/productshop/api/internal/repositories"
)

// Store is a Firestore backed repositories.Registry.
type Store struct {
	provider *pfirestore.Provider
	txOpts   []pfirestore.TxOption

	products *pfirestore.Collection[productDocument]
	options  *pfirestore.Collection[optionDocument]
	members  *pfirestore.Collection[memberDocument]
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.Registry = (*Store)(nil)

func NewStore(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider: provider,
		txOpts:   txOpts,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		options:  pfirestore.NewCollection[optionDocument](provider, optionsCollection),
		members:  pfirestore.NewCollection[memberDocument](provider, membersCollection),
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

func (s *Store) Ping(ctx context.Context) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(productsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepository{store: s} }

func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{store: s} }

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

func (s *Store) Members() repositories.MemberRepository { return memberRepository{store: s} }

type txContextKey struct{}

type txState struct {
	tx *firestore.Transaction

	orders  map[string]domain.Order
	created map[string]bool
	stock   map[domain.StockKey]int64
	dirty   map[domain.StockKey]struct{}
	order   []string
}

func newTxState(tx *firestore.Transaction) *txState {
	return &txState{
		tx:      tx,
		orders:  make(map[string]domain.Order),
		created: make(map[string]bool),
		stock:   make(map[domain.StockKey]int64),
		dirty:   make(map[domain.StockKey]struct{}),
	}
}

func txFromContext(ctx context.Context) *txState {
	state, _ := ctx.Value(txContextKey{}).(*txState)
	return state
}

func (s *txState) stageOrder(order domain.Order, create bool) {
	if _, ok := s.orders[order.ID]; !ok {
		s.order = append(s.order, order.ID)
		s.created[order.ID] = create
	}
	s.orders[order.ID] = order
}

// RunInTx runs fn inside a Firestore transaction. Writes staged by the repositories are
// applied once fn returns nil. Firestore reruns fn on contention, starting from an empty
// stage each time.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := newTxState(tx)
		if err := fn(context.WithValue(ctx, txContextKey{}, state)); err != nil {
			return err
		}
		return s.flush(ctx, state)
	}, s.txOpts...)
}

func (s *Store) flush(ctx context.Context, state *txState) error {
	for _, id := range state.order {
		ref, err := s.orders.Ref(ctx, id)
		if err != nil {
			return err
		}
		doc := newOrderDocument(state.orders[id])
		if state.created[id] {
			err = state.tx.Create(ref, doc)
		} else {
			err = state.tx.Set(ref, doc)
		}
		if err != nil {
			return err
		}
	}

	keys := make([]domain.StockKey, 0, len(state.dirty))
	for key := range state.dirty {
		keys = append(keys, key)
	}
	domain.SortStockKeys(keys)
	for _, key := range keys {
		var (
			ref *firestore.DocumentRef
			err error
		)
		if key.HasOption() {
			ref, err = s.options.Ref(ctx, key.OptionID)
		} else {
			ref, err = s.products.Ref(ctx, key.ProductID)
		}
		if err != nil {
			return err
		}
		err = state.tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: state.stock[key]},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type catalogRepository struct{ store *Store }

func (r catalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.store.products.Get(ctx, nil, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (r catalogRepository) FindOption(ctx context.Context, optionID string) (domain.ProductOption, error) {
	doc, err := r.store.options.Get(ctx, nil, optionID)
	if err != nil {
		return domain.ProductOption{}, err
	}
	return doc.toDomain(optionID), nil
}

type inventoryRepository struct{ store *Store }

// LockStock reads every pool through the transaction, which makes Firestore reject the
// commit when another writer changed one of them in the meantime.
func (r inventoryRepository) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int64, error) {
	const op = "stock.lock"
	state := txFromContext(ctx)
	if state == nil {
		return nil, repositories.NewStockError(op, repositories.StockErrorTxRequired, "stock must be locked inside a unit of work", nil)
	}

	var productIDs, optionIDs []string
	for _, key := range keys {
		if _, ok := state.stock[key]; ok {
			continue
		}
		if key.HasOption() {
			optionIDs = append(optionIDs, key.OptionID)
		} else {
			productIDs = append(productIDs, key.ProductID)
		}
	}

	products, err := r.store.products.GetAll(ctx, state.tx, productIDs)
	if err != nil {
		return nil, err
	}
	options, err := r.store.options.GetAll(ctx, state.tx, optionIDs)
	if err != nil {
		return nil, err
	}

	values := make(map[domain.StockKey]int64, len(keys))
	for _, key := range keys {
		if staged, ok := state.stock[key]; ok {
			values[key] = staged
			continue
		}
		if key.HasOption() {
			option, ok := options[key.OptionID]
			if !ok || option.ProductID != key.ProductID {
				continue
			}
			values[key] = option.Stock
		} else {
			product, ok := products[key.ProductID]
			if !ok {
				continue
			}
			values[key] = product.Stock
		}
		state.stock[key] = values[key]
	}
	return values, nil
}

func (r inventoryRepository) SetStock(ctx context.Context, key domain.StockKey, value int64) error {
	const op = "stock.set"
	state := txFromContext(ctx)
	if state == nil {
		return repositories.NewStockError(op, repositories.StockErrorTxRequired, "stock must be written inside a unit of work", nil)
	}
	if _, ok := state.stock[key]; !ok {
		return repositories.NewStockError(op, repositories.StockErrorNotLocked, fmt.Sprintf("stock %s is not locked", key), nil)
	}
	if value < 0 {
		return repositories.NewStockError(op, repositories.StockErrorNegative, fmt.Sprintf("stock %s cannot be negative", key), nil)
	}
	state.stock[key] = value
	state.dirty[key] = struct{}{}
	return nil
}

type memberRepository struct{ store *Store }

func (r memberRepository) FindByID(ctx context.Context, memberID string) (domain.Member, error) {
	doc, err := r.store.members.Get(ctx, nil, memberID)
	if err != nil {
		return domain.Member{}, err
	}
	return domain.Member{ID: memberID, Email: doc.Email, Shipping: doc.Shipping.toDomain()}, nil
}

type orderRepository struct{ store *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewError("orders.insert", errors.New("order id is required"))
	}
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		state := txFromContext(ctx)
		if _, ok := state.orders[order.ID]; ok {
			return repositories.NewConflictError("orders.insert", fmt.Errorf("order %q already exists", order.ID))
		}
		state.stageOrder(cloneOrder(order), true)
		return nil
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		state := txFromContext(ctx)
		current, ok := state.orders[order.ID]
		if !ok {
			loaded, err := r.store.orders.Get(ctx, state.tx, order.ID)
			if err != nil {
				return err
			}
			current = loaded.toDomain(order.ID)
		}
		updated := cloneOrder(order)
		updated.Lines = current.Lines
		state.stageOrder(updated, false)
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	state := txFromContext(ctx)
	if state != nil {
		if staged, ok := state.orders[orderID]; ok {
			return cloneOrder(staged), nil
		}
	}
	var tx *firestore.Transaction
	if state != nil {
		tx = state.tx
	}
	doc, err := r.store.orders.Get(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

// FindForUpdate reads through the transaction when one is active, so a concurrent writer of
// the same order aborts one of the two commits.
func (r orderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r orderRepository) ListByMember(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	docs, err := r.store.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("memberId", "==", filter.MemberID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		docs = docs[:pageSize]
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return order
}
