// Package postgres implements the repository registry on PostgreSQL through pgx. Stock rows
// are guarded with SELECT ... FOR UPDATE inside the unit of work, so concurrent placements on
// the same pool serialise at the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/repositories"
)

const (
	defaultTxAttempts = 3
	retryBackoff      = 25 * time.Millisecond
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Option customises the store.
type Option func(*Store)

// WithTxAttempts bounds how often a unit of work is retried after deadlocks or serialization failures.
func WithTxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.txAttempts = attempts
		}
	}
}

// Store is a PostgreSQL backed repositories.Registry.
type Store struct {
	pool       *pgxpool.Pool
	txAttempts int
}

var _ repositories.Registry = (*Store)(nil)

// Open connects a pool for dsn and verifies connectivity.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(pool, opts...), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, txAttempts: defaultTxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrapError(ctx, "postgres.ping", s.pool.Ping(ctx))
}

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepository{store: s} }

func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{store: s} }

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

func (s *Store) Members() repositories.MemberRepository { return memberRepository{store: s} }

type txContextKey struct{}

type txState struct {
	tx     pgx.Tx
	locked map[domain.StockKey]struct{}
	retry  bool
}

func txFromContext(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(txContextKey{}).(*txState)
	return state
}

func (s *Store) q(ctx context.Context) querier {
	if state := txFromContext(ctx); state != nil {
		return state.tx
	}
	return s.pool
}

// RunInTx runs fn in a read committed transaction. Deadlocks and serialization failures
// roll back and rerun fn up to the configured attempt count. Nested calls join the outer
// transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= s.txAttempts; attempt++ {
		var retry bool
		retry, err = s.runOnce(ctx, fn)
		if err == nil || !retry || attempt == s.txAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context) error) (retry bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, wrapError(ctx, "postgres.begin", err)
	}
	state := &txState{tx: tx, locked: make(map[domain.StockKey]struct{})}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, txContextKey{}, state)); err != nil {
		return state.retry, err
	}
	if err = tx.Commit(ctx); err != nil {
		commitErr := wrapError(context.WithValue(ctx, txContextKey{}, state), "postgres.commit", err)
		return state.retry, commitErr
	}
	return false, nil
}

type catalogRepository struct{ store *Store }

func (r catalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.store.q(ctx).QueryRow(ctx, `
		SELECT p.id, p.title, p.category, p.price, p.stock, p.updated_at,
		       COALESCE(array_agg(o.id ORDER BY o.id) FILTER (WHERE o.id IS NOT NULL), '{}')
		FROM products p
		LEFT JOIN product_options o ON o.product_id = p.id
		WHERE p.id = $1
		GROUP BY p.id`, productID,
	).Scan(&product.ID, &product.Title, &product.Category, &product.Price, &product.Stock, &product.UpdatedAt, &product.OptionIDs)
	if err != nil {
		return domain.Product{}, wrapError(ctx, "products.get", err)
	}
	return product, nil
}

func (r catalogRepository) FindOption(ctx context.Context, optionID string) (domain.ProductOption, error) {
	var option domain.ProductOption
	err := r.store.q(ctx).QueryRow(ctx, `
		SELECT id, product_id, name, price, stock, updated_at
		FROM product_options
		WHERE id = $1`, optionID,
	).Scan(&option.ID, &option.ProductID, &option.Name, &option.Price, &option.Stock, &option.UpdatedAt)
	if err != nil {
		return domain.ProductOption{}, wrapError(ctx, "product_options.get", err)
	}
	return option, nil
}

type inventoryRepository struct{ store *Store }

// LockStock locks product rows before option rows, each in id order. Every unit of work uses
// the same order, which keeps concurrent reservations free of lock cycles.
func (r inventoryRepository) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int64, error) {
	const op = "stock.lock"
	state := txFromContext(ctx)
	if state == nil {
		return nil, repositories.NewStockError(op, repositories.StockErrorTxRequired, "stock must be locked inside a unit of work", nil)
	}

	productIDs := make([]string, 0, len(keys))
	optionIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		if key.HasOption() {
			optionIDs = append(optionIDs, key.OptionID)
			continue
		}
		productIDs = append(productIDs, key.ProductID)
	}

	productStock := make(map[string]int64, len(productIDs))
	if len(productIDs) > 0 {
		rows, err := state.tx.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, productIDs)
		if err != nil {
			return nil, wrapError(ctx, op, err)
		}
		for rows.Next() {
			var id string
			var stock int64
			if err := rows.Scan(&id, &stock); err != nil {
				rows.Close()
				return nil, wrapError(ctx, op, err)
			}
			productStock[id] = stock
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapError(ctx, op, err)
		}
	}

	type optionRow struct {
		productID string
		stock     int64
	}
	optionStock := make(map[string]optionRow, len(optionIDs))
	if len(optionIDs) > 0 {
		rows, err := state.tx.Query(ctx, `SELECT id, product_id, stock FROM product_options WHERE id = ANY($1) ORDER BY id FOR UPDATE`, optionIDs)
		if err != nil {
			return nil, wrapError(ctx, op, err)
		}
		for rows.Next() {
			var id string
			var row optionRow
			if err := rows.Scan(&id, &row.productID, &row.stock); err != nil {
				rows.Close()
				return nil, wrapError(ctx, op, err)
			}
			optionStock[id] = row
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapError(ctx, op, err)
		}
	}

	values := make(map[domain.StockKey]int64, len(keys))
	for _, key := range keys {
		if key.HasOption() {
			row, ok := optionStock[key.OptionID]
			if !ok || row.productID != key.ProductID {
				continue
			}
			values[key] = row.stock
		} else {
			stock, ok := productStock[key.ProductID]
			if !ok {
				continue
			}
			values[key] = stock
		}
		state.locked[key] = struct{}{}
	}
	return values, nil
}

func (r inventoryRepository) SetStock(ctx context.Context, key domain.StockKey, value int64) error {
	const op = "stock.set"
	state := txFromContext(ctx)
	if state == nil {
		return repositories.NewStockError(op, repositories.StockErrorTxRequired, "stock must be written inside a unit of work", nil)
	}
	if _, ok := state.locked[key]; !ok {
		return repositories.NewStockError(op, repositories.StockErrorNotLocked, fmt.Sprintf("stock %s is not locked", key), nil)
	}
	if value < 0 {
		return repositories.NewStockError(op, repositories.StockErrorNegative, fmt.Sprintf("stock %s cannot be negative", key), nil)
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if key.HasOption() {
		tag, err = state.tx.Exec(ctx, `UPDATE product_options SET stock = $3, updated_at = now() WHERE id = $1 AND product_id = $2`, key.OptionID, key.ProductID, value)
	} else {
		tag, err = state.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, key.ProductID, value)
	}
	if err != nil {
		if isCheckViolation(err) {
			return repositories.NewStockError(op, repositories.StockErrorNegative, fmt.Sprintf("stock %s cannot be negative", key), err)
		}
		return wrapError(ctx, op, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewStockError(op, repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", key), nil)
	}
	return nil
}

type memberRepository struct{ store *Store }

func (r memberRepository) FindByID(ctx context.Context, memberID string) (domain.Member, error) {
	var member domain.Member
	err := r.store.q(ctx).QueryRow(ctx, `
		SELECT id, email, recipient_name, zip_code, address, phone
		FROM members
		WHERE id = $1`, memberID,
	).Scan(&member.ID, &member.Email, &member.Shipping.RecipientName, &member.Shipping.ZipCode, &member.Shipping.Address, &member.Shipping.Phone)
	if err != nil {
		return domain.Member{}, wrapError(ctx, "members.get", err)
	}
	return member, nil
}
