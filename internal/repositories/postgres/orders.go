package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/productshop/api/internal/domain"
	"github.com/productshop/api/internal/platform/pagination"
	"github.com/productshop/api/internal/repositories"
)

const orderColumns = `id, member_id, status, paid, payment_method, items_total, shipping_fee, total_price,
	recipient_name, zip_code, address, phone, request_note, failure_reason, cancel_reason, return_reason,
	created_at, updated_at, status_changed_at, paid_at, failed_at, shipped_at, delivered_at, cancelled_at,
	return_requested_at`

const lineColumns = `id::text, order_id, product_id, COALESCE(option_id, ''), product_title, option_name, quantity,
	product_price, option_price, unit_price, line_total`

type orderRepository struct{ store *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewError("orders.insert", errors.New("order id is required"))
	}
	return r.store.RunInTx(ctx, func(txCtx context.Context) error {
		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
			orderArgs(order)...)
		for i, line := range order.Lines {
			batch.Queue(`INSERT INTO order_lines (id, order_id, position, product_id, option_id, product_title, option_name,
				quantity, product_price, option_price, unit_price, line_total)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)`,
				line.ID, order.ID, i, line.ProductID, line.OptionID, line.ProductTitle, line.OptionName,
				line.Quantity, line.ProductPrice, line.OptionPrice, line.UnitPrice, line.LineTotal)
		}

		results := r.store.q(txCtx).SendBatch(txCtx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return wrapError(txCtx, "orders.insert", err)
			}
		}
		return wrapError(txCtx, "orders.insert", results.Close())
	})
}

// Update rewrites the order header. Lines are immutable snapshots and are never touched.
func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.store.q(ctx).Exec(ctx, `
		UPDATE orders SET
			status = $2, paid = $3, failure_reason = $4, cancel_reason = $5, return_reason = $6,
			updated_at = $7, status_changed_at = $8, paid_at = $9, failed_at = $10, shipped_at = $11,
			delivered_at = $12, cancelled_at = $13, return_requested_at = $14
		WHERE id = $1`,
		order.ID, string(order.Status), order.Paid, string(order.FailureReason), order.CancelReason, order.ReturnReason,
		order.UpdatedAt, order.StatusChangedAt, order.PaidAt, order.FailedAt, order.ShippedAt,
		order.DeliveredAt, order.CancelledAt, order.ReturnRequestedAt,
	)
	if err != nil {
		return wrapError(ctx, "orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewNotFoundError("orders.update", fmt.Errorf("order %q not found", order.ID))
	}
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, orderID, false)
}

func (r orderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, orderID, txFromContext(ctx) != nil)
}

func (r orderRepository) find(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	q := r.store.q(ctx)
	order, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, wrapError(ctx, "orders.get", err)
	}

	lines, err := r.loadLines(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r orderRepository) ListByMember(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	var cursorAt *time.Time
	if !cursor.IsZero() {
		at := cursor.CreatedAt
		cursorAt = &at
	}

	rows, err := r.store.q(ctx).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE member_id = $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`,
		filter.MemberID, cursorAt, cursor.ID, pageSize+1,
	)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(ctx, "orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(ctx, "orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		last := orders[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		orders = orders[:pageSize]
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	page.Items = orders
	return page, nil
}

func (r orderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	out := make(map[string][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.store.q(ctx).Query(ctx, `
		SELECT `+lineColumns+`
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, wrapError(ctx, "order_lines.list", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line    domain.OrderLine
			orderID string
		)
		if err := rows.Scan(&line.ID, &orderID, &line.ProductID, &line.OptionID, &line.ProductTitle, &line.OptionName,
			&line.Quantity, &line.ProductPrice, &line.OptionPrice, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, wrapError(ctx, "order_lines.list", err)
		}
		out[orderID] = append(out[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(ctx, "order_lines.list", err)
	}
	return out, nil
}

func orderArgs(order domain.Order) []any {
	return []any{
		order.ID, order.MemberID, string(order.Status), order.Paid, string(order.PaymentMethod),
		order.ItemsTotal, order.ShippingFee, order.TotalPrice,
		order.Shipping.RecipientName, order.Shipping.ZipCode, order.Shipping.Address, order.Shipping.Phone,
		order.RequestNote, string(order.FailureReason), order.CancelReason, order.ReturnReason,
		order.CreatedAt, order.UpdatedAt, order.StatusChangedAt,
		order.PaidAt, order.FailedAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.ReturnRequestedAt,
	}
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		method        string
		failureReason string
	)
	err := row.Scan(
		&order.ID, &order.MemberID, &status, &order.Paid, &method,
		&order.ItemsTotal, &order.ShippingFee, &order.TotalPrice,
		&order.Shipping.RecipientName, &order.Shipping.ZipCode, &order.Shipping.Address, &order.Shipping.Phone,
		&order.RequestNote, &failureReason, &order.CancelReason, &order.ReturnReason,
		&order.CreatedAt, &order.UpdatedAt, &order.StatusChangedAt,
		&order.PaidAt, &order.FailedAt, &order.ShippedAt, &order.DeliveredAt, &order.CancelledAt, &order.ReturnRequestedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.FailureReason = domain.ReservationFailure(failureReason)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.StatusChangedAt = order.StatusChangedAt.UTC()
	return order, nil
}
