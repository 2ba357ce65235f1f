package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techaven/marketplace/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, shop_id, total_amount, status, shipping_address, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderSQL = `SELECT id, user_id, shop_id, total_amount, status, shipping_address, payment_intent_id, created_at
		FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT id, user_id, shop_id, total_amount, status, shipping_address, payment_intent_id, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	getOrderLinesSQL = `SELECT product_id, quantity, unit_price, line_total
		FROM order_lines WHERE order_id = $1 ORDER BY product_id`

	updateStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`

	setPaymentIntentSQL = `UPDATE orders SET payment_intent_id = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and all of its lines in one transaction.
// Either everything lands or nothing does; the caller never has to reason
// about a header without lines.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.ShopID, o.TotalAmount, string(o.Status), o.ShippingAddress, o.PaymentIntentID,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	for _, l := range o.Lines {
		_, err = tx.Exec(ctx, insertOrderLineSQL,
			o.ID, l.ProductID, l.Quantity, l.UnitPrice, l.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("inserting line %q of order %q: %w", l.ProductID, o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns an order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	lines, err := r.linesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

// ListByUser returns a user's orders, newest first, lines included.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}

	for i := range orders {
		lines, err := r.linesFor(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

// UpdateStatus moves an order between statuses with the expected current
// status as a guard predicate. Zero affected rows means the order is gone
// or not in the expected state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInvalidTransition
	}
	return nil
}

// SetPaymentIntent records the gateway intent id on the order.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	tag, err := r.pool.Exec(ctx, setPaymentIntentSQL, id, intentID)
	if err != nil {
		return fmt.Errorf("setting payment intent on order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) linesFor(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := r.pool.Query(ctx, getOrderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting lines of order %q: %w", orderID, err)
	}

	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var l order.Line
		err := row.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineTotal)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting lines of order %q: %w", orderID, err)
	}
	return lines, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ShopID, &o.TotalAmount, &status,
		&o.ShippingAddress, &o.PaymentIntentID, &o.CreatedAt)
	o.Status = order.Status(status)
	return o, err
}
