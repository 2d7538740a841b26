package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-pipeline/internal/domain/order"
	"github.com/xenking/order-pipeline/internal/domain/payment"
)

const (
	insertOrderSQL = `INSERT INTO orders (reference, amount, payment_method, customer_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	selectOrderSQL = `SELECT id, reference, amount, payment_method, customer_id, status, created_at
		FROM orders`

	getOrderByIDSQL        = selectOrderSQL + ` WHERE id = $1`
	getOrderByReferenceSQL = selectOrderSQL + ` WHERE reference = $1`
	listOrdersSQL          = selectOrderSQL + ` ORDER BY id`

	listOrderLinesSQL = `SELECT id, order_id, product_id, quantity
		FROM order_lines WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn inside a database transaction. The transaction commits only
// if fn returns nil.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

// FindByID returns a single order by its identifier.
func (s *OrderStore) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	return s.findOne(ctx, getOrderByIDSQL, id)
}

// FindByReference returns the order carrying the given reference.
func (s *OrderStore) FindByReference(ctx context.Context, reference string) (*order.Order, error) {
	return s.findOne(ctx, getOrderByReferenceSQL, reference)
}

// FindAll returns all orders ordered by id.
func (s *OrderStore) FindAll(ctx context.Context) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// FindLines returns the lines of an order in insertion order.
func (s *OrderStore) FindLines(ctx context.Context, orderID int64) ([]order.Line, error) {
	rows, err := s.pool.Query(ctx, listOrderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var l order.Line
		err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity)
		return l, err
	})
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := s.pool.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (s *OrderStore) findOne(ctx context.Context, query string, arg any) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}
	return &o, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	err := t.tx.QueryRow(ctx, insertOrderSQL,
		o.Reference, o.Amount, string(o.PaymentMethod), o.CustomerID, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == codeUniqueViolation {
			return order.ErrDuplicateReference
		}
		return fmt.Errorf("creating order %q: %w", o.Reference, err)
	}
	return nil
}

func (t *orderTx) InsertOrderLine(ctx context.Context, l *order.Line) error {
	err := t.tx.QueryRow(ctx, insertOrderLineSQL, l.OrderID, l.ProductID, l.Quantity).Scan(&l.ID)
	if err != nil {
		if pgErrorCode(err) == codeForeignKeyViolation {
			return order.ErrUnknownOrder
		}
		return fmt.Errorf("creating line for order %d: %w", l.OrderID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		amount decimal.Decimal
		method string
		status string
	)
	err := row.Scan(&o.ID, &o.Reference, &amount, &method, &o.CustomerID, &status, &o.CreatedAt)
	o.Amount = amount
	o.PaymentMethod = payment.Method(method)
	o.Status = order.Status(status)
	return o, err
}
