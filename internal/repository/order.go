package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flicky/go-storefront-api/internal/model"
)

// ErrStatusConflict means the conditional PENDING -> PAID update matched no row.
var ErrStatusConflict = errors.New("order status changed concurrently")

// ChargeFunc runs while the order row is locked. Returning an error aborts
// the payment and leaves the order untouched.
type ChargeFunc func(ctx context.Context, order *model.Order) error

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	Pay(ctx context.Context, orderID, userID uuid.UUID, charge ChargeFunc) error
}

type pgOrderRepo struct{ db DB }

func NewOrderRepository(db DB) OrderRepository {
	return &pgOrderRepo{db: db}
}

// Create inserts the order and its items and takes the stock, all in one
// transaction. Each decrement is conditional on sufficient stock so two
// concurrent orders can never overdraw a product.
func (r *pgOrderRepo) Create(ctx context.Context, order *model.Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order.ID = uuid.New()
	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, status, total_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING created_at, updated_at`,
		order.ID, order.UserID, string(order.Status), order.TotalAmount,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New()
		item.OrderID = order.ID
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, position, quantity, price, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			item.ID, item.OrderID, item.ProductID, i, item.Quantity, item.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, d := range stockDemand(order.Items) {
		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`,
			d.productID, d.quantity,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return &InsufficientStockError{ProductID: d.productID, Requested: d.quantity}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type demand struct {
	productID uuid.UUID
	quantity  int
}

// stockDemand merges quantities per product and orders them by id, so
// concurrent transactions lock product rows in the same order.
func stockDemand(items []model.OrderItem) []demand {
	totals := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	out := make([]demand, 0, len(totals))
	for id, q := range totals {
		out = append(out, demand{productID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID.String() < out[j].productID.String() })
	return out
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order := &model.Order{}
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, status, total_amount, created_at, updated_at FROM orders WHERE id = $1`, id,
	).Scan(&order.ID, &order.UserID, &status, &order.TotalAmount, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	order.Status = model.OrderStatus(status)

	items, err := r.itemsFor(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, status, total_amount, created_at, updated_at FROM orders
		 WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	var ids []uuid.UUID
	for rows.Next() {
		o := model.Order{UserID: userID}
		var status string
		if err := rows.Scan(&o.ID, &status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// itemsFor loads the items of the given orders with a summary of each
// product that still exists.
func (r *pgOrderRepo) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]model.OrderItem, error) {
	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = id.String()
	}

	rows, err := r.db.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price, p.name, p.image
		 FROM order_items oi
		 LEFT JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = ANY($1::uuid[])
		 ORDER BY oi.order_id, oi.position`,
		keys,
	)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			item  model.OrderItem
			name  *string
			image *string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price, &name, &image); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if name != nil {
			item.Product = &model.ProductSummary{ID: item.ProductID, Name: *name, Image: image}
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return out, nil
}

// Pay locks the caller's order row, hands the locked snapshot to charge and,
// when charge succeeds, moves the order from PENDING to PAID. A concurrent
// payment attempt blocks on the lock and observes the committed status.
func (r *pgOrderRepo) Pay(ctx context.Context, orderID, userID uuid.UUID, charge ChargeFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order := &model.Order{}
	var status string
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, status, total_amount, created_at, updated_at FROM orders
		 WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		orderID, userID,
	).Scan(&order.ID, &order.UserID, &status, &order.TotalAmount, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}
	order.Status = model.OrderStatus(status)

	if err := charge(ctx, order); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		orderID, string(model.OrderStatusPaid), string(model.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStatusConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
