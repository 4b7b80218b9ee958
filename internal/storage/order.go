package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/linemk/storefront/internal/domain/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStorage описывает методы для работы с заказами.
type OrderStorage interface {
	// CreateOrder вставляет заказ и заполняет ID, CreatedAt, UpdatedAt.
	CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// CreateOrderItem вставляет строку заказа с уже зафиксированными ценами.
	CreateOrderItem(ctx context.Context, tx *sql.Tx, item *models.OrderItem) error
	// GetOrderForUpdate читает заказ и блокирует строку до конца транзакции.
	GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	// UpdateOrderStatus меняет статус заказа; notes перезаписываются, только если переданы.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, notes *string) error
	// UpdatePaymentState меняет статус оплаты; status и transactionID меняются, только если переданы.
	UpdatePaymentState(ctx context.Context, tx *sql.Tx, id int64, paymentStatus models.PaymentStatus, status *models.OrderStatus, transactionID *string) error

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// ListOrders возвращает страницу заказов по фильтру и общее количество подходящих заказов.
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, int, error)
	GetStats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error)
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = `id, user_id, status, recipient_name, recipient_address, recipient_phone, recipient_email,
		payment_method, payment_status, tiptoppay_transaction_id, total_kzt, total_usd, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.RecipientName, &o.RecipientAddress, &o.RecipientPhone, &o.RecipientEmail,
		&o.PaymentMethod, &o.PaymentStatus, &o.TransactionID, &o.TotalKZT, &o.TotalUSD, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	query := `INSERT INTO orders (user_id, status, recipient_name, recipient_address, recipient_phone, recipient_email,
	                              payment_method, payment_status, total_kzt, total_usd, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	          RETURNING id, created_at, updated_at`
	err := tx.QueryRowContext(ctx, query,
		order.UserID, order.Status, order.RecipientName, order.RecipientAddress, order.RecipientPhone, order.RecipientEmail,
		order.PaymentMethod, order.PaymentStatus, order.TotalKZT, order.TotalUSD, order.Notes,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepository) CreateOrderItem(ctx context.Context, tx *sql.Tx, item *models.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, selected_color_id, selected_size_id, quantity, price_kzt, price_usd)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id`
	err := tx.QueryRowContext(ctx, query,
		item.OrderID, item.ProductID, item.SelectedColorID, item.SelectedSizeID, item.Quantity, item.PriceKZT, item.PriceUSD,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}
	return nil
}

func (r *orderRepository) GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	order, err := scanOrder(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" { // lock_not_available
			return nil, fmt.Errorf("order is locked, please try again: %w", err)
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, notes *string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, notes = COALESCE($2, notes), updated_at = NOW() WHERE id = $3",
		status, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectAffected(res, ErrOrderNotFound)
}

func (r *orderRepository) UpdatePaymentState(ctx context.Context, tx *sql.Tx, id int64, paymentStatus models.PaymentStatus, status *models.OrderStatus, transactionID *string) error {
	query := `UPDATE orders
	          SET payment_status = $1,
	              status = COALESCE($2, status),
	              tiptoppay_transaction_id = COALESCE($3, tiptoppay_transaction_id),
	              updated_at = NOW()
	          WHERE id = $4`
	res, err := tx.ExecContext(ctx, query, paymentStatus, status, transactionID, id)
	if err != nil {
		return fmt.Errorf("failed to update payment state: %w", err)
	}
	return expectAffected(res, ErrOrderNotFound)
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// buildOrderWhere собирает условие WHERE по фильтру, нумерация параметров начинается с 1
func buildOrderWhere(filter models.OrderFilter, from, to *time.Time) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.PaymentMethod != nil {
		add("payment_method = $%d", string(*filter.PaymentMethod))
	}
	if from != nil {
		add("created_at >= $%d", *from)
	}
	if to != nil {
		add("created_at <= $%d", *to)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *orderRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, int, error) {
	where, args := buildOrderWhere(filter, filter.From, filter.To)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// attachItems загружает строки для всех переданных заказов одним запросом
func (r *orderRepository) attachItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = []*models.OrderItem{}
	}

	query := `SELECT id, order_id, product_id, selected_color_id, selected_size_id, quantity, price_kzt, price_usd
	          FROM order_items
	          WHERE order_id = ANY($1)
	          ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &models.OrderItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SelectedColorID, &item.SelectedSizeID,
			&item.Quantity, &item.PriceKZT, &item.PriceUSD); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func (r *orderRepository) GetStats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error) {
	where, args := buildOrderWhere(models.OrderFilter{}, from, to)
	stats := &models.OrderStats{
		OrdersByStatus:  map[string]int64{},
		OrdersByPayment: map[string]int64{},
	}

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(total_kzt), 0), COALESCE(SUM(total_usd), 0) FROM orders"+where, args...,
	).Scan(&stats.TotalOrders, &stats.TotalRevenueKZT, &stats.TotalRevenueUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate orders: %w", err)
	}

	if err := r.countBy(ctx, "status", where, args, stats.OrdersByStatus); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "payment_method", where, args, stats.OrdersByPayment); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *orderRepository) countBy(ctx context.Context, column, where string, args []any, dst map[string]int64) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM orders%s GROUP BY %s", column, where, column)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to group orders by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}
