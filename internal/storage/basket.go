package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/storefront/internal/domain/models"
)

var ErrBasketItemNotFound = errors.New("basket item not found")

// BasketStorage описывает методы для работы с корзиной.
type BasketStorage interface {
	// GetBasketItemsTx читает корзину с товарами и блокирует её строки до конца транзакции.
	GetBasketItemsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.BasketItem, error)
	// ClearBasketTx удаляет все позиции пользователя в рамках транзакции заказа.
	ClearBasketTx(ctx context.Context, tx *sql.Tx, userID int64) error

	GetBasketItems(ctx context.Context, userID int64) ([]*models.BasketItem, error)
	// AddItem добавляет позицию; если такая комбинация уже есть, увеличивает количество.
	AddItem(ctx context.Context, item *models.BasketItem) (*models.BasketItem, error)
	UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error
	DeleteItem(ctx context.Context, userID, itemID int64) error
	ClearBasket(ctx context.Context, userID int64) (int64, error)
}

type basketRepository struct {
	db *sql.DB
}

func NewBasketRepository(db *sql.DB) BasketStorage {
	return &basketRepository{db: db}
}

const basketSelect = `
		SELECT b.id, b.user_id, b.product_id, b.selected_color_id, b.selected_size_id, b.quantity, b.created_at,
		       p.id, p.name, p.price_kzt, p.price_usd, p.status
		FROM basket_items b
		LEFT JOIN products p ON p.id = b.product_id
		WHERE b.user_id = $1`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *basketRepository) GetBasketItemsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.BasketItem, error) {
	return queryBasket(ctx, tx, basketSelect+`
		ORDER BY b.id
		FOR UPDATE OF b`, userID)
}

func (r *basketRepository) GetBasketItems(ctx context.Context, userID int64) ([]*models.BasketItem, error) {
	return queryBasket(ctx, r.db, basketSelect+`
		ORDER BY b.created_at DESC`, userID)
}

func queryBasket(ctx context.Context, q queryer, query string, userID int64) ([]*models.BasketItem, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query basket items: %w", err)
	}
	defer rows.Close()

	var items []*models.BasketItem
	for rows.Next() {
		item := &models.BasketItem{}
		var (
			productID     sql.NullInt64
			productName   sql.NullString
			priceKZT      sql.NullInt64
			priceUSD      sql.NullInt64
			productStatus sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.SelectedColorID, &item.SelectedSizeID,
			&item.Quantity, &item.CreatedAt, &productID, &productName, &priceKZT, &priceUSD, &productStatus); err != nil {
			return nil, fmt.Errorf("failed to scan basket item: %w", err)
		}
		// LEFT JOIN: если товара нет, Product остаётся nil
		if productID.Valid {
			item.Product = &models.Product{
				ID:       productID.Int64,
				Name:     productName.String,
				PriceKZT: priceKZT.Int64,
				PriceUSD: priceUSD.Int64,
				Status:   models.ProductStatus(productStatus.String),
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *basketRepository) ClearBasketTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM basket_items WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear basket: %w", err)
	}
	return nil
}

func (r *basketRepository) AddItem(ctx context.Context, item *models.BasketItem) (*models.BasketItem, error) {
	query := `INSERT INTO basket_items (user_id, product_id, selected_color_id, selected_size_id, quantity, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW())
	          ON CONFLICT (user_id, product_id, selected_color_id, selected_size_id)
	          DO UPDATE SET quantity = basket_items.quantity + EXCLUDED.quantity
	          RETURNING id, quantity, created_at`
	err := r.db.QueryRowContext(ctx, query,
		item.UserID, item.ProductID, item.SelectedColorID, item.SelectedSizeID, item.Quantity,
	).Scan(&item.ID, &item.Quantity, &item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add basket item: %w", err)
	}
	return item, nil
}

func (r *basketRepository) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	res, err := r.db.ExecContext(ctx, "UPDATE basket_items SET quantity = $1 WHERE id = $2 AND user_id = $3", quantity, itemID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrBasketItemNotFound)
}

func (r *basketRepository) DeleteItem(ctx context.Context, userID, itemID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM basket_items WHERE id = $1 AND user_id = $2", itemID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res, ErrBasketItemNotFound)
}

func (r *basketRepository) ClearBasket(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM basket_items WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear basket: %w", err)
	}
	return res.RowsAffected()
}

// expectAffected возвращает notFound, если запрос не затронул ни одной строки
func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
