package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/storefront/internal/domain/models"
)

// ProductStorage описывает чтение товаров, нужное для оформления заказа.
type ProductStorage interface {
	// GetProductByIDTx получает товар по id внутри транзакции заказа.
	GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
	// GetProductByID получает товар вне транзакции (корзина).
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт новый репозиторий товаров.
func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

var ErrProductNotFound = errors.New("product not found")

const productQuery = "SELECT id, name, price_kzt, price_usd, status FROM products WHERE id = $1"

func (r *productRepository) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	return scanProduct(tx.QueryRowContext(ctx, productQuery, id))
}

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx, productQuery, id))
}

func scanProduct(row *sql.Row) (*models.Product, error) {
	product := &models.Product{}
	if err := row.Scan(&product.ID, &product.Name, &product.PriceKZT, &product.PriceUSD, &product.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return product, nil
}
