package models

// ProductStatus статус товара в каталоге
type ProductStatus string

const (
	ProductStatusAvailable ProductStatus = "AVAILABLE"
	ProductStatusSold      ProductStatus = "SOLD"
	ProductStatusDeleted   ProductStatus = "DELETED"
)

// Product представляет товар каталога в том объёме, который нужен для заказа
type Product struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	PriceKZT int64         `json:"priceKZT"`
	PriceUSD int64         `json:"priceUSD"`
	Status   ProductStatus `json:"status"`
}
