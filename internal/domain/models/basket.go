package models

import "time"

// BasketItem позиция в корзине пользователя.
// На одну комбинацию (user, product, color, size) приходится не более одной строки.
type BasketItem struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"userId"`
	ProductID       int64     `json:"productId"`
	SelectedColorID *int64    `json:"selectedColorId,omitempty"`
	SelectedSizeID  *int64    `json:"selectedSizeId,omitempty"`
	Quantity        int       `json:"quantity"`
	CreatedAt       time.Time `json:"createdAt"`
	Product         *Product  `json:"product,omitempty"` // nil, если товар не найден при JOIN
}
