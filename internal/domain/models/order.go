package models

import "time"

// OrderStatus статус исполнения заказа
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid проверяет, что статус входит в закрытый список
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus статус оплаты, не зависит от OrderStatus
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentMethod способ оплаты, пока только один внешний шлюз
type PaymentMethod string

const PaymentMethodTipTopPay PaymentMethod = "TIPTOP_PAY"

// Order представляет заказ с зафиксированными ценами
type Order struct {
	ID               int64          `json:"id"`
	UserID           *int64         `json:"userId,omitempty"`
	Status           OrderStatus    `json:"status"`
	RecipientName    string         `json:"recipientName"`
	RecipientAddress string         `json:"recipientAddress"`
	RecipientPhone   *string        `json:"recipientPhone,omitempty"`
	RecipientEmail   *string        `json:"recipientEmail,omitempty"`
	PaymentMethod    PaymentMethod  `json:"paymentMethod"`
	PaymentStatus    *PaymentStatus `json:"paymentStatus,omitempty"`
	TransactionID    *string        `json:"tipTopPayTransactionId,omitempty"`
	TotalKZT         int64          `json:"totalKZT"`
	TotalUSD         int64          `json:"totalUSD"`
	Notes            *string        `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	Items            []*OrderItem   `json:"orderItems"`
}

// MaxItemQuantity верхняя граница количества в одной строке заказа или корзины
const MaxItemQuantity = 1000

// OrderItem строка заказа; цена снимается с товара в момент создания и дальше не меняется
type OrderItem struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	ProductID       int64  `json:"productId"`
	SelectedColorID *int64 `json:"selectedColorId,omitempty"`
	SelectedSizeID  *int64 `json:"selectedSizeId,omitempty"`
	Quantity        int    `json:"quantity"`
	PriceKZT        int64  `json:"priceKZT"`
	PriceUSD        int64  `json:"priceUSD"`
}

// OrderFilter параметры выборки списка заказов
type OrderFilter struct {
	UserID        *int64
	Status        *OrderStatus
	PaymentMethod *PaymentMethod
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// OrderStats агрегаты для админской статистики
type OrderStats struct {
	TotalOrders     int64            `json:"totalOrders"`
	OrdersByStatus  map[string]int64 `json:"ordersByStatus"`
	TotalRevenueKZT int64            `json:"totalRevenueKZT"`
	TotalRevenueUSD int64            `json:"totalRevenueUSD"`
	OrdersByPayment map[string]int64 `json:"ordersByPayment"`
}
