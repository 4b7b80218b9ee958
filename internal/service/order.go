package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/lib/events"
	"github.com/linemk/storefront/internal/storage"
)

const currencyKZT = "KZT"

// Recorder счётчики, которые обновляют сервисы
type Recorder interface {
	OrderCreated(source string)
	NotificationHandled(kind string, code int)
	GuestsRemoved(n int64)
}

type OrderService interface {
	CreateFromBasket(ctx context.Context, in BasketOrderInput) (*OrderResult, error)
	CreateGuestOrder(ctx context.Context, in GuestOrderInput) (*OrderResult, error)
}

type BasketOrderInput struct {
	UserID           int64
	RecipientName    string
	RecipientAddress string
	Notes            *string
}

type GuestOrderItem struct {
	ProductID       int64
	Quantity        int
	SelectedColorID *int64
	SelectedSizeID  *int64
}

// GuestOrderInput заказ с явным списком товаров; UserID пустой у анонимного покупателя
type GuestOrderInput struct {
	UserID           *int64
	RecipientName    string
	RecipientAddress string
	RecipientPhone   *string
	RecipientEmail   *string
	Notes            *string
	Items            []GuestOrderItem
}

// PaymentData параметры для платёжного виджета на клиенте
type PaymentData struct {
	PublicID    string `json:"publicId"`
	OrderID     int64  `json:"orderId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type OrderResult struct {
	Order       *models.Order `json:"order"`
	PaymentData PaymentData   `json:"paymentData"`
}

type orderService struct {
	log         *slog.Logger
	db          *sql.DB
	orderRepo   storage.OrderStorage
	basketRepo  storage.BasketStorage
	productRepo storage.ProductStorage
	publisher   events.Publisher
	recorder    Recorder
	publicID    string
}

func NewOrderService(
	log *slog.Logger,
	db *sql.DB,
	orderRepo storage.OrderStorage,
	basketRepo storage.BasketStorage,
	productRepo storage.ProductStorage,
	publisher events.Publisher,
	recorder Recorder,
	publicID string,
) OrderService {
	return &orderService{
		log:         log,
		db:          db,
		orderRepo:   orderRepo,
		basketRepo:  basketRepo,
		productRepo: productRepo,
		publisher:   publisher,
		recorder:    recorder,
		publicID:    publicID,
	}
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// CreateFromBasket оформляет заказ из корзины пользователя.
// Корзина читается с блокировкой строк и очищается в той же транзакции.
func (s *orderService) CreateFromBasket(ctx context.Context, in BasketOrderInput) (*OrderResult, error) {
	const op = "service.OrderService.CreateFromBasket"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", in.UserID))

	if strings.TrimSpace(in.RecipientName) == "" || strings.TrimSpace(in.RecipientAddress) == "" {
		return nil, apperr.Validation("recipient name and address are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	basket, err := s.basketRepo.GetBasketItemsTx(ctx, tx, in.UserID)
	if err != nil {
		rollback(tx, logger)
		logger.Error("failed to read basket", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to read basket: %w", op, err)
	}
	if len(basket) == 0 {
		rollback(tx, logger)
		logger.Warn("basket is empty")
		return nil, apperr.Validation("basket is empty")
	}

	order := newOrder(&in.UserID, in.RecipientName, in.RecipientAddress, nil, nil, in.Notes)
	for _, line := range basket {
		if line.Product == nil {
			rollback(tx, logger)
			logger.Warn("basket references missing product", slog.Int64("productID", line.ProductID))
			return nil, apperr.NotFound("product %d not found", line.ProductID)
		}
		if err := checkQuantity(line.Quantity); err != nil {
			rollback(tx, logger)
			logger.Warn("basket line quantity out of range", slog.Int64("productID", line.ProductID), slog.Int("quantity", line.Quantity))
			return nil, err
		}
		order.Items = append(order.Items, &models.OrderItem{
			ProductID:       line.ProductID,
			SelectedColorID: line.SelectedColorID,
			SelectedSizeID:  line.SelectedSizeID,
			Quantity:        line.Quantity,
			PriceKZT:        line.Product.PriceKZT,
			PriceUSD:        line.Product.PriceUSD,
		})
	}

	if err := s.persist(ctx, tx, order); err != nil {
		rollback(tx, logger)
		return nil, saveFailed(logger, op, err)
	}

	if err := s.basketRepo.ClearBasketTx(ctx, tx, in.UserID); err != nil {
		rollback(tx, logger)
		logger.Error("failed to clear basket", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to clear basket: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("order created from basket", slog.Int64("orderID", order.ID), slog.Int64("totalKZT", order.TotalKZT))
	return s.created(ctx, logger, order, "basket"), nil
}

// CreateGuestOrder оформляет заказ по переданному списку товаров, корзина не используется.
// Без авторизации обязательны телефон и email получателя.
func (s *orderService) CreateGuestOrder(ctx context.Context, in GuestOrderInput) (*OrderResult, error) {
	const op = "service.OrderService.CreateGuestOrder"
	logger := s.log.With(slog.String("op", op))
	if in.UserID != nil {
		logger = logger.With(slog.Int64("userID", *in.UserID))
	}

	if err := validateGuestOrder(in); err != nil {
		logger.Warn("invalid guest order", slog.String("reason", err.Error()))
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order := newOrder(in.UserID, in.RecipientName, in.RecipientAddress, in.RecipientPhone, in.RecipientEmail, in.Notes)
	for _, item := range in.Items {
		product, err := s.productRepo.GetProductByIDTx(ctx, tx, item.ProductID)
		if err != nil {
			rollback(tx, logger)
			if errors.Is(err, storage.ErrProductNotFound) {
				logger.Warn("product not found", slog.Int64("productID", item.ProductID))
				return nil, apperr.NotFound("product %d not found", item.ProductID)
			}
			logger.Error("failed to get product", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to get product: %w", op, err)
		}
		if product.Status != models.ProductStatusAvailable {
			rollback(tx, logger)
			logger.Warn("product not available", slog.Int64("productID", product.ID), slog.String("status", string(product.Status)))
			return nil, apperr.Validation("product %s is not available", product.Name)
		}
		order.Items = append(order.Items, &models.OrderItem{
			ProductID:       product.ID,
			SelectedColorID: item.SelectedColorID,
			SelectedSizeID:  item.SelectedSizeID,
			Quantity:        item.Quantity,
			PriceKZT:        product.PriceKZT,
			PriceUSD:        product.PriceUSD,
		})
	}

	if err := s.persist(ctx, tx, order); err != nil {
		rollback(tx, logger)
		return nil, saveFailed(logger, op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("guest order created", slog.Int64("orderID", order.ID), slog.Int64("totalKZT", order.TotalKZT))
	return s.created(ctx, logger, order, "guest"), nil
}

func validateGuestOrder(in GuestOrderInput) error {
	if strings.TrimSpace(in.RecipientName) == "" || strings.TrimSpace(in.RecipientAddress) == "" {
		return apperr.Validation("recipient name and address are required")
	}
	if in.UserID == nil && (!nonEmpty(in.RecipientPhone) || !nonEmpty(in.RecipientEmail)) {
		return apperr.Validation("recipient phone and email are required for guest checkout")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("items are required")
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return apperr.Validation("productId is required")
		}
		if err := checkQuantity(item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func checkQuantity(q int) error {
	if q < 1 {
		return apperr.Validation("quantity must be at least 1")
	}
	if q > models.MaxItemQuantity {
		return apperr.Validation("quantity must not exceed %d", models.MaxItemQuantity)
	}
	return nil
}

// addLine прибавляет price*qty к total; переполнение int64 считается ошибкой запроса
func addLine(total, price int64, qty int) (int64, error) {
	q := int64(qty)
	if price < 0 || q < 0 {
		return 0, apperr.Validation("negative price or quantity")
	}
	if q != 0 && price > (math.MaxInt64-total)/q {
		return 0, apperr.Validation("order total is out of range")
	}
	return total + price*q, nil
}

func newOrder(userID *int64, name, address string, phone, email, notes *string) *models.Order {
	pending := models.PaymentStatusPending
	return &models.Order{
		UserID:           userID,
		Status:           models.OrderStatusCreated,
		RecipientName:    strings.TrimSpace(name),
		RecipientAddress: strings.TrimSpace(address),
		RecipientPhone:   phone,
		RecipientEmail:   email,
		PaymentMethod:    models.PaymentMethodTipTopPay,
		PaymentStatus:    &pending,
		Notes:            notes,
	}
}

// persist считает итоги по зафиксированным ценам и сохраняет заказ со строками
func (s *orderService) persist(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	var err error
	for _, item := range order.Items {
		if order.TotalKZT, err = addLine(order.TotalKZT, item.PriceKZT, item.Quantity); err != nil {
			return err
		}
		if order.TotalUSD, err = addLine(order.TotalUSD, item.PriceUSD, item.Quantity); err != nil {
			return err
		}
	}

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	for _, item := range order.Items {
		item.OrderID = order.ID
		if err := s.orderRepo.CreateOrderItem(ctx, tx, item); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func saveFailed(logger *slog.Logger, op string, err error) error {
	if apperr.KindOf(err) == apperr.KindValidation {
		logger.Warn("order rejected", slog.String("reason", err.Error()))
	} else {
		logger.Error("failed to save order", slog.Any("error", err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *orderService) created(ctx context.Context, logger *slog.Logger, order *models.Order, source string) *OrderResult {
	s.recorder.OrderCreated(source)
	publish(ctx, logger, s.publisher, events.NewOrderEvent(events.TypeOrderCreated, order))

	return &OrderResult{
		Order: order,
		PaymentData: PaymentData{
			PublicID:    s.publicID,
			OrderID:     order.ID,
			Amount:      order.TotalKZT,
			Currency:    currencyKZT,
			Description: fmt.Sprintf("Payment for order #%d", order.ID),
		},
	}
}

// publish не влияет на результат операции: транзакция уже зафиксирована
func publish(ctx context.Context, logger *slog.Logger, publisher events.Publisher, event events.Event) {
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Error("failed to publish order event",
			slog.String("type", event.Type),
			slog.Int64("orderID", event.OrderID),
			slog.Any("error", err),
		)
	}
}
