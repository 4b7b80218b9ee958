package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/lib/events"
	"github.com/linemk/storefront/internal/payment/tiptoppay"
	"github.com/linemk/storefront/internal/storage"
)

// Коды ответа на уведомления шлюза
const (
	CodeAccepted       = 0
	CodeUnknownOrder   = 10
	CodeAmountMismatch = 12
	CodeRejected       = 13
)

var amountTolerance = decimal.New(1, -2)

// PaymentGateway исходящие операции платёжного шлюза
type PaymentGateway interface {
	CreatePaymentByCryptogram(ctx context.Context, p tiptoppay.CryptogramPayment) tiptoppay.Result
	CheckPaymentStatus(ctx context.Context, transactionID string) tiptoppay.Result
	ConfirmPayment(ctx context.Context, transactionID string, amount decimal.Decimal) tiptoppay.Result
	CancelPayment(ctx context.Context, transactionID string) tiptoppay.Result
	RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) tiptoppay.Result
}

type PaymentService interface {
	// HandleNotification применяет уведомление шлюза к заказу и возвращает код ответа шлюзу
	HandleNotification(ctx context.Context, n *tiptoppay.Notification, signature string) int

	ChargeOrder(ctx context.Context, userID, orderID int64, cryptogram, name string) (*tiptoppay.Result, error)
	ConfirmPayment(ctx context.Context, orderID int64, amount *decimal.Decimal) (*tiptoppay.Result, error)
	CancelPayment(ctx context.Context, orderID int64) (*tiptoppay.Result, error)
	RefundPayment(ctx context.Context, orderID int64, amount *decimal.Decimal) (*tiptoppay.Result, error)
	PaymentStatus(ctx context.Context, orderID int64) (*tiptoppay.Result, error)
}

type PaymentOptions struct {
	// APIKey ключ проверки подписи уведомлений; пустой ключ отключает проверку
	APIKey           string
	EnforceSignature bool
}

type paymentService struct {
	log       *slog.Logger
	db        *sql.DB
	orderRepo storage.OrderStorage
	gateway   PaymentGateway
	publisher events.Publisher
	recorder  Recorder
	opts      PaymentOptions
}

func NewPaymentService(
	log *slog.Logger,
	db *sql.DB,
	orderRepo storage.OrderStorage,
	gateway PaymentGateway,
	publisher events.Publisher,
	recorder Recorder,
	opts PaymentOptions,
) PaymentService {
	return &paymentService{
		log:       log,
		db:        db,
		orderRepo: orderRepo,
		gateway:   gateway,
		publisher: publisher,
		recorder:  recorder,
		opts:      opts,
	}
}

// HandleNotification обрабатывает одно уведомление в одной транзакции, строка заказа блокируется.
// Повторная доставка того же уведомления приводит к тому же состоянию.
func (s *paymentService) HandleNotification(ctx context.Context, n *tiptoppay.Notification, signature string) (code int) {
	const op = "service.PaymentService.HandleNotification"
	kind := tiptoppay.Classify(n)
	logger := s.log.With(slog.String("op", op), slog.String("kind", string(kind)))

	defer func() {
		s.recorder.NotificationHandled(string(kind), code)
	}()

	if s.opts.APIKey != "" && !tiptoppay.Verify(n.Raw(), s.opts.APIKey, signature) {
		if s.opts.EnforceSignature {
			logger.Warn("notification signature mismatch, rejecting")
			return CodeRejected
		}
		logger.Warn("notification signature mismatch")
	}

	orderID, err := n.InvoiceID()
	if err != nil {
		logger.Warn("notification without valid invoice id", slog.String("error", err.Error()))
		return CodeRejected
	}
	logger = logger.With(slog.Int64("orderID", orderID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return CodeRejected
	}

	order, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		rollback(tx, logger)
		if errors.Is(err, storage.ErrOrderNotFound) {
			logger.Warn("notification for unknown order")
			return CodeUnknownOrder
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return CodeRejected
	}

	var (
		paymentStatus models.PaymentStatus
		orderStatus   *models.OrderStatus
		transactionID *string
		changed       bool
	)

	switch kind {
	case tiptoppay.EventCheck:
		amount, ok := n.Amount()
		if !ok || amount.Sub(decimal.NewFromInt(order.TotalKZT)).Abs().GreaterThan(amountTolerance) {
			rollback(tx, logger)
			logger.Warn("check amount mismatch",
				slog.String("amount", amount.String()),
				slog.Int64("totalKZT", order.TotalKZT),
			)
			return CodeAmountMismatch
		}
	case tiptoppay.EventPay, tiptoppay.EventConfirm:
		paid := models.OrderStatusPaid
		paymentStatus, orderStatus, transactionID, changed = models.PaymentStatusSuccess, &paid, n.TransactionID(), true
	case tiptoppay.EventFail:
		// поздний Fail не отменяет уже подтверждённую оплату
		if order.PaymentStatus != nil && *order.PaymentStatus == models.PaymentStatusSuccess {
			logger.Warn("fail notification after successful payment ignored")
			break
		}
		paymentStatus, changed = models.PaymentStatusFailed, true
	case tiptoppay.EventRefund, tiptoppay.EventCancel:
		paymentStatus, changed = models.PaymentStatusCancelled, true
	default:
		logger.Info("unknown notification acknowledged")
	}

	if changed {
		if err := s.orderRepo.UpdatePaymentState(ctx, tx, orderID, paymentStatus, orderStatus, transactionID); err != nil {
			rollback(tx, logger)
			logger.Error("failed to update payment state", slog.Any("error", err))
			return CodeRejected
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return CodeRejected
	}

	if changed {
		order.PaymentStatus = &paymentStatus
		if orderStatus != nil {
			order.Status = *orderStatus
		}
		if transactionID != nil {
			order.TransactionID = transactionID
		}
		logger.Info("payment state updated", slog.String("paymentStatus", string(paymentStatus)))
		publish(ctx, logger, s.publisher, events.NewOrderEvent(events.TypeOrderPaymentUpdated, order))
	}
	return CodeAccepted
}

// ChargeOrder отправляет криптограмму карты в шлюз. Состояние заказа меняется только уведомлением.
func (s *paymentService) ChargeOrder(ctx context.Context, userID, orderID int64, cryptogram, name string) (*tiptoppay.Result, error) {
	const op = "service.PaymentService.ChargeOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("orderID", orderID))

	if strings.TrimSpace(cryptogram) == "" {
		return nil, apperr.Validation("cryptogram is required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ownedBy(order, userID) {
		return nil, apperr.NotFound("order not found")
	}
	if order.Status != models.OrderStatusCreated ||
		(order.PaymentStatus != nil && *order.PaymentStatus == models.PaymentStatusSuccess) {
		logger.Warn("order is not payable", slog.String("status", string(order.Status)))
		return nil, apperr.Validation("order cannot be paid in its current state")
	}

	customer := tiptoppay.Customer{Name: name}
	if order.RecipientEmail != nil {
		customer.Email = *order.RecipientEmail
	}
	if order.RecipientPhone != nil {
		customer.Phone = *order.RecipientPhone
	}
	if customer.Name == "" {
		customer.Name = order.RecipientName
	}

	res := s.gateway.CreatePaymentByCryptogram(ctx, tiptoppay.CryptogramPayment{
		Cryptogram:  cryptogram,
		Amount:      decimal.NewFromInt(order.TotalKZT),
		Currency:    currencyKZT,
		OrderID:     order.ID,
		Description: fmt.Sprintf("Payment for order #%d", order.ID),
		Customer:    customer,
	})
	logger.Info("charge requested", slog.Bool("success", res.Success))
	return &res, nil
}

func (s *paymentService) ConfirmPayment(ctx context.Context, orderID int64, amount *decimal.Decimal) (*tiptoppay.Result, error) {
	const op = "service.PaymentService.ConfirmPayment"
	order, txID, err := s.orderTransaction(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := s.gateway.ConfirmPayment(ctx, txID, amountOrTotal(amount, order))
	s.log.Info("confirm requested", slog.String("op", op), slog.Int64("orderID", orderID), slog.Bool("success", res.Success))
	return &res, nil
}

func (s *paymentService) CancelPayment(ctx context.Context, orderID int64) (*tiptoppay.Result, error) {
	const op = "service.PaymentService.CancelPayment"
	_, txID, err := s.orderTransaction(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := s.gateway.CancelPayment(ctx, txID)
	s.log.Info("cancel requested", slog.String("op", op), slog.Int64("orderID", orderID), slog.Bool("success", res.Success))
	return &res, nil
}

func (s *paymentService) RefundPayment(ctx context.Context, orderID int64, amount *decimal.Decimal) (*tiptoppay.Result, error) {
	const op = "service.PaymentService.RefundPayment"
	order, txID, err := s.orderTransaction(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := s.gateway.RefundPayment(ctx, txID, amountOrTotal(amount, order))
	s.log.Info("refund requested", slog.String("op", op), slog.Int64("orderID", orderID), slog.Bool("success", res.Success))
	return &res, nil
}

func (s *paymentService) PaymentStatus(ctx context.Context, orderID int64) (*tiptoppay.Result, error) {
	const op = "service.PaymentService.PaymentStatus"
	_, txID, err := s.orderTransaction(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := s.gateway.CheckPaymentStatus(ctx, txID)
	return &res, nil
}

func (s *paymentService) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// orderTransaction возвращает заказ и id транзакции шлюза, без которого операции невозможны
func (s *paymentService) orderTransaction(ctx context.Context, orderID int64) (*models.Order, string, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if order.TransactionID == nil || *order.TransactionID == "" {
		return nil, "", apperr.Validation("order has no payment transaction")
	}
	return order, *order.TransactionID, nil
}

func amountOrTotal(amount *decimal.Decimal, order *models.Order) decimal.Decimal {
	if amount != nil && amount.IsPositive() {
		return *amount
	}
	return decimal.NewFromInt(order.TotalKZT)
}
