package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/lib/events"
	"github.com/linemk/storefront/internal/storage"
)

const (
	defaultUserPageSize  = 10
	defaultAdminPageSize = 20
	maxPageSize          = 100
)

// OrderPage страница списка заказов
type OrderPage struct {
	Orders      []*models.Order `json:"orders"`
	TotalCount  int             `json:"totalCount"`
	CurrentPage int             `json:"currentPage"`
	TotalPages  int             `json:"totalPages"`
}

// ListParams параметры выборки; Page и Limit без значения заменяются значениями по умолчанию
type ListParams struct {
	Page          int
	Limit         int
	Status        *models.OrderStatus
	UserID        *int64
	PaymentMethod *models.PaymentMethod
	From          *time.Time
	To            *time.Time
}

type OrderManageService interface {
	GetUserOrders(ctx context.Context, userID int64, params ListParams) (*OrderPage, error)
	GetUserOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)

	ListOrders(ctx context.Context, params ListParams) (*OrderPage, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, notes *string) (*models.Order, error)
	Stats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error)
}

type orderManageService struct {
	log       *slog.Logger
	db        *sql.DB
	orderRepo storage.OrderStorage
	publisher events.Publisher
}

func NewOrderManageService(log *slog.Logger, db *sql.DB, orderRepo storage.OrderStorage, publisher events.Publisher) OrderManageService {
	return &orderManageService{
		log:       log,
		db:        db,
		orderRepo: orderRepo,
		publisher: publisher,
	}
}

func (s *orderManageService) GetUserOrders(ctx context.Context, userID int64, params ListParams) (*OrderPage, error) {
	params.UserID = &userID
	params.PaymentMethod = nil
	params.From, params.To = nil, nil
	return s.list(ctx, "service.OrderManageService.GetUserOrders", params, defaultUserPageSize)
}

func (s *orderManageService) ListOrders(ctx context.Context, params ListParams) (*OrderPage, error) {
	return s.list(ctx, "service.OrderManageService.ListOrders", params, defaultAdminPageSize)
}

func (s *orderManageService) list(ctx context.Context, op string, params ListParams, defaultLimit int) (*OrderPage, error) {
	logger := s.log.With(slog.String("op", op))

	if params.Status != nil && !params.Status.Valid() {
		return nil, apperr.Validation("invalid status")
	}
	page, limit := params.Page, params.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	orders, total, err := s.orderRepo.ListOrders(ctx, models.OrderFilter{
		UserID:        params.UserID,
		Status:        params.Status,
		PaymentMethod: params.PaymentMethod,
		From:          params.From,
		To:            params.To,
		Limit:         limit,
		Offset:        (page - 1) * limit,
	})
	if err != nil {
		logger.Error("failed to list orders", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list orders: %w", op, err)
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	return &OrderPage{
		Orders:      orders,
		TotalCount:  total,
		CurrentPage: page,
		TotalPages:  (total + limit - 1) / limit,
	}, nil
}

// GetUserOrder чужие заказы не отличаются от несуществующих
func (s *orderManageService) GetUserOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	const op = "service.OrderManageService.GetUserOrder"

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ownedBy(order, userID) {
		return nil, apperr.NotFound("order not found")
	}
	return order, nil
}

func (s *orderManageService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	const op = "service.OrderManageService.GetOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}
	return order, nil
}

func ownedBy(order *models.Order, userID int64) bool {
	return order.UserID != nil && *order.UserID == userID
}

// CancelOrder отменяет заказ владельца, пока он в статусе CREATED. Статус оплаты не меняется.
func (s *orderManageService) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	const op = "service.OrderManageService.CancelOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("orderID", orderID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		rollback(tx, logger)
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}
	if !ownedBy(order, userID) {
		rollback(tx, logger)
		return nil, apperr.NotFound("order not found")
	}
	if order.Status != models.OrderStatusCreated {
		rollback(tx, logger)
		logger.Warn("order cannot be cancelled", slog.String("status", string(order.Status)))
		return nil, apperr.Validation("only orders with CREATED status can be cancelled")
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, tx, orderID, models.OrderStatusCancelled, nil); err != nil {
		rollback(tx, logger)
		logger.Error("failed to cancel order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to cancel order: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	order.Status = models.OrderStatusCancelled
	logger.Info("order cancelled by owner")
	publish(ctx, logger, s.publisher, events.NewOrderEvent(events.TypeOrderStatusChanged, order))
	return order, nil
}

// UpdateStatus меняет статус заказа администратором; статус оплаты не трогается
func (s *orderManageService) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, notes *string) (*models.Order, error) {
	const op = "service.OrderManageService.UpdateStatus"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.String("status", string(status)))

	if status == "" {
		return nil, apperr.Validation("status is required")
	}
	if !status.Valid() {
		return nil, apperr.Validation("invalid status")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		rollback(tx, logger)
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, tx, orderID, status, notes); err != nil {
		rollback(tx, logger)
		logger.Error("failed to update status", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	order.Status = status
	if notes != nil {
		order.Notes = notes
	}
	logger.Info("order status updated")
	publish(ctx, logger, s.publisher, events.NewOrderEvent(events.TypeOrderStatusChanged, order))
	return order, nil
}

func (s *orderManageService) Stats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error) {
	const op = "service.OrderManageService.Stats"

	if from != nil && to != nil && from.After(*to) {
		return nil, apperr.Validation("startDate must not be after endDate")
	}
	stats, err := s.orderRepo.GetStats(ctx, from, to)
	if err != nil {
		s.log.Error("failed to get stats", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get stats: %w", op, err)
	}
	return stats, nil
}
