package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/storefront/internal/service"
)

type CreateOrderRequest struct {
	RecipientName    string  `json:"recipientName" validate:"required"`
	RecipientAddress string  `json:"recipientAddress" validate:"required"`
	Notes            *string `json:"notes,omitempty"`
}

type GuestOrderItemRequest struct {
	ProductID       int64  `json:"productId" validate:"required,gt=0"`
	Quantity        int    `json:"quantity" validate:"required,min=1,max=1000"`
	SelectedColorID *int64 `json:"selectedColorId,omitempty"`
	SelectedSizeID  *int64 `json:"selectedSizeId,omitempty"`
}

type GuestOrderRequest struct {
	RecipientName    string                  `json:"recipientName" validate:"required"`
	RecipientAddress string                  `json:"recipientAddress" validate:"required"`
	RecipientPhone   *string                 `json:"recipientPhone,omitempty"`
	RecipientEmail   *string                 `json:"recipientEmail,omitempty" validate:"omitempty,email"`
	Notes            *string                 `json:"notes,omitempty"`
	Items            []GuestOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
	Notes  *string            `json:"notes,omitempty"`
}

// OrderResponse ответ на создание и изменение заказа
type OrderResponse struct {
	Message     string               `json:"message"`
	Order       *models.Order        `json:"order"`
	PaymentData *service.PaymentData `json:"paymentData,omitempty"`
}

// CreateOrderHandler обрабатывает POST /api/order/create: заказ из корзины
func CreateOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		var req CreateOrderRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := orderService.CreateFromBasket(r.Context(), service.BasketOrderInput{
			UserID:           id,
			RecipientName:    req.RecipientName,
			RecipientAddress: req.RecipientAddress,
			Notes:            req.Notes,
		})
		if err != nil {
			writeError(w, logger, "failed to create order", err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, OrderResponse{
			Message:     "Order created successfully",
			Order:       res.Order,
			PaymentData: &res.PaymentData,
		})
	}
}

// GuestOrderHandler обрабатывает POST /api/order/guest; токен необязателен
func GuestOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GuestOrderHandler"
		logger := log.With(slog.String("op", op))

		var req GuestOrderRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		in := service.GuestOrderInput{
			RecipientName:    req.RecipientName,
			RecipientAddress: req.RecipientAddress,
			RecipientPhone:   req.RecipientPhone,
			RecipientEmail:   req.RecipientEmail,
			Notes:            req.Notes,
		}
		if id, ok := jwtmiddleware.FromContext(r.Context()); ok {
			in.UserID = &id
		}
		for _, item := range req.Items {
			in.Items = append(in.Items, service.GuestOrderItem{
				ProductID:       item.ProductID,
				Quantity:        item.Quantity,
				SelectedColorID: item.SelectedColorID,
				SelectedSizeID:  item.SelectedSizeID,
			})
		}

		res, err := orderService.CreateGuestOrder(r.Context(), in)
		if err != nil {
			writeError(w, logger, "failed to create guest order", err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, OrderResponse{
			Message:     "Order created successfully",
			Order:       res.Order,
			PaymentData: &res.PaymentData,
		})
	}
}

func listParams(r *http.Request) (service.ListParams, error) {
	params := service.ListParams{
		Page:  queryInt(r, "page"),
		Limit: queryInt(r, "limit"),
	}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := models.OrderStatus(v)
		params.Status = &status
	}
	if v := q.Get("paymentMethod"); v != "" {
		method := models.PaymentMethod(v)
		params.PaymentMethod = &method
	}
	if v := q.Get("userId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			params.UserID = &id
		}
	}
	var err error
	if params.From, err = queryDate(r, "startDate"); err != nil {
		return params, err
	}
	if params.To, err = queryDate(r, "endDate"); err != nil {
		return params, err
	}
	return params, nil
}

// MyOrdersHandler обрабатывает GET /api/order/my-orders
func MyOrdersHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.MyOrdersHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		params, err := listParams(r)
		if err != nil {
			writeError(w, logger, "invalid query", err)
			return
		}
		page, err := manageService.GetUserOrders(r.Context(), id, params)
		if err != nil {
			writeError(w, logger, "failed to list orders", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, page)
	}
}

// MyOrderHandler обрабатывает GET /api/order/my-orders/{orderId}
func MyOrderHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.MyOrderHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		order, err := manageService.GetUserOrder(r.Context(), id, orderID)
		if err != nil {
			writeError(w, logger, "failed to get order", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// CancelOrderHandler обрабатывает PATCH /api/order/my-orders/{orderId}/cancel
func CancelOrderHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.CancelOrderHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		order, err := manageService.CancelOrder(r.Context(), id, orderID)
		if err != nil {
			writeError(w, logger, "failed to cancel order", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Message: "Order cancelled successfully", Order: order})
	}
}

// ListOrdersHandler обрабатывает GET /api/order (админ)
func ListOrdersHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.ListOrdersHandler"))

		params, err := listParams(r)
		if err != nil {
			writeError(w, logger, "invalid query", err)
			return
		}
		page, err := manageService.ListOrders(r.Context(), params)
		if err != nil {
			writeError(w, logger, "failed to list orders", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, page)
	}
}

// GetOrderHandler обрабатывает GET /api/order/{orderId} (админ)
func GetOrderHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.GetOrderHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		order, err := manageService.GetOrder(r.Context(), orderID)
		if err != nil {
			writeError(w, logger, "failed to get order", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// UpdateStatusHandler обрабатывает PATCH /api/order/{orderId}/status (админ)
func UpdateStatusHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.UpdateStatusHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		order, err := manageService.UpdateStatus(r.Context(), orderID, req.Status, req.Notes)
		if err != nil {
			writeError(w, logger, "failed to update order status", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, OrderResponse{Message: "Order status updated", Order: order})
	}
}

// StatsHandler обрабатывает GET /api/order/stats/overview (админ)
func StatsHandler(log *slog.Logger, manageService service.OrderManageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.StatsHandler"))

		from, err := queryDate(r, "startDate")
		if err != nil {
			writeError(w, logger, "invalid query", err)
			return
		}
		to, err := queryDate(r, "endDate")
		if err != nil {
			writeError(w, logger, "invalid query", err)
			return
		}
		stats, err := manageService.Stats(r.Context(), from, to)
		if err != nil {
			writeError(w, logger, "failed to get stats", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, stats)
	}
}
