package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/linemk/storefront/internal/payment/tiptoppay"
	"github.com/linemk/storefront/internal/service"
)

type PayRequest struct {
	Cryptogram string `json:"cryptogram" validate:"required"`
	Name       string `json:"name,omitempty"`
}

// AmountRequest сумма в тенге; без суммы операция выполняется на всю сумму заказа
type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// writeGatewayResult отказ шлюза отдаётся клиенту как 502 вместе с деталями
func writeGatewayResult(w http.ResponseWriter, logger *slog.Logger, res *tiptoppay.Result) {
	status := http.StatusOK
	if !res.Success {
		logger.Warn("gateway rejected operation", slog.String("error", res.Error))
		status = http.StatusBadGateway
	}
	writeJSON(w, logger, status, res)
}

// PayOrderHandler обрабатывает POST /api/order/my-orders/{orderId}/pay
func PayOrderHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.PayOrderHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		var req PayRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := paymentService.ChargeOrder(r.Context(), id, orderID, req.Cryptogram, req.Name)
		if err != nil {
			writeError(w, logger, "failed to charge order", err)
			return
		}
		writeGatewayResult(w, logger, res)
	}
}

// decodeAmount пустое тело допустимо
func decodeAmount(r *http.Request) (*decimal.Decimal, error) {
	var req AmountRequest
	if err := decode(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, err
	}
	return req.Amount, nil
}

// ConfirmPaymentHandler обрабатывает POST /api/order/{orderId}/payment/confirm (админ)
func ConfirmPaymentHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.ConfirmPaymentHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		amount, err := decodeAmount(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := paymentService.ConfirmPayment(r.Context(), orderID, amount)
		if err != nil {
			writeError(w, logger, "failed to confirm payment", err)
			return
		}
		writeGatewayResult(w, logger, res)
	}
}

// RefundPaymentHandler обрабатывает POST /api/order/{orderId}/payment/refund (админ)
func RefundPaymentHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.RefundPaymentHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		amount, err := decodeAmount(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := paymentService.RefundPayment(r.Context(), orderID, amount)
		if err != nil {
			writeError(w, logger, "failed to refund payment", err)
			return
		}
		writeGatewayResult(w, logger, res)
	}
}

// CancelPaymentHandler обрабатывает POST /api/order/{orderId}/payment/cancel (админ)
func CancelPaymentHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.CancelPaymentHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		res, err := paymentService.CancelPayment(r.Context(), orderID)
		if err != nil {
			writeError(w, logger, "failed to cancel payment", err)
			return
		}
		writeGatewayResult(w, logger, res)
	}
}

// PaymentStatusHandler обрабатывает GET /api/order/{orderId}/payment/status (админ)
func PaymentStatusHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.PaymentStatusHandler"))

		orderID, ok := pathID(w, r, logger, "orderId")
		if !ok {
			return
		}
		res, err := paymentService.PaymentStatus(r.Context(), orderID)
		if err != nil {
			writeError(w, logger, "failed to get payment status", err)
			return
		}
		writeGatewayResult(w, logger, res)
	}
}

const maxNotificationSize = 1 << 20

// WebhookResponse ответ шлюзу; HTTP-статус всегда 200, решение передаётся кодом
type WebhookResponse struct {
	Code int `json:"code"`
}

// WebhookHandler обрабатывает POST /api/order/webhook/tiptoppay.
// Любая ошибка, включая панику, превращается в код отказа.
func WebhookHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.WebhookHandler"
		logger := log.With(slog.String("op", op))

		code := service.CodeRejected
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("webhook processing panicked", slog.Any("panic", rec))
				code = service.CodeRejected
			}
			writeJSON(w, logger, http.StatusOK, WebhookResponse{Code: code})
		}()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationSize))
		if err != nil {
			logger.Warn("failed to read notification body", slog.Any("error", err))
			return
		}
		n, err := tiptoppay.ParseNotification(r.Header.Get("Content-Type"), body)
		if err != nil {
			logger.Warn("failed to parse notification", slog.String("error", err.Error()))
			return
		}

		signature := r.Header.Get("X-Content-HMAC")
		if signature == "" {
			signature = r.Header.Get("Content-HMAC")
		}
		code = paymentService.HandleNotification(r.Context(), n, signature)
	}
}
