package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linemk/storefront/internal/app/handlers"
	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/storefront/internal/lib/idempotency"
	"github.com/linemk/storefront/internal/lib/logger/handlers/urllog"
	"github.com/linemk/storefront/internal/lib/metrics"
	"github.com/linemk/storefront/internal/service"
)

// Services бизнес-логика, которую обслуживает роутер
type Services struct {
	Auth    service.AuthServiceInterface
	Basket  service.BasketService
	Order   service.OrderService
	Manage  service.OrderManageService
	Payment service.PaymentService
}

// RouterOptions необязательные части роутера
type RouterOptions struct {
	// Idempotency nil отключает повтор ответов по Idempotency-Key
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Gatherer       prometheus.Gatherer
	// Health проверка зависимостей для /health
	Health func(ctx context.Context) error
}

// NewRouter собирает все маршруты сервиса
func NewRouter(log *slog.Logger, svc Services, opts RouterOptions) http.Handler {
	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log, "/health", "/metrics"))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	if opts.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}
	router.Get("/health", healthHandler(log, opts.Health))

	idem := func(next http.Handler) http.Handler { return next }
	if opts.Idempotency != nil {
		idem = idempotency.Middleware(log, opts.Idempotency, opts.IdempotencyTTL, callerScope)
	}

	router.Route("/api", func(api chi.Router) {
		// эндпоинты авторизации
		api.Post("/user/registration", handlers.RegistrationHandler(log, svc.Auth))
		api.Post("/user/login", handlers.LoginHandler(log, svc.Auth))
		api.Post("/user/guest", handlers.GuestHandler(log, svc.Auth))

		// уведомления шлюза приходят без токена
		api.Post("/order/webhook/tiptoppay", handlers.WebhookHandler(log, svc.Payment))

		api.Group(func(r chi.Router) {
			r.Use(jwtmiddleware.NewOptionalJWTMiddleware())
			r.With(idem).Post("/order/guest", handlers.GuestOrderHandler(log, svc.Order))
		})

		api.Group(func(r chi.Router) {
			r.Use(jwtmiddleware.NewJWTMiddleware())

			r.Get("/user/auth", handlers.RefreshHandler(log, svc.Auth))

			r.Get("/basket", handlers.GetBasketHandler(log, svc.Basket))
			r.Delete("/basket", handlers.ClearBasketHandler(log, svc.Basket))
			r.Post("/basket/items", handlers.AddBasketItemHandler(log, svc.Basket))
			r.Patch("/basket/items/{itemId}", handlers.UpdateBasketItemHandler(log, svc.Basket))
			r.Delete("/basket/items/{itemId}", handlers.DeleteBasketItemHandler(log, svc.Basket))

			r.With(idem).Post("/order/create", handlers.CreateOrderHandler(log, svc.Order))
			r.Get("/order/my-orders", handlers.MyOrdersHandler(log, svc.Manage))
			r.Get("/order/my-orders/{orderId}", handlers.MyOrderHandler(log, svc.Manage))
			r.Patch("/order/my-orders/{orderId}/cancel", handlers.CancelOrderHandler(log, svc.Manage))
			r.Post("/order/my-orders/{orderId}/pay", handlers.PayOrderHandler(log, svc.Payment))

			// админские эндпоинты
			r.Group(func(admin chi.Router) {
				admin.Use(jwtmiddleware.RequireRole(models.RoleAdmin))

				admin.Get("/order", handlers.ListOrdersHandler(log, svc.Manage))
				admin.Get("/order/stats/overview", handlers.StatsHandler(log, svc.Manage))
				admin.Get("/order/{orderId}", handlers.GetOrderHandler(log, svc.Manage))
				admin.Patch("/order/{orderId}/status", handlers.UpdateStatusHandler(log, svc.Manage))
				admin.Post("/order/{orderId}/payment/confirm", handlers.ConfirmPaymentHandler(log, svc.Payment))
				admin.Post("/order/{orderId}/payment/cancel", handlers.CancelPaymentHandler(log, svc.Payment))
				admin.Post("/order/{orderId}/payment/refund", handlers.RefundPaymentHandler(log, svc.Payment))
				admin.Get("/order/{orderId}/payment/status", handlers.PaymentStatusHandler(log, svc.Payment))
			})
		})
	})

	return router
}

// callerScope разделяет ключи идемпотентности разных пользователей
func callerScope(r *http.Request) string {
	if id, ok := jwtmiddleware.FromContext(r.Context()); ok {
		return strconv.FormatInt(id, 10)
	}
	return "anonymous"
}

func healthHandler(log *slog.Logger, check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if check != nil {
			if err := check(r.Context()); err != nil {
				log.Error("health check failed", slog.Any("error", err))
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
