package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/linemk/storefront/internal/app"
	"github.com/linemk/storefront/internal/config"
	"github.com/linemk/storefront/internal/lib/idempotency"
	"github.com/linemk/storefront/internal/lib/logger"
	"github.com/linemk/storefront/internal/payment/tiptoppay"
	"github.com/linemk/storefront/internal/service"
	"github.com/linemk/storefront/internal/storage"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения с конфигом и подключениями к БД, Redis и Kafka
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	basketRepo := storage.NewBasketRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)

	gateway := tiptoppay.New(log, tiptoppay.Config{
		PublicID: cfg.TipTopPay.PublicID,
		APIKey:   cfg.TipTopPay.APIKey,
		APIURL:   cfg.TipTopPay.APIURL,
		Timeout:  cfg.TipTopPay.Timeout,
	}, tiptoppay.WithObserver(application.Metrics))

	services := app.Services{
		Auth:   service.NewAuthService(log, userRepo, time.Duration(cfg.JWT.TokenTTL)*time.Minute),
		Basket: service.NewBasketService(log, basketRepo, productRepo),
		Order: service.NewOrderService(log, application.DB, orderRepo, basketRepo, productRepo,
			application.Publisher, application.Metrics, gateway.PublicID()),
		Manage: service.NewOrderManageService(log, application.DB, orderRepo, application.Publisher),
		Payment: service.NewPaymentService(log, application.DB, orderRepo, gateway, application.Publisher, application.Metrics,
			service.PaymentOptions{APIKey: gateway.APIKey(), EnforceSignature: cfg.TipTopPay.EnforceSignature}),
	}

	opts := app.RouterOptions{
		Gatherer: application.Registry,
		Health:   application.DB.PingContext,
	}
	if application.Redis != nil {
		opts.Idempotency = idempotency.NewRedisStore(application.Redis)
		opts.IdempotencyTTL = cfg.Redis.IdempotencyTTL
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      app.NewRouter(log, services, opts),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	// фоновая очистка гостевых пользователей
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	cleaner := service.NewGuestCleaner(log, userRepo, application.Metrics, cfg.GuestCleanup.Interval, cfg.GuestCleanup.MaxAge)
	go cleaner.Run(bgCtx)

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	stopBackground()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}
