package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/storefront/internal/storage"
)

// GuestCleaner удаляет старых гостей без заказов и без корзины
type GuestCleaner struct {
	log      *slog.Logger
	userRepo storage.UserStorage
	recorder Recorder
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewGuestCleaner(log *slog.Logger, userRepo storage.UserStorage, recorder Recorder, interval, maxAge time.Duration) *GuestCleaner {
	return &GuestCleaner{
		log:      log,
		userRepo: userRepo,
		recorder: recorder,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Cleanup выполняет один проход и возвращает число удалённых гостей
func (c *GuestCleaner) Cleanup(ctx context.Context) (int64, error) {
	const op = "service.GuestCleaner.Cleanup"

	cutoff := c.now().Add(-c.maxAge)
	deleted, err := c.userRepo.DeleteStaleGuests(ctx, cutoff)
	if err != nil {
		c.log.Error("guest cleanup failed", slog.String("op", op), slog.Any("error", err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	c.recorder.GuestsRemoved(deleted)
	c.log.Info("guest cleanup finished", slog.String("op", op), slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	return deleted, nil
}

// Run запускает очистку сразу и затем по таймеру, пока не отменён ctx.
// Неположительный интервал выключает очистку.
func (c *GuestCleaner) Run(ctx context.Context) {
	if c.interval <= 0 || c.maxAge <= 0 {
		c.log.Warn("guest cleanup disabled",
			slog.Duration("interval", c.interval),
			slog.Duration("max_age", c.maxAge),
		)
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	_, _ = c.Cleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("guest cleanup stopped")
			return
		case <-ticker.C:
			_, _ = c.Cleanup(ctx)
		}
	}
}
