package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/linemk/storefront/internal/lib/logger/handlers/slogpretty"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// ServiceName проставляется каждой записи, чтобы логи витрины отличались в общем сборщике
const ServiceName = "storefront"

// SetupLogger логгер в stdout по окружению
func SetupLogger(env string) *slog.Logger {
	return New(env, os.Stdout)
}

// New собирает логгер: local пишет цветной текст, dev и prod пишут JSON.
// Неизвестное окружение трактуется как prod.
func New(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	switch env {
	case EnvLocal:
		color.NoColor = false
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
		}
		handler = opts.NewPrettyHandler(w)
	case EnvDev:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("env", env),
	)
}
