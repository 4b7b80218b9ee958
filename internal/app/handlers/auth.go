package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/linemk/storefront/internal/service"
)

// AuthRequest представляет структуру запроса для регистрации и входа с тегами валидации
type AuthRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// AuthResponse представляет структуру ответа с JWT-токеном
type AuthResponse struct {
	Token string `json:"token"`
}

var validate = validator.New()

// RegistrationHandler обрабатывает POST /api/user/registration
func RegistrationHandler(log *slog.Logger, authService service.AuthServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RegistrationHandler"
		logger := log.With(slog.String("op", op))

		var req AuthRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		token, err := authService.Register(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, logger, "registration failed", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, AuthResponse{Token: token})
	}
}

// LoginHandler – HTTP-обработчик для аутентификации, принимает логгер и экземпляр AuthService
func LoginHandler(log *slog.Logger, authService service.AuthServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.LoginHandler"
		logger := log.With(slog.String("op", op))

		var req AuthRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Вызов бизнес-логики для аутентификации
		token, err := authService.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				logger.Warn("login failed", slog.String("error", err.Error()))
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			writeError(w, logger, "login failed", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, AuthResponse{Token: token})
	}
}

// GuestHandler обрабатывает POST /api/user/guest
func GuestHandler(log *slog.Logger, authService service.AuthServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.GuestHandler"))

		token, err := authService.Guest(r.Context())
		if err != nil {
			writeError(w, logger, "guest session failed", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, AuthResponse{Token: token})
	}
}

// RefreshHandler обрабатывает GET /api/user/auth: перевыпускает токен текущего пользователя
func RefreshHandler(log *slog.Logger, authService service.AuthServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.RefreshHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		token, err := authService.Refresh(r.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			writeError(w, logger, "refresh failed", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, AuthResponse{Token: token})
	}
}
