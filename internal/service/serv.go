package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/linemk/storefront/internal/domain/models"
	security "github.com/linemk/storefront/internal/jwt-new"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/storage"
)

// ErrInvalidCredentials неверный email/пароль или пользователь из токена больше не существует
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLen = 6

type AuthService struct {
	log      *slog.Logger
	userRepo storage.UserStorage
	tokenTTL time.Duration
}

func NewAuthService(log *slog.Logger, userRepo storage.UserStorage, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		log:      log,
		userRepo: userRepo,
		tokenTTL: tokenTTL,
	}
}

type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Guest(ctx context.Context) (string, error)
	Refresh(ctx context.Context, userID int64) (string, error)
}

var _ AuthServiceInterface = (*AuthService)(nil)

// Register создаёт пользователя с ролью USER.
// Пароль хэшируется через bcrypt, который автоматически добавляет соль.
func (a *AuthService) Register(ctx context.Context, email, password string) (string, error) {
	const op = "auth.Register"
	email = strings.ToLower(strings.TrimSpace(email))
	logger := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)

	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.Validation("invalid email")
	}
	if len(password) < minPasswordLen {
		return "", apperr.Validation("password must be at least %d characters", minPasswordLen)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("failed to hash password", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to hash password: %w", op, err)
	}

	user, err := a.userRepo.CreateUser(ctx, &models.User{
		Email:    &email,
		PassHash: passHash,
		Role:     models.RoleUser,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			logger.Warn("user already exists")
			return "", apperr.Validation("user with this email already exists")
		}
		logger.Error("failed to create user", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to create user: %w", op, err)
	}

	logger.Info("user registered", slog.Int64("userID", user.ID))
	return a.issue(ctx, logger, op, user)
}

// Login сравнивает введённый пароль с сохранённым хэшем и выдаёт JWT-токен.
func (a *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	const op = "auth.Login"
	email = strings.ToLower(strings.TrimSpace(email))
	logger := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)
	logger.Info("checking user")

	user, err := a.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			logger.Warn("user not found")
			return "", ErrInvalidCredentials
		}
		logger.Error("failed to get user", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to get user: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		logger.Warn("invalid password")
		return "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	logger.Info("user logged in successfully", slog.Int64("userID", user.ID))
	return a.issue(ctx, logger, op, user)
}

// Guest создаёт гостевого пользователя с новой сессией
func (a *AuthService) Guest(ctx context.Context) (string, error) {
	const op = "auth.Guest"
	logger := a.log.With(slog.String("op", op))

	user, err := a.userRepo.CreateGuest(ctx, uuid.NewString())
	if err != nil {
		logger.Error("failed to create guest", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to create guest: %w", op, err)
	}

	logger.Info("guest session started", slog.Int64("userID", user.ID))
	return a.issue(ctx, logger, op, user)
}

// Refresh перевыпускает токен для пользователя из действующего токена
func (a *AuthService) Refresh(ctx context.Context, userID int64) (string, error) {
	const op = "auth.Refresh"
	logger := a.log.With(slog.String("op", op), slog.Int64("userID", userID))

	user, err := a.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			logger.Warn("user from token not found")
			return "", ErrInvalidCredentials
		}
		logger.Error("failed to get user", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to get user: %w", op, err)
	}
	return a.issue(ctx, logger, op, user)
}

func (a *AuthService) issue(ctx context.Context, logger *slog.Logger, op string, user *models.User) (string, error) {
	// секрет для подписи берётся из переменной окружения JWT_SECRET
	token, err := security.NewToken(ctx, user, a.tokenTTL)
	if err != nil {
		logger.Error("failed to generate token", slog.Any("error", err))
		return "", fmt.Errorf("%s: failed to generate token: %w", op, err)
	}
	return token, nil
}
