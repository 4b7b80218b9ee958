package security

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linemk/storefront/internal/domain/models"
)

// Claims полезная нагрузка токена витрины
type Claims struct {
	Role  string `json:"role"`
	Guest bool   `json:"guest"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var ErrNoSecret = errors.New("JWT_SECRET environment variable is not set")

// NewToken выпускает HS256-токен; гость получает флаг guest и не имеет email
func NewToken(ctx context.Context, user *models.User, ttl time.Duration) (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := Claims{
		Role:  user.Role,
		Guest: user.IsGuest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if user.Email != nil {
		claims.Email = *user.Email
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
