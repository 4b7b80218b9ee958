package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/linemk/storefront/internal/domain/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type UserStorage interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByGuestSession(ctx context.Context, sessionID string) (*models.User, error)
	CreateGuest(ctx context.Context, sessionID string) (*models.User, error)
	// DeleteStaleGuests удаляет гостей старше cutoff без заказов и корзины, возвращает число удалённых.
	DeleteStaleGuests(ctx context.Context, cutoff time.Time) (int64, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: db}
}

const userColumns = "id, email, pass_hash, role, is_guest, guest_session_id, created_at"

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	if err := row.Scan(&user.ID, &user.Email, &user.PassHash, &user.Role, &user.IsGuest, &user.GuestSessionID, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// получение уже существующего пользователя
func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO users (email, pass_hash, role, is_guest, created_at) VALUES ($1, $2, $3, FALSE, NOW()) RETURNING id, created_at",
		user.Email, user.PassHash, user.Role,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID используется при обновлении токена и проверке владельца.
func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *userRepository) GetUserByGuestSession(ctx context.Context, sessionID string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE guest_session_id = $1", sessionID))
}

func (r *userRepository) CreateGuest(ctx context.Context, sessionID string) (*models.User, error) {
	user := &models.User{
		Role:           models.RoleUser,
		IsGuest:        true,
		GuestSessionID: &sessionID,
	}
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO users (role, is_guest, guest_session_id, created_at) VALUES ($1, TRUE, $2, NOW()) RETURNING id, created_at",
		user.Role, sessionID,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest: %w", err)
	}
	return user, nil
}

func (r *userRepository) DeleteStaleGuests(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM users u
	          WHERE u.is_guest = TRUE
	            AND u.created_at < $1
	            AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.user_id = u.id)
	            AND NOT EXISTS (SELECT 1 FROM basket_items b WHERE b.user_id = u.id)`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale guests: %w", err)
	}
	return res.RowsAffected()
}
