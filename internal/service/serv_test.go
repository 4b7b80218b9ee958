package service_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/lib/events"
	"github.com/linemk/storefront/internal/lib/metrics"
	"github.com/linemk/storefront/internal/service"
	"github.com/linemk/storefront/internal/storage"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newRecorder() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func ptr[T any](v T) *T { return &v }

type fakeUserRepo struct {
	users map[int64]*models.User
	// deletedBefore последний cutoff, переданный в DeleteStaleGuests
	deletedBefore time.Time
}

var _ storage.UserStorage = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User)}
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email != nil && *u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if _, err := f.GetUserByEmail(ctx, *user.Email); err == nil {
		return nil, storage.ErrUserExists
	}
	user.ID = int64(len(f.users) + 1)
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserRepo) GetUserByGuestSession(ctx context.Context, sessionID string) (*models.User, error) {
	for _, u := range f.users {
		if u.GuestSessionID != nil && *u.GuestSessionID == sessionID {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeUserRepo) CreateGuest(ctx context.Context, sessionID string) (*models.User, error) {
	user := &models.User{
		ID:             int64(len(f.users) + 1),
		Role:           models.RoleUser,
		IsGuest:        true,
		GuestSessionID: &sessionID,
		CreatedAt:      time.Now(),
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) DeleteStaleGuests(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deletedBefore = cutoff
	var n int64
	for id, u := range f.users {
		if u.IsGuest && u.CreatedAt.Before(cutoff) {
			delete(f.users, id)
			n++
		}
	}
	return n, nil
}

type fakeProductRepo struct {
	products map[int64]*models.Product
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo(products ...*models.Product) *fakeProductRepo {
	f := &fakeProductRepo{products: make(map[int64]*models.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProductRepo) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	return f.GetProductByID(ctx, id)
}

func (f *fakeProductRepo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeBasketRepo struct {
	items    map[int64][]*models.BasketItem // ключ: userID
	products *fakeProductRepo
	nextID   int64
}

var _ storage.BasketStorage = (*fakeBasketRepo)(nil)

func newFakeBasketRepo(products *fakeProductRepo) *fakeBasketRepo {
	return &fakeBasketRepo{items: make(map[int64][]*models.BasketItem), products: products}
}

func (f *fakeBasketRepo) GetBasketItemsTx(ctx context.Context, tx *sql.Tx, userID int64) ([]*models.BasketItem, error) {
	return f.GetBasketItems(ctx, userID)
}

func (f *fakeBasketRepo) GetBasketItems(ctx context.Context, userID int64) ([]*models.BasketItem, error) {
	var out []*models.BasketItem
	for _, item := range f.items[userID] {
		cp := *item
		if p, err := f.products.GetProductByID(ctx, item.ProductID); err == nil {
			cp.Product = p
		} else {
			cp.Product = nil
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeBasketRepo) ClearBasketTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	delete(f.items, userID)
	return nil
}

func sameOptional(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeBasketRepo) AddItem(ctx context.Context, item *models.BasketItem) (*models.BasketItem, error) {
	for _, existing := range f.items[item.UserID] {
		if existing.ProductID == item.ProductID &&
			sameOptional(existing.SelectedColorID, item.SelectedColorID) &&
			sameOptional(existing.SelectedSizeID, item.SelectedSizeID) {
			existing.Quantity += item.Quantity
			cp := *existing
			return &cp, nil
		}
	}
	f.nextID++
	item.ID = f.nextID
	stored := *item
	f.items[item.UserID] = append(f.items[item.UserID], &stored)
	return item, nil
}

func (f *fakeBasketRepo) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	for _, item := range f.items[userID] {
		if item.ID == itemID {
			item.Quantity = quantity
			return nil
		}
	}
	return storage.ErrBasketItemNotFound
}

func (f *fakeBasketRepo) DeleteItem(ctx context.Context, userID, itemID int64) error {
	items := f.items[userID]
	for i, item := range items {
		if item.ID == itemID {
			f.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return storage.ErrBasketItemNotFound
}

func (f *fakeBasketRepo) ClearBasket(ctx context.Context, userID int64) (int64, error) {
	n := int64(len(f.items[userID]))
	delete(f.items, userID)
	return n, nil
}

// fakeOrderRepo хранит копии, как это делает база: изменения видны только после Update*
type fakeOrderRepo struct {
	orders map[int64]*models.Order
	nextID int64
	// failCreateItem имитирует сбой вставки строки заказа
	failCreateItem bool
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order)}
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = nil
	for _, item := range o.Items {
		it := *item
		cp.Items = append(cp.Items, &it)
	}
	if o.PaymentStatus != nil {
		cp.PaymentStatus = ptr(*o.PaymentStatus)
	}
	return &cp
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := copyOrder(order)
	stored.Items = nil
	f.orders[order.ID] = stored
	return nil
}

func (f *fakeOrderRepo) CreateOrderItem(ctx context.Context, tx *sql.Tx, item *models.OrderItem) error {
	if f.failCreateItem {
		return errors.New("insert failed")
	}
	o, ok := f.orders[item.OrderID]
	if !ok {
		return storage.ErrOrderNotFound
	}
	item.ID = int64(len(o.Items) + 1)
	it := *item
	o.Items = append(o.Items, &it)
	return nil
}

func (f *fakeOrderRepo) GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, notes *string) error {
	o, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	o.Status = status
	if notes != nil {
		o.Notes = notes
	}
	return nil
}

func (f *fakeOrderRepo) UpdatePaymentState(ctx context.Context, tx *sql.Tx, id int64, paymentStatus models.PaymentStatus, status *models.OrderStatus, transactionID *string) error {
	o, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	o.PaymentStatus = ptr(paymentStatus)
	if status != nil {
		o.Status = *status
	}
	if transactionID != nil {
		o.TransactionID = transactionID
	}
	return nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (f *fakeOrderRepo) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, int, error) {
	var matched []*models.Order
	for _, o := range f.orders {
		if filter.UserID != nil && (o.UserID == nil || *o.UserID != *filter.UserID) {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Order{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (f *fakeOrderRepo) GetStats(ctx context.Context, from, to *time.Time) (*models.OrderStats, error) {
	stats := &models.OrderStats{OrdersByStatus: map[string]int64{}, OrdersByPayment: map[string]int64{}}
	for _, o := range f.orders {
		stats.TotalOrders++
		stats.TotalRevenueKZT += o.TotalKZT
		stats.TotalRevenueUSD += o.TotalUSD
		stats.OrdersByStatus[string(o.Status)]++
		stats.OrdersByPayment[string(o.PaymentMethod)]++
	}
	return stats, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Publisher = (*fakePublisher)(nil)

func (p *fakePublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func TestAuthService_Register_And_Login(t *testing.T) {
	os.Setenv("JWT_SECRET", "testsecret")
	defer os.Unsetenv("JWT_SECRET")

	fakeRepo := newFakeUserRepo()
	authSvc := service.NewAuthService(newLogger(), fakeRepo, 60*time.Minute)
	ctx := context.Background()

	email := "NewUser@example.com"
	password := "password123"

	token, err := authSvc.Register(ctx, email, password)
	assert.NoError(t, err, "Register should succeed for a new user")
	assert.NotEmpty(t, token, "Token should not be empty")

	user, err := fakeRepo.GetUserByEmail(ctx, "newuser@example.com")
	assert.NoError(t, err, "User should exist after registration")
	assert.Equal(t, models.RoleUser, user.Role)
	// Проверяем, что пароль хэширован (не равен исходному паролю)
	assert.NotEqual(t, password, string(user.PassHash), "Password should be hashed")

	token, err = authSvc.Login(ctx, email, password)
	assert.NoError(t, err, "Login should succeed with correct password")
	assert.NotEmpty(t, token)
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	os.Setenv("JWT_SECRET", "testsecret")
	defer os.Unsetenv("JWT_SECRET")

	authSvc := service.NewAuthService(newLogger(), newFakeUserRepo(), time.Hour)
	ctx := context.Background()

	_, err := authSvc.Register(ctx, "dup@example.com", "password123")
	assert.NoError(t, err)

	_, err = authSvc.Register(ctx, "dup@example.com", "password123")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAuthService_Register_Validation(t *testing.T) {
	authSvc := service.NewAuthService(newLogger(), newFakeUserRepo(), time.Hour)

	_, err := authSvc.Register(context.Background(), "not-an-email", "password123")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = authSvc.Register(context.Background(), "short@example.com", "123")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	os.Setenv("JWT_SECRET", "testsecret")
	defer os.Unsetenv("JWT_SECRET")

	fakeRepo := newFakeUserRepo()
	authSvc := service.NewAuthService(newLogger(), fakeRepo, 60*time.Minute)
	ctx := context.Background()

	email := "existing@example.com"
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	assert.NoError(t, err)
	_, err = fakeRepo.CreateUser(ctx, &models.User{Email: &email, PassHash: hashed, Role: models.RoleUser})
	assert.NoError(t, err)

	token, err := authSvc.Login(ctx, email, "wrongpassword")
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	assert.Empty(t, token, "Token should be empty on failed login")

	_, err = authSvc.Login(ctx, "missing@example.com", "password123")
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestAuthService_Guest_And_Refresh(t *testing.T) {
	os.Setenv("JWT_SECRET", "testsecret")
	defer os.Unsetenv("JWT_SECRET")

	fakeRepo := newFakeUserRepo()
	authSvc := service.NewAuthService(newLogger(), fakeRepo, time.Hour)
	ctx := context.Background()

	token, err := authSvc.Guest(ctx)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, fakeRepo.users, 1)

	guest := fakeRepo.users[1]
	assert.True(t, guest.IsGuest)
	assert.NotNil(t, guest.GuestSessionID)

	refreshed, err := authSvc.Refresh(ctx, guest.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, refreshed)

	_, err = authSvc.Refresh(ctx, 999)
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestGuestCleaner_Cleanup(t *testing.T) {
	repo := newFakeUserRepo()
	repo.users[1] = &models.User{ID: 1, IsGuest: true, CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}
	repo.users[2] = &models.User{ID: 2, IsGuest: true, CreatedAt: time.Now()}
	repo.users[3] = &models.User{ID: 3, Email: ptr("a@b.kz"), CreatedAt: time.Now().Add(-90 * 24 * time.Hour)}

	cleaner := service.NewGuestCleaner(newLogger(), repo, newRecorder(), time.Hour, 30*24*time.Hour)
	n, err := cleaner.Cleanup(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.users, 2)
	assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), repo.deletedBefore, time.Minute)
}

func TestGuestCleaner_RunWithoutIntervalReturns(t *testing.T) {
	repo := newFakeUserRepo()
	repo.users[1] = &models.User{ID: 1, IsGuest: true, CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}

	for _, interval := range []time.Duration{0, -time.Minute} {
		cleaner := service.NewGuestCleaner(newLogger(), repo, newRecorder(), interval, 30*24*time.Hour)

		done := make(chan struct{})
		go func() {
			cleaner.Run(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Run with interval %s did not return", interval)
		}
	}
	assert.Len(t, repo.users, 1)
}

func TestGuestCleaner_RunStopsOnCancel(t *testing.T) {
	repo := newFakeUserRepo()
	cleaner := service.NewGuestCleaner(newLogger(), repo, newRecorder(), time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleaner.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
