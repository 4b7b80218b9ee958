package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	Header       = "Idempotency-Key"
	ReplayHeader = "Idempotent-Replayed"
)

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Response сохранённый ответ на первый успешный запрос
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// pendingTTL срок жизни брони на время обработки; ответ хранится дольше
const pendingTTL = time.Minute

type Store interface {
	// Reserve занимает ключ до обработки запроса; false, если ключ уже занят или ответ сохранён
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Get возвращает сохранённый ответ; бронь без ответа не считается найденной
	Get(ctx context.Context, key string) (*Response, bool, error)
	// Save заменяет бронь итоговым ответом
	Save(ctx context.Context, key string, resp *Response, ttl time.Duration) error
	// Release снимает бронь, чтобы запрос можно было повторить
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// pendingValue лежит по ключу, пока первый запрос обрабатывается
var pendingValue = []byte(`{"status":0}`)

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, pendingValue, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Response, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	resp := &Response{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, false, err
	}
	if resp.Status == 0 {
		return nil, false, nil
	}
	return resp, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Middleware выполняет запрос один раз на ключ и вызывающего, повторы получают сохранённый ответ.
// Пока первый запрос не завершён, повторы получают 409.
// scope возвращает идентификатор вызывающего (например, id пользователя).
// Недоступное хранилище не мешает обработке запроса.
func Middleware(log *slog.Logger, store Store, ttl time.Duration, scope func(r *http.Request) string) func(http.Handler) http.Handler {
	lockTTL := pendingTTL
	if ttl > 0 && ttl < lockTTL {
		lockTTL = ttl
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			storeKey := "idem:" + r.URL.Path + ":" + scope(r) + ":" + key
			logger := log.With(slog.String("idempotency_key", key))

			reserved, err := store.Reserve(r.Context(), storeKey, lockTTL)
			if err != nil {
				logger.Error("idempotency reserve failed", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replay(w, r, logger, store, storeKey)
				return
			}

			// бронь снимается и при панике обработчика; клиент мог уже отключиться
			bg := context.WithoutCancel(r.Context())
			saved := false
			defer func() {
				if saved {
					return
				}
				if err := store.Release(bg, storeKey); err != nil {
					logger.Error("idempotency release failed", slog.String("error", err.Error()))
				}
			}()

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 {
				return
			}
			resp := &Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}
			if err := store.Save(bg, storeKey, resp, ttl); err != nil {
				logger.Error("idempotency save failed", slog.String("error", err.Error()))
				return
			}
			saved = true
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, logger *slog.Logger, store Store, storeKey string) {
	cached, ok, err := store.Get(r.Context(), storeKey)
	if err != nil {
		logger.Error("idempotency lookup failed", slog.String("error", err.Error()))
	}
	if !ok {
		logger.Warn("request with the same key is still in progress")
		http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
		return
	}

	logger.Info("replaying stored response")
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}
