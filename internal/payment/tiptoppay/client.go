package tiptoppay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	pathCryptogram = "/payments/cryptogram"
	pathStatus     = "/payments/status"
	pathConfirm    = "/payments/confirm"
	pathCancel     = "/payments/cancel"
	pathRefund     = "/payments/refund"
)

// Config параметры подключения к шлюзу
type Config struct {
	PublicID string
	APIKey   string
	APIURL   string
	Timeout  time.Duration
}

// Result нормализованный ответ шлюза. Ошибки сети и не-2xx ответы сюда же, Success=false.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

type Customer struct {
	Email string
	Phone string
	Name  string
}

// CryptogramPayment данные для оплаты по криптограмме карты; Amount в основных единицах валюты
type CryptogramPayment struct {
	Cryptogram  string
	Amount      decimal.Decimal
	Currency    string
	OrderID     int64
	Description string
	Customer    Customer
}

// Observer получает длительность и исход каждого обращения к шлюзу
type Observer interface {
	GatewayRequest(operation string, success bool, took time.Duration)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

type Client struct {
	log      *slog.Logger
	cfg      Config
	http     *http.Client
	observer Observer
}

func New(log *slog.Logger, cfg Config, opts ...Option) *Client {
	if cfg.PublicID == "" || cfg.APIKey == "" {
		log.Warn("tiptoppay credentials not configured, gateway calls will be rejected")
	}
	c := &Client{
		log:  log,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublicID нужен клиенту для виджета оплаты
func (c *Client) PublicID() string {
	return c.cfg.PublicID
}

// APIKey ключ подписи уведомлений
func (c *Client) APIKey() string {
	return c.cfg.APIKey
}

func (c *Client) CreatePaymentByCryptogram(ctx context.Context, p CryptogramPayment) Result {
	currency := strings.ToUpper(p.Currency)
	if currency == "" {
		currency = "KZT"
	}
	description := p.Description
	if description == "" {
		description = fmt.Sprintf("Payment for order #%d", p.OrderID)
	}
	return c.call(ctx, "create", pathCryptogram, map[string]any{
		"publicId":      c.cfg.PublicID,
		"cryptogram":    p.Cryptogram,
		"amount":        ToMinorUnits(p.Amount),
		"currency":      currency,
		"orderId":       strconv.FormatInt(p.OrderID, 10),
		"description":   description,
		"customerEmail": p.Customer.Email,
		"customerPhone": p.Customer.Phone,
		"customerName":  p.Customer.Name,
	})
}

func (c *Client) CheckPaymentStatus(ctx context.Context, transactionID string) Result {
	return c.call(ctx, "status", pathStatus, map[string]any{
		"publicId":      c.cfg.PublicID,
		"transactionId": transactionID,
	})
}

// ConfirmPayment списывает ранее авторизованную сумму (двухстадийная схема)
func (c *Client) ConfirmPayment(ctx context.Context, transactionID string, amount decimal.Decimal) Result {
	return c.call(ctx, "confirm", pathConfirm, map[string]any{
		"publicId":      c.cfg.PublicID,
		"transactionId": transactionID,
		"amount":        ToMinorUnits(amount),
	})
}

func (c *Client) CancelPayment(ctx context.Context, transactionID string) Result {
	return c.call(ctx, "cancel", pathCancel, map[string]any{
		"publicId":      c.cfg.PublicID,
		"transactionId": transactionID,
	})
}

func (c *Client) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) Result {
	return c.call(ctx, "refund", pathRefund, map[string]any{
		"publicId":      c.cfg.PublicID,
		"transactionId": transactionID,
		"amount":        ToMinorUnits(amount),
	})
}

// ToMinorUnits переводит сумму в минимальные единицы (тиын, цент) с округлением
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (c *Client) call(ctx context.Context, operation, path string, params map[string]any) (res Result) {
	const op = "tiptoppay.Client.call"
	logger := c.log.With(slog.String("op", op), slog.String("operation", operation))

	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.GatewayRequest(operation, res.Success, time.Since(start))
		}
	}()

	// пустые поля не отправляются и не участвуют в подписи
	for k, v := range params {
		if v == nil || v == "" {
			delete(params, k)
		}
	}
	params["signature"] = Sign(params, c.cfg.APIKey)

	body, err := json.Marshal(params)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "tiptoppay %s", operation)
		logger.Error("gateway request failed", slog.String("error", err.Error()))
		return Result{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		err = errors.Wrapf(err, "tiptoppay %s: read body", operation)
		logger.Error("gateway response unreadable", slog.String("error", err.Error()))
		return Result{Success: false, Error: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res = Result{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}
		if json.Valid(raw) {
			res.Details = raw
			var payload struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
				res.Error = payload.Message
			}
		}
		logger.Warn("gateway rejected request",
			slog.Int("status", resp.StatusCode),
			slog.String("error", res.Error),
		)
		return res
	}

	res = Result{Success: true}
	if json.Valid(raw) && len(raw) > 0 {
		res.Data = raw
	}
	logger.Info("gateway request succeeded")
	return res
}
