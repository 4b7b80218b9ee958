package tiptoppay

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/linemk/storefront/internal/lib/apperr"
)

// EventKind тип уведомления от шлюза
type EventKind string

const (
	EventCheck   EventKind = "check"
	EventPay     EventKind = "pay"
	EventFail    EventKind = "fail"
	EventConfirm EventKind = "confirm"
	EventRefund  EventKind = "refund"
	EventCancel  EventKind = "cancel"
	EventUnknown EventKind = "unknown"
)

// Notification входящее уведомление. Поля ищутся без учёта регистра и символов "_" и "-".
type Notification struct {
	raw    map[string]any
	fields map[string]string
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

func NewNotification(raw map[string]any) *Notification {
	n := &Notification{
		raw:    raw,
		fields: make(map[string]string, len(raw)),
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		n.fields[normalizeKey(k)] = strings.TrimSpace(formatValue(v))
	}
	return n
}

// ParseNotification разбирает тело как JSON-объект или как form-urlencoded.
func ParseNotification(contentType string, body []byte) (*Notification, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		return parseForm(body)
	}

	raw := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		// часть шлюзов шлёт форму без заголовка
		if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
			if n, formErr := parseForm(body); formErr == nil && len(n.raw) > 0 {
				return n, nil
			}
		}
		return nil, apperr.Validation("malformed notification body")
	}
	return NewNotification(raw), nil
}

func parseForm(body []byte) (*Notification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, apperr.Validation("malformed notification body")
	}
	raw := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return NewNotification(raw), nil
}

// Raw исходные поля, по ним проверяется подпись
func (n *Notification) Raw() map[string]any {
	return n.raw
}

// Get возвращает значение поля; пустое значение считается отсутствующим
func (n *Notification) Get(key string) (string, bool) {
	v, ok := n.fields[normalizeKey(key)]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (n *Notification) has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

func (n *Notification) is(key, value string) bool {
	v, ok := n.Get(key)
	return ok && strings.EqualFold(v, value)
}

// InvoiceID номер заказа, переданный при создании платежа
func (n *Notification) InvoiceID() (int64, error) {
	v, ok := n.Get("InvoiceId")
	if !ok {
		return 0, apperr.Validation("InvoiceId is required")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("InvoiceId must be a positive integer")
	}
	return id, nil
}

// Amount сумма в основных единицах; false, если поля нет или оно не число
func (n *Notification) Amount() (decimal.Decimal, bool) {
	v, ok := n.Get("Amount")
	if !ok {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func (n *Notification) TransactionID() *string {
	v, ok := n.Get("TransactionId")
	if !ok {
		return nil
	}
	return &v
}

const (
	opPayment = "Payment"
	opConfirm = "Confirm"
	opRefund  = "Refund"
	opCancel  = "Cancel"

	statusAuthorized = "Authorized"
	statusCompleted  = "Completed"
)

// порядок важен: срабатывает первое подходящее правило
var classifyRules = []struct {
	kind  EventKind
	match func(n *Notification) bool
}{
	{EventFail, func(n *Notification) bool {
		return n.has("Reason") || n.has("ReasonCode")
	}},
	{EventCheck, func(n *Notification) bool {
		return n.is("OperationType", opPayment) &&
			(n.is("Status", statusAuthorized) || (n.is("Status", statusCompleted) && !n.has("AuthCode")))
	}},
	{EventPay, func(n *Notification) bool {
		return n.is("OperationType", opPayment) && n.is("Status", statusCompleted) && n.has("AuthCode")
	}},
	{EventConfirm, func(n *Notification) bool {
		return n.is("OperationType", opConfirm)
	}},
	{EventRefund, func(n *Notification) bool {
		return n.is("OperationType", opRefund) || n.has("PaymentTransactionId")
	}},
	{EventCancel, func(n *Notification) bool {
		return n.is("OperationType", opCancel)
	}},
}

// Classify определяет тип уведомления
func Classify(n *Notification) EventKind {
	for _, rule := range classifyRules {
		if rule.match(n) {
			return rule.kind
		}
	}
	return EventUnknown
}
