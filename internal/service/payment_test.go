package service_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/lib/events"
	"github.com/linemk/storefront/internal/payment/tiptoppay"
	"github.com/linemk/storefront/internal/service"
)

type gatewayCall struct {
	op            string
	transactionID string
	amount        decimal.Decimal
	payment       tiptoppay.CryptogramPayment
}

type fakeGateway struct {
	calls []gatewayCall
}

var _ service.PaymentGateway = (*fakeGateway)(nil)

func (g *fakeGateway) ok() tiptoppay.Result {
	return tiptoppay.Result{Success: true, Data: json.RawMessage(`{"Success":true}`)}
}

func (g *fakeGateway) CreatePaymentByCryptogram(ctx context.Context, p tiptoppay.CryptogramPayment) tiptoppay.Result {
	g.calls = append(g.calls, gatewayCall{op: "create", payment: p})
	return g.ok()
}

func (g *fakeGateway) CheckPaymentStatus(ctx context.Context, transactionID string) tiptoppay.Result {
	g.calls = append(g.calls, gatewayCall{op: "status", transactionID: transactionID})
	return g.ok()
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, transactionID string, amount decimal.Decimal) tiptoppay.Result {
	g.calls = append(g.calls, gatewayCall{op: "confirm", transactionID: transactionID, amount: amount})
	return g.ok()
}

func (g *fakeGateway) CancelPayment(ctx context.Context, transactionID string) tiptoppay.Result {
	g.calls = append(g.calls, gatewayCall{op: "cancel", transactionID: transactionID})
	return g.ok()
}

func (g *fakeGateway) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) tiptoppay.Result {
	g.calls = append(g.calls, gatewayCall{op: "refund", transactionID: transactionID, amount: amount})
	return tiptoppay.Result{Success: false, Error: "refund declined"}
}

type paymentFixture struct {
	mock      sqlmock.Sqlmock
	orders    *fakeOrderRepo
	gateway   *fakeGateway
	publisher *fakePublisher
	svc       service.PaymentService
}

func newPaymentFixture(t *testing.T, opts service.PaymentOptions) *paymentFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &paymentFixture{
		mock:      mock,
		orders:    newFakeOrderRepo(),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
	}
	f.svc = service.NewPaymentService(newLogger(), db, f.orders, f.gateway, f.publisher, newRecorder(), opts)
	return f
}

func (f *paymentFixture) seed(userID *int64, status models.OrderStatus, payment models.PaymentStatus, totalKZT int64) int64 {
	f.orders.nextID++
	id := f.orders.nextID
	f.orders.orders[id] = &models.Order{
		ID:               id,
		UserID:           userID,
		Status:           status,
		RecipientName:    "Aigerim",
		RecipientAddress: "Almaty",
		RecipientEmail:   ptr("aigerim@example.kz"),
		PaymentMethod:    models.PaymentMethodTipTopPay,
		PaymentStatus:    ptr(payment),
		TotalKZT:         totalKZT,
	}
	return id
}

func payNotification(orderID string) *tiptoppay.Notification {
	return tiptoppay.NewNotification(map[string]any{
		"TransactionId": "504",
		"Amount":        "10000.00",
		"InvoiceId":     orderID,
		"OperationType": "Payment",
		"Status":        "Completed",
		"AuthCode":      "A1B2C3",
	})
}

func TestHandleNotification_PayIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

	for i := 0; i < 2; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		code := f.svc.HandleNotification(context.Background(), payNotification("1"), "")
		assert.Equal(t, service.CodeAccepted, code)
	}

	stored := f.orders.orders[id]
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusSuccess, *stored.PaymentStatus)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, "504", *stored.TransactionID)
	assert.Equal(t, []string{events.TypeOrderPaymentUpdated, events.TypeOrderPaymentUpdated}, f.publisher.types())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_Check(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

	tests := []struct {
		name   string
		amount string
		want   int
	}{
		{name: "exact", amount: "10000.00", want: service.CodeAccepted},
		{name: "within tolerance", amount: "10000.01", want: service.CodeAccepted},
		{name: "mismatch", amount: "9999.00", want: service.CodeAmountMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.mock.ExpectBegin()
			if tt.want == service.CodeAccepted {
				f.mock.ExpectCommit()
			} else {
				f.mock.ExpectRollback()
			}
			n := tiptoppay.NewNotification(map[string]any{
				"InvoiceId":     "1",
				"Amount":        tt.amount,
				"OperationType": "Payment",
				"Status":        "Authorized",
			})
			assert.Equal(t, tt.want, f.svc.HandleNotification(context.Background(), n, ""))
		})
	}

	assert.Equal(t, models.PaymentStatusPending, *f.orders.orders[id].PaymentStatus)
	assert.Empty(t, f.publisher.types())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_FailAfterPayIgnored(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	id := f.seed(nil, models.OrderStatusPaid, models.PaymentStatusSuccess, 10000)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	n := tiptoppay.NewNotification(map[string]any{"InvoiceId": "1", "Reason": "InsufficientFunds", "ReasonCode": "5051"})
	assert.Equal(t, service.CodeAccepted, f.svc.HandleNotification(context.Background(), n, ""))

	assert.Equal(t, models.PaymentStatusSuccess, *f.orders.orders[id].PaymentStatus)
	assert.Empty(t, f.publisher.types())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_FailRefundCancel(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want models.PaymentStatus
	}{
		{name: "fail", raw: map[string]any{"InvoiceId": "1", "Reason": "Declined"}, want: models.PaymentStatusFailed},
		{name: "refund", raw: map[string]any{"InvoiceId": "1", "OperationType": "Refund"}, want: models.PaymentStatusCancelled},
		{name: "cancel", raw: map[string]any{"InvoiceId": "1", "OperationType": "Cancel"}, want: models.PaymentStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t, service.PaymentOptions{})
			id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 100)

			f.mock.ExpectBegin()
			f.mock.ExpectCommit()
			code := f.svc.HandleNotification(context.Background(), tiptoppay.NewNotification(tt.raw), "")

			assert.Equal(t, service.CodeAccepted, code)
			assert.Equal(t, tt.want, *f.orders.orders[id].PaymentStatus)
			assert.Equal(t, models.OrderStatusCreated, f.orders.orders[id].Status)
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestHandleNotification_ConfirmMarksPaid(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

	n := tiptoppay.NewNotification(map[string]any{
		"InvoiceId":     strconv.FormatInt(id, 10),
		"OperationType": "Confirm",
		"TransactionId": "777",
		"Amount":        "10000.00",
	})
	require.Equal(t, tiptoppay.EventConfirm, tiptoppay.Classify(n))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	assert.Equal(t, service.CodeAccepted, f.svc.HandleNotification(context.Background(), n, ""))

	order := f.orders.orders[id]
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.PaymentStatusSuccess, *order.PaymentStatus)
	require.NotNil(t, order.TransactionID)
	assert.Equal(t, "777", *order.TransactionID)
	assert.Equal(t, []string{events.TypeOrderPaymentUpdated}, f.publisher.types())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_UnknownKindAcknowledged(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 100)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	n := tiptoppay.NewNotification(map[string]any{"InvoiceId": "1", "OperationType": "Something"})
	assert.Equal(t, service.CodeAccepted, f.svc.HandleNotification(context.Background(), n, ""))
	assert.Equal(t, models.PaymentStatusPending, *f.orders.orders[id].PaymentStatus)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_Rejections(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})

	// неизвестный заказ
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	assert.Equal(t, service.CodeUnknownOrder, f.svc.HandleNotification(context.Background(), payNotification("77"), ""))

	// без InvoiceId транзакция не открывается
	n := tiptoppay.NewNotification(map[string]any{"OperationType": "Payment", "Status": "Completed", "AuthCode": "X"})
	assert.Equal(t, service.CodeRejected, f.svc.HandleNotification(context.Background(), n, ""))

	assert.Equal(t, service.CodeRejected, f.svc.HandleNotification(context.Background(), payNotification("abc"), ""))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandleNotification_Signature(t *testing.T) {
	const key = "secret-key"
	n := payNotification("1")
	good := tiptoppay.Sign(n.Raw(), key)

	t.Run("enforced mismatch rejected", func(t *testing.T) {
		f := newPaymentFixture(t, service.PaymentOptions{APIKey: key, EnforceSignature: true})
		id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

		assert.Equal(t, service.CodeRejected, f.svc.HandleNotification(context.Background(), n, "deadbeef"))
		assert.Equal(t, models.PaymentStatusPending, *f.orders.orders[id].PaymentStatus)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("enforced valid accepted", func(t *testing.T) {
		f := newPaymentFixture(t, service.PaymentOptions{APIKey: key, EnforceSignature: true})
		f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		assert.Equal(t, service.CodeAccepted, f.svc.HandleNotification(context.Background(), n, good))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("advisory mismatch still processed", func(t *testing.T) {
		f := newPaymentFixture(t, service.PaymentOptions{APIKey: key})
		id := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 10000)

		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
		assert.Equal(t, service.CodeAccepted, f.svc.HandleNotification(context.Background(), n, ""))
		assert.Equal(t, models.PaymentStatusSuccess, *f.orders.orders[id].PaymentStatus)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestChargeOrder(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	ctx := context.Background()
	id := f.seed(ptr(int64(7)), models.OrderStatusCreated, models.PaymentStatusPending, 10000)
	paid := f.seed(ptr(int64(7)), models.OrderStatusPaid, models.PaymentStatusSuccess, 10000)

	res, err := f.svc.ChargeOrder(ctx, 7, id, "crypto", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, f.gateway.calls, 1)
	p := f.gateway.calls[0].payment
	assert.Equal(t, id, p.OrderID)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "KZT", p.Currency)
	assert.Equal(t, "Aigerim", p.Customer.Name)
	assert.Equal(t, "aigerim@example.kz", p.Customer.Email)

	// состояние заказа меняет только уведомление
	assert.Equal(t, models.PaymentStatusPending, *f.orders.orders[id].PaymentStatus)

	_, err = f.svc.ChargeOrder(ctx, 8, id, "crypto", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.ChargeOrder(ctx, 7, paid, "crypto", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.ChargeOrder(ctx, 7, id, " ", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Len(t, f.gateway.calls, 1)
}

func TestAdminPaymentOperations(t *testing.T) {
	f := newPaymentFixture(t, service.PaymentOptions{})
	ctx := context.Background()
	id := f.seed(nil, models.OrderStatusPaid, models.PaymentStatusSuccess, 10000)
	f.orders.orders[id].TransactionID = ptr("504")
	noTx := f.seed(nil, models.OrderStatusCreated, models.PaymentStatusPending, 500)

	res, err := f.svc.ConfirmPayment(ctx, id, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	partial := decimal.NewFromInt(2500)
	res, err = f.svc.RefundPayment(ctx, id, &partial)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "refund declined", res.Error)

	_, err = f.svc.CancelPayment(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.PaymentStatus(ctx, id)
	require.NoError(t, err)

	require.Len(t, f.gateway.calls, 4)
	assert.Equal(t, "confirm", f.gateway.calls[0].op)
	assert.True(t, f.gateway.calls[0].amount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "504", f.gateway.calls[0].transactionID)
	assert.True(t, f.gateway.calls[1].amount.Equal(partial))
	assert.Equal(t, "cancel", f.gateway.calls[2].op)
	assert.Equal(t, "status", f.gateway.calls[3].op)

	_, err = f.svc.ConfirmPayment(ctx, noTx, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.svc.CancelPayment(ctx, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
