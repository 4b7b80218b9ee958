package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics счётчики заказов, уведомлений шлюза и исходящих запросов к нему
type Metrics struct {
	OrdersCreated   *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	GuestsDeleted   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by checkout source.",
		}, []string{"source"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notifications_total",
			Help:      "Gateway notifications handled, by event kind and response code.",
		}, []string{"kind", "code"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Outbound payment gateway calls.",
		}, []string{"operation", "success"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Payment gateway latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation"}),
		GuestsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guests_deleted_total",
			Help:      "Stale guest users removed by cleanup.",
		}),
	}
	reg.MustRegister(m.OrdersCreated, m.Notifications, m.GatewayRequests, m.GatewayLatency, m.GuestsDeleted)
	return m
}

func (m *Metrics) OrderCreated(source string) {
	m.OrdersCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) NotificationHandled(kind string, code int) {
	m.Notifications.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

// GatewayRequest подходит под tiptoppay.Observer
func (m *Metrics) GatewayRequest(operation string, success bool, took time.Duration) {
	m.GatewayRequests.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	m.GatewayLatency.WithLabelValues(operation).Observe(float64(took.Milliseconds()))
}

func (m *Metrics) GuestsRemoved(n int64) {
	m.GuestsDeleted.Add(float64(n))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
