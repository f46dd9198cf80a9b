// Package metrics собирает метрики Prometheus по вебхукам, переходам подписок
// и операциям аутентификации.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Исходы обработки вебхука.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeNoop      = "noop"
	OutcomeIgnored   = "ignored"
	OutcomeUnmatched = "unmatched"
	OutcomeFailed    = "failed"
)

// Recorder интерфейс, через который сервисы сообщают о событиях.
type Recorder interface {
	RecordWebhook(event, outcome string)
	RecordSignatureRejected()
	RecordTransition(from, to string)
	RecordAuth(action, result string)
}

// Collector реализация Recorder на счётчиках Prometheus.
type Collector struct {
	webhooks    *prometheus.CounterVec
	signatures  prometheus.Counter
	transitions *prometheus.CounterVec
	auth        *prometheus.CounterVec
}

// NewCollector создаёт счётчики и регистрирует их в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_webhook_events_total",
			Help: "Webhook deliveries by event type and outcome",
		}, []string{"event", "outcome"}),
		signatures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealplan_webhook_signature_rejected_total",
			Help: "Webhook deliveries rejected by signature check",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_subscription_transitions_total",
			Help: "Applied subscription status transitions",
		}, []string{"from", "to"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplan_auth_operations_total",
			Help: "Auth operations by action and result",
		}, []string{"action", "result"}),
	}

	reg.MustRegister(c.webhooks, c.signatures, c.transitions, c.auth)
	return c
}

func (c *Collector) RecordWebhook(event, outcome string) {
	c.webhooks.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) RecordSignatureRejected() {
	c.signatures.Inc()
}

func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) RecordAuth(action, result string) {
	c.auth.WithLabelValues(action, result).Inc()
}

// Nop ничего не записывает. Используется в тестах и утилитах.
type Nop struct{}

func (Nop) RecordWebhook(string, string)    {}
func (Nop) RecordSignatureRejected()        {}
func (Nop) RecordTransition(string, string) {}
func (Nop) RecordAuth(string, string)       {}

// Handler отдаёт метрики из gatherer для скрейпа.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
