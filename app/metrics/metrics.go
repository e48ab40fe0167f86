package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const namespace = "payment_gateway"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	retryAttempts     *prometheus.CounterVec
	replays           *prometheus.CounterVec
	providerDurations *prometheus.HistogramVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound provider webhook deliveries by outcome.",
		}, []string{"provider", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_transitions_total",
			Help:      "Committed transaction status transitions.",
		}, []string{"from", "to"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Scheduled confirmation retries by result.",
		}, []string{"result"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_event_replays_total",
			Help:      "Failed webhook event replays by result.",
		}, []string{"result"}),
		providerDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of provider API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation", "result"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.webhookEvents, m.transitions, m.retryAttempts, m.replays, m.providerDurations)
	}
	return m
}

func (m *Metrics) WebhookEvent(provider entity.ProviderName, outcome entity.WebhookOutcome) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(string(provider), string(outcome)).Inc()
}

func (m *Metrics) Transition(from, to entity.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) RetryAttempt(result string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Replay(result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(result).Inc()
}

// ObserveProvider matches provider.Observer so it can be handed to the adapters.
func (m *Metrics) ObserveProvider(provider entity.ProviderName, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerDurations.WithLabelValues(string(provider), operation, result).Observe(duration.Seconds())
}
