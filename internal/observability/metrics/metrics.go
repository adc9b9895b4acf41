package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments. Counters are registered on
// the default registry served by /metrics.
type Metrics struct {
	webhookEvents *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		webhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mesa_webhook_events_total",
			Help: "Webhook deliveries by provider and reconciliation outcome.",
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider string, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)
