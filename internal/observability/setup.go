package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Total number of moderation actions applied",
		},
		[]string{"kind", "status"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_escalations_total",
			Help: "Total number of warning-threshold escalations raised",
		},
	)

	reversalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_reversals_total",
			Help: "Total number of automatic sanction reversals executed",
		},
		[]string{"kind"},
	)

	reversalRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_reversal_retries_total",
			Help: "Total number of retried sanction reversal attempts",
		},
	)

	reversalsAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_reversals_abandoned_total",
			Help: "Reversals given up after exhausting the retry budget",
		},
	)

	applyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moderation_apply_duration_seconds",
			Help:    "Time spent applying moderation actions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	prometheus.MustRegister(actionsTotal)
	prometheus.MustRegister(escalationsTotal)
	prometheus.MustRegister(reversalsTotal)
	prometheus.MustRegister(reversalRetriesTotal)
	prometheus.MustRegister(reversalsAbandonedTotal)
	prometheus.MustRegister(applyDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

func RecordAction(kind, status string) {
	actionsTotal.WithLabelValues(kind, status).Inc()
}

func RecordEscalation() {
	escalationsTotal.Inc()
}

func RecordReversal(kind string) {
	reversalsTotal.WithLabelValues(kind).Inc()
}

func RecordReversalRetry() {
	reversalRetriesTotal.Inc()
}

func RecordReversalAbandoned() {
	reversalsAbandonedTotal.Inc()
}

// StartApply returns a completion func that records how long the apply took.
func StartApply(kind string) func() {
	timer := prometheus.NewTimer(applyDuration.WithLabelValues(kind))
	return func() {
		timer.ObserveDuration()
	}
}
