// Package metrics expone los contadores Prometheus del motor de decisión.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	decisionsTotal   *prometheus.CounterVec
	verifyTotal      *prometheus.CounterVec
	ledgerConflicts  prometheus.Counter
	authorizeLatency prometheus.Histogram
	verifyLatency    prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

// Register inicializa los collectors y devuelve el handler para /metrics.
// Idempotente.
func Register(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
		decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authorize_decisions_total",
			Help: "Decisiones de autorización por resultado y motivo",
		}, []string{"decision", "reason"})

		verifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verify_results_total",
			Help: "Resultados de verificación de authorization codes",
		}, []string{"result"})

		ledgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spend_ledger_conflicts_total",
			Help: "Reservas del ledger perdidas por carrera (el precheck pasó, la reserva no)",
		})

		// Buckets finos: el producto promete autorización sub-100ms.
		latencyBuckets := []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

		authorizeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authorize_duration_seconds",
			Help:    "Latencia de POST /v1/authorize",
			Buckets: latencyBuckets,
		})
		verifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verify_duration_seconds",
			Help:    "Latencia de POST /v1/verify",
			Buckets: latencyBuckets,
		})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		reg.MustRegister(decisionsTotal, verifyTotal, ledgerConflicts,
			authorizeLatency, verifyLatency, httpRequestsTotal, httpRequestDuration)
	})

	return promhttp.Handler()
}

// ObserveDecision registra una decisión ALLOW/DENY con su motivo.
func ObserveDecision(decision, reason string, took time.Duration) {
	if decisionsTotal == nil {
		return
	}
	decisionsTotal.WithLabelValues(decision, reason).Inc()
	authorizeLatency.Observe(took.Seconds())
}

// ObserveVerify registra un resultado de verificación ("valid" o el error).
func ObserveVerify(result string, took time.Duration) {
	if verifyTotal == nil {
		return
	}
	verifyTotal.WithLabelValues(result).Inc()
	verifyLatency.Observe(took.Seconds())
}

// ObserveLedgerConflict cuenta una reserva perdida por carrera.
func ObserveLedgerConflict() {
	if ledgerConflicts != nil {
		ledgerConflicts.Inc()
	}
}

// ObserveHTTP registra un request HTTP terminado.
func ObserveHTTP(method, path string, status int, took time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, statusText(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

func statusText(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
