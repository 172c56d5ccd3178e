package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	guardRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messwallah_guard_requests_total",
		Help: "Total number of requests evaluated by the defense pipeline",
	}, []string{"pipeline"})
	guardDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messwallah_guard_denied_total",
		Help: "Total number of requests denied, by pipeline, stage and reason",
	}, []string{"pipeline", "stage", "reason"})
	patternAttacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messwallah_guard_pattern_attacks_total",
		Help: "Total number of payloads flagged by the attack detector, by category",
	}, []string{"category"})
	storeSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messwallah_guard_store_swept_total",
		Help: "Total number of expired guard records evicted by maintenance",
	})
	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messwallah_security_alerts_total",
		Help: "Total number of security alerts dispatched, by result",
	}, []string{"result"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(guardRequestsTotal, guardDeniedTotal, patternAttacksTotal, storeSweptTotal, alertsTotal)
}

// IncGuardRequest counts one evaluated request.
func IncGuardRequest(pipeline string) { guardRequestsTotal.WithLabelValues(pipeline).Inc() }

// IncGuardDenied counts one denied request.
func IncGuardDenied(pipeline, stage, reason string) {
	guardDeniedTotal.WithLabelValues(pipeline, stage, reason).Inc()
}

// IncPatternAttack counts one flagged payload.
func IncPatternAttack(category string) { patternAttacksTotal.WithLabelValues(category).Inc() }

// AddStoreSwept adds n evicted records.
func AddStoreSwept(n int) { storeSweptTotal.Add(float64(n)) }

// IncAlert counts one alert delivery attempt.
func IncAlert(result string) { alertsTotal.WithLabelValues(result).Inc() }
