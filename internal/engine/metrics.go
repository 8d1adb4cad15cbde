package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Reconcile: сколько тиков прошло и чем закончились (ok, fetch_error)
	ReconcileTicks *prometheus.CounterVec

	// Reconcile: длительность одного прохода по отслеживаемым участникам
	TickDuration prometheus.Histogram

	// Reconcile: размер Tracked Set
	TrackedSubjects prometheus.Gauge

	// Roles: выполненные действия по ролям (role=monitored|booster, action, status)
	RoleActions *prometheus.CounterVec

	// Errors: классификация отказов мутаций (permission, throttle, transient, breaker)
	MutationErrors *prometheus.CounterVec

	// Voice: попытки переподключения (success, failure)
	ReconnectAttempts *prometheus.CounterVec

	// Voice: состояние супервизора (0 - idle, 1 - retrying, 2 - gave up)
	SupervisorState prometheus.Gauge

	// Voice: проигнорированные уведомления о дисконнекте (cooldown, busy, gave_up)
	DisconnectsIgnored *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило, 0.5 - half-open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ReconcileTicks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repbot_reconcile_ticks_total",
			Help: "Total number of reconciliation ticks by result.",
		}, []string{"result"}),

		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "repbot_reconcile_tick_duration_seconds",
			Help:    "Histogram of reconciliation tick latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		TrackedSubjects: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "repbot_tracked_subjects",
			Help: "Current number of registered subjects under reconciliation.",
		}),

		RoleActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repbot_role_actions_total",
			Help: "Total number of applied role mutations.",
		}, []string{"role", "action", "status"}),

		MutationErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repbot_mutation_errors_total",
			Help: "Total number of role mutation errors by type.",
		}, []string{"type"}),

		ReconnectAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repbot_voice_reconnect_attempts_total",
			Help: "Total number of voice reconnect attempts by result.",
		}, []string{"result"}),

		SupervisorState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "repbot_voice_supervisor_state",
			Help: "Current supervisor state (0=idle, 1=retrying, 2=gave_up).",
		}),

		DisconnectsIgnored: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repbot_voice_disconnects_ignored_total",
			Help: "Disconnect notifications that did not start a retry loop.",
		}, []string{"reason"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "repbot_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "repbot_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
