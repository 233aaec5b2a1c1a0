package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	RoleProcessor   = "processor"
	RoleReprocessor = "reprocessor"
)

const (
	PeriodOutcomeRated  = "rated"
	PeriodOutcomeEmpty  = "empty"
	PeriodOutcomeFailed = "failed"
)

const (
	LockOutcomeAcquired  = "acquired"
	LockOutcomeContended = "contended"
	LockOutcomeError     = "error"
)

const (
	SkipReasonInactive = "inactive"
	SkipReasonNoPeriod = "no_period"
	SkipReasonLockHeld = "lock_held"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

// OrchestratorMetrics captures scope processing health: checkpoint progress,
// lock contention and rating failures.
type OrchestratorMetrics struct {
	periods        *prometheus.CounterVec
	periodDuration *prometheus.HistogramVec
	passDuration   *prometheus.HistogramVec
	checkpointLag  *prometheus.HistogramVec
	lockAttempts   *prometheus.CounterVec
	scopesSkipped  *prometheus.CounterVec
	purges         prometheus.Counter
	ratingFailures *prometheus.CounterVec
	errors         *prometheus.CounterVec
	workerRestarts *prometheus.CounterVec
	moduleReloads  *prometheus.CounterVec
}

var (
	orchestratorMetricsOnce sync.Once
	orchestratorMetrics     *OrchestratorMetrics
)

// Orchestrator returns the singleton orchestrator metrics registry.
func Orchestrator() *OrchestratorMetrics {
	return OrchestratorWithConfig(Config{})
}

// OrchestratorWithConfig returns the singleton registry using config labels.
func OrchestratorWithConfig(cfg Config) *OrchestratorMetrics {
	orchestratorMetricsOnce.Do(func() {
		orchestratorMetrics = newOrchestratorMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return orchestratorMetrics
}

// ResetOrchestratorMetricsForTest resets the singleton for tests.
func ResetOrchestratorMetricsForTest() {
	orchestratorMetricsOnce = sync.Once{}
	orchestratorMetrics = nil
}

func newOrchestratorMetrics(registerer prometheus.Registerer, cfg Config) *OrchestratorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cloudkitty-processor"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &OrchestratorMetrics{
		periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_periods_total",
			Help:        "Collection periods handled per role and outcome.",
			ConstLabels: constLabels,
		}, []string{"role", "outcome"}),
		periodDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cloudkitty_orchestrator_period_duration_seconds",
			Help:        "Time spent collecting, rating and persisting one period.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"role"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cloudkitty_orchestrator_pass_duration_seconds",
			Help:        "Time spent on one pass over all loaded scopes.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600},
			ConstLabels: constLabels,
		}, []string{"role"}),
		checkpointLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "cloudkitty_orchestrator_checkpoint_lag_seconds",
			Help:        "Distance between wall time and the end of the period just rated.",
			Buckets:     []float64{60, 300, 900, 3600, 2 * 3600, 4 * 3600, 12 * 3600, 86400, 7 * 86400, 31 * 86400},
			ConstLabels: constLabels,
		}, []string{"role"}),
		lockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_lock_attempts_total",
			Help:        "Non-blocking lock attempts per role and outcome.",
			ConstLabels: constLabels,
		}, []string{"role", "outcome"}),
		scopesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_scopes_skipped_total",
			Help:        "Units of work skipped during a pass, by reason.",
			ConstLabels: constLabels,
		}, []string{"role", "reason"}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_reprocess_purges_total",
			Help:        "Storage windows purged before being rated again.",
			ConstLabels: constLabels,
		}),
		ratingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_rating_module_failures_total",
			Help:        "Rating module process failures that aborted a period.",
			ConstLabels: constLabels,
		}, []string{"module"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_errors_total",
			Help:        "Unit-of-work errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"role", "reason"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_orchestrator_worker_restarts_total",
			Help:        "Processing loops restarted by the service manager.",
			ConstLabels: constLabels,
		}, []string{"role"}),
		moduleReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudkitty_rating_module_reloads_total",
			Help:        "Rating module reloads applied from broadcast notifications.",
			ConstLabels: constLabels,
		}, []string{"module"}),
	}

	registerer.MustRegister(
		m.periods,
		m.periodDuration,
		m.passDuration,
		m.checkpointLag,
		m.lockAttempts,
		m.scopesSkipped,
		m.purges,
		m.ratingFailures,
		m.errors,
		m.workerRestarts,
		m.moduleReloads,
	)
	return m
}

func (m *OrchestratorMetrics) IncPeriod(role, outcome string) {
	if m == nil {
		return
	}
	m.periods.WithLabelValues(role, outcome).Inc()
}

func (m *OrchestratorMetrics) ObservePeriodDuration(role string, duration time.Duration) {
	if m == nil {
		return
	}
	m.periodDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func (m *OrchestratorMetrics) ObservePassDuration(role string, duration time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// ObserveCheckpointLag records how far behind wall time a rated period ends.
func (m *OrchestratorMetrics) ObserveCheckpointLag(role string, lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.checkpointLag.WithLabelValues(role).Observe(lag.Seconds())
}

func (m *OrchestratorMetrics) IncLockAttempt(role, outcome string) {
	if m == nil {
		return
	}
	m.lockAttempts.WithLabelValues(role, outcome).Inc()
}

func (m *OrchestratorMetrics) IncScopeSkipped(role, reason string) {
	if m == nil {
		return
	}
	m.scopesSkipped.WithLabelValues(role, reason).Inc()
}

func (m *OrchestratorMetrics) IncReprocessPurge() {
	if m == nil {
		return
	}
	m.purges.Inc()
}

func (m *OrchestratorMetrics) IncRatingFailure(module string) {
	if m == nil {
		return
	}
	m.ratingFailures.WithLabelValues(module).Inc()
}

func (m *OrchestratorMetrics) IncWorkerRestart(role string) {
	if m == nil {
		return
	}
	m.workerRestarts.WithLabelValues(role).Inc()
}

func (m *OrchestratorMetrics) IncModuleReload(module string) {
	if m == nil {
		return
	}
	m.moduleReloads.WithLabelValues(module).Inc()
}

// IncError classifies err and counts it for the role.
func (m *OrchestratorMetrics) IncError(role string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(role, ClassifyFailureReason(err)).Inc()
}

// ClassifyFailureReason maps unit-of-work errors to low-cardinality reasons.
func ClassifyFailureReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ReasonDB
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
