package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/collector"
	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	obscontext "github.com/smallbiznis/cloudkitty/internal/observability/context"
	obslogger "github.com/smallbiznis/cloudkitty/internal/observability/logger"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	obstracing "github.com/smallbiznis/cloudkitty/internal/observability/tracing"
	scopedomain "github.com/smallbiznis/cloudkitty/internal/scope/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "cloudkitty/orchestrator"

type outcome int

const (
	outcomeNoPeriod outcome = iota
	outcomeInactive
	outcomeProcessed
)

// progress is where a worker reads its next period and records completed
// ones: the scope state for normal processing, a schedule for reprocessing.
type progress interface {
	next(ctx context.Context) (ts *time.Time, fresh bool, err error)
	prepare(ctx context.Context, start, end time.Time) error
	commit(ctx context.Context, end time.Time) error
}

// Worker rates the pending periods of one scope, oldest first.
type Worker struct {
	deps     Deps
	cfg      Config
	rater    Rater
	scopeID  string
	keys     scopedomain.Keys
	workerID int
	role     string
	log      *zap.Logger
	metrics  *metrics.OrchestratorMetrics
	tracer   trace.Tracer
	progress progress
}

func NewWorker(deps Deps, cfg Config, rater Rater, scopeID string, workerID int) *Worker {
	w := newWorker(deps, cfg, rater, scopeID, workerID, metrics.RoleProcessor)
	w.progress = scopeProgress{w}
	return w
}

func newWorker(deps Deps, cfg Config, rater Rater, scopeID string, workerID int, role string) *Worker {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		deps:     deps,
		cfg:      cfg,
		rater:    rater,
		scopeID:  scopeID,
		keys:     scopedomain.Keys{ScopeKey: cfg.ScopeKey},
		workerID: workerID,
		role:     role,
		log: log.Named("orchestrator.worker").With(
			zap.Int("worker_id", workerID),
			zap.String("role", role),
		),
		metrics: metrics.Orchestrator(),
		tracer:  otel.Tracer(tracerName),
	}
}

func (w *Worker) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, w.log)
}

// NextTimestampToProcess returns the start of the next rateable period, or
// nil when the scope is caught up.
func (w *Worker) NextTimestampToProcess(ctx context.Context) (*time.Time, error) {
	ts, _, err := w.progress.next(ctx)
	return ts, err
}

// ExecuteWorkerProcessing handles at most one period. It reports whether a
// period was pending, including for an inactive scope whose checkpoint is
// left untouched.
func (w *Worker) ExecuteWorkerProcessing(ctx context.Context) (bool, error) {
	out, err := w.execute(ctx)
	return out != outcomeNoPeriod, err
}

func (w *Worker) execute(ctx context.Context) (outcome, error) {
	ctx = obscontext.WithScopeID(ctx, w.scopeID)
	ts, fresh, err := w.progress.next(ctx)
	if err != nil {
		return outcomeNoPeriod, err
	}
	if ts == nil {
		w.logger(ctx).Debug("orchestrator.scope.caught_up")
		return outcomeNoPeriod, nil
	}

	if !fresh {
		active, err := w.deps.Scopes.IsStorageScopeActive(ctx, w.scopeID, w.keys)
		if err != nil {
			return outcomeNoPeriod, err
		}
		if !active {
			w.metrics.IncScopeSkipped(w.role, metrics.SkipReasonInactive)
			w.logger(ctx).Debug("orchestrator.scope.inactive", zap.Time("period_start", *ts))
			return outcomeInactive, nil
		}
	}

	if err := w.DoExecuteScopeProcessing(ctx, *ts); err != nil {
		return outcomeNoPeriod, err
	}
	return outcomeProcessed, nil
}

// Run drains every pending period. Cancellation is honoured between periods
// only.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		out, err := w.execute(ctx)
		if err != nil {
			return err
		}
		if out != outcomeProcessed {
			return nil
		}
	}
}

// DoExecuteScopeProcessing collects, rates and persists the period starting
// at start, then advances the checkpoint to its end. Metrics without data are
// skipped; the period itself still completes.
func (w *Worker) DoExecuteScopeProcessing(ctx context.Context, start time.Time) (err error) {
	ctx = context.WithoutCancel(ctx)
	ctx = obscontext.WithScopeID(ctx, w.scopeID)
	start = start.UTC()
	end := start.Add(w.cfg.Period)
	began := time.Now()

	ctx, span := w.tracer.Start(ctx, "orchestrator.period", trace.WithAttributes(
		attribute.String("scope_id", w.scopeID),
		attribute.String("role", w.role),
		attribute.String("period_start", start.Format(time.RFC3339)),
		attribute.String("period_end", end.Format(time.RFC3339)),
	))
	defer span.End()

	log := w.logger(ctx).With(zap.Time("period_start", start), zap.Time("period_end", end))
	result := metrics.PeriodOutcomeEmpty
	points := 0
	defer func() {
		if err != nil {
			result = metrics.PeriodOutcomeFailed
			span.RecordError(obstracing.SafeError(err))
			span.SetStatus(codes.Error, "period failed")
			w.metrics.IncError(w.role, err)
			log.Warn("orchestrator.period.failed", zap.Error(err))
		}
		w.metrics.IncPeriod(w.role, result)
		w.metrics.ObservePeriodDuration(w.role, time.Since(began))
	}()

	if err := w.progress.prepare(ctx, start, end); err != nil {
		return err
	}

	usage, err := w.doCollection(ctx, w.deps.metricTypes(), start, end)
	if err != nil {
		return err
	}

	// An empty frame is still pushed: the checkpoint only moves past a
	// period storage has acknowledged.
	frame, err := w.executeMeasurementsRating(ctx, start, end, usage)
	if err != nil {
		return err
	}
	if err := w.persistRatingData(ctx, frame); err != nil {
		return err
	}
	if points = frame.Len(); points > 0 {
		result = metrics.PeriodOutcomeRated
	}

	if err := w.progress.commit(ctx, end); err != nil {
		return err
	}
	w.metrics.ObserveCheckpointLag(w.role, w.deps.Clock.Now().Sub(end))
	log.Info("orchestrator.period.processed",
		zap.String("outcome", result),
		zap.Int("points", points),
	)
	return nil
}

// doCollection retrieves every metric type for the period, at most
// MaxThreads at a time. Metrics without data are left out.
func (w *Worker) doCollection(ctx context.Context, metricTypes []string, start, end time.Time) (map[string][]dataframe.DataPoint, error) {
	var (
		mu    sync.Mutex
		usage = make(map[string][]dataframe.DataPoint)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxThreads)
	for _, metricType := range metricTypes {
		g.Go(func() error {
			name, points, err := w.deps.Collector.Retrieve(gctx, metricType, start, end, w.scopeID)
			if errors.Is(err, collector.ErrNoDataCollected) {
				w.logger(ctx).Debug("orchestrator.collect.no_data",
					zap.String("metric_type", metricType),
					zap.Error(err),
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("collect %s: %w", metricType, err)
			}
			if len(points) == 0 {
				return nil
			}
			mu.Lock()
			usage[name] = append(usage[name], points...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return usage, nil
}

func (w *Worker) executeMeasurementsRating(ctx context.Context, start, end time.Time, usage map[string][]dataframe.DataPoint) (*dataframe.DataFrame, error) {
	frame := dataframe.FromUsage(start, end, usage)
	if w.rater == nil {
		return frame, nil
	}
	rated, err := w.rater.Process(ctx, frame)
	if err != nil {
		return nil, err
	}
	for _, metricType := range rated.Types() {
		w.deps.Otel.RecordRatedPoints(ctx, metricType, len(rated.Points(metricType)))
	}
	return rated, nil
}

func (w *Worker) persistRatingData(ctx context.Context, frame *dataframe.DataFrame) error {
	if err := w.deps.Storage.Push(ctx, []*dataframe.DataFrame{frame}, w.scopeID); err != nil {
		return fmt.Errorf("push rated frame: %w", err)
	}
	w.deps.Otel.RecordStoragePush(ctx, w.role)

	if err := w.deps.Exporter.Export(ctx, w.scopeID, frame); err != nil {
		w.logger(ctx).Warn("orchestrator.export.failed", zap.Error(err))
	}
	return nil
}

// scopeProgress keeps the checkpoint in the scope state store.
type scopeProgress struct {
	w *Worker
}

func (p scopeProgress) next(ctx context.Context) (*time.Time, bool, error) {
	w := p.w
	last, err := w.deps.Scopes.GetLastProcessedTimestamp(ctx, w.scopeID, w.keys)
	if err != nil {
		return nil, false, err
	}
	now := w.deps.Clock.Now()
	if last == nil {
		return NextTimestamp(MonthStart(now), now, w.cfg.Period, w.cfg.WaitPeriods), true, nil
	}
	return NextTimestamp(*last, now, w.cfg.Period, w.cfg.WaitPeriods), false, nil
}

func (scopeProgress) prepare(context.Context, time.Time, time.Time) error { return nil }

func (p scopeProgress) commit(ctx context.Context, end time.Time) error {
	return p.w.updateScopeProcessingState(ctx, end)
}

func (w *Worker) updateScopeProcessingState(ctx context.Context, end time.Time) error {
	if err := w.deps.Scopes.SetLastProcessedTimestamp(ctx, w.scopeID, end, w.keys); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
