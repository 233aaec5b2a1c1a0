package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/smallbiznis/cloudkitty/internal/coordination"
	"github.com/smallbiznis/cloudkitty/internal/fetcher"
	obscontext "github.com/smallbiznis/cloudkitty/internal/observability/context"
	obslogger "github.com/smallbiznis/cloudkitty/internal/observability/logger"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	reprocessingdomain "github.com/smallbiznis/cloudkitty/internal/reprocessing/domain"
	"go.uber.org/zap"
)

// RatingChain is the per-loop rating pipeline. *chain.Manager implements it.
type RatingChain interface {
	Rater
	ApplyPending(ctx context.Context) error
}

// loop is the pass machinery shared by Processor and Reprocessor.
type loop struct {
	deps        Deps
	cfg         Config
	coordinator coordination.Coordinator
	rating      RatingChain
	workerID    int
	role        string
	log         *zap.Logger
	metrics     *metrics.OrchestratorMetrics
}

func newLoop(deps Deps, cfg Config, coordinator coordination.Coordinator, rating RatingChain, workerID int, role string) loop {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return loop{
		deps:        deps,
		cfg:         cfg.withDefaults(),
		coordinator: coordinator,
		rating:      rating,
		workerID:    workerID,
		role:        role,
		log:         log.Named("orchestrator." + role).With(zap.Int("worker_id", workerID)),
		metrics:     metrics.Orchestrator(),
	}
}

func (l *loop) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, l.log)
}

func (l *loop) passContext(ctx context.Context) context.Context {
	ctx = obscontext.WithWorker(ctx, fmt.Sprintf("%s-%d", l.role, l.workerID))
	if l.deps.GenID != nil {
		ctx = obscontext.WithRunID(ctx, l.deps.GenID.Generate().String())
	}
	return ctx
}

// applyPending picks up rating module changes broadcast since the last pass.
func (l *loop) applyPending(ctx context.Context) {
	if l.rating == nil {
		return
	}
	if err := l.rating.ApplyPending(ctx); err != nil {
		l.logger(ctx).Warn("orchestrator.rating.reload_failed", zap.Error(err))
	}
}

// withLock runs fn under the named lock. A lock held elsewhere skips fn and
// reports false.
func (l *loop) withLock(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	key, lock := l.coordinator.GetLock(name)
	log := l.logger(ctx).With(zap.String("lock", name), zap.String("lock_key", key))

	acquired, err := lock.Acquire(ctx, false)
	if err != nil {
		l.metrics.IncLockAttempt(l.role, metrics.LockOutcomeError)
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		l.metrics.IncLockAttempt(l.role, metrics.LockOutcomeContended)
		l.metrics.IncScopeSkipped(l.role, metrics.SkipReasonLockHeld)
		log.Debug("orchestrator.scope.locked")
		return false, nil
	}
	l.metrics.IncLockAttempt(l.role, metrics.LockOutcomeAcquired)

	runErr := fn(ctx)
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		log.Warn("orchestrator.lock.release_failed", zap.Error(err))
	}
	return true, runErr
}

func (l *loop) sleep(ctx context.Context) {
	timer := time.NewTimer(l.cfg.PassInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Terminate leaves the lock group. Locks still held by this member are
// released.
func (l *loop) Terminate(ctx context.Context) error {
	if l.coordinator == nil {
		return nil
	}
	return l.coordinator.Stop(ctx)
}

// Processor rates the scopes returned by the fetcher.
type Processor struct {
	loop
	fetcher fetcher.Fetcher
}

func NewProcessor(deps Deps, cfg Config, f fetcher.Fetcher, coordinator coordination.Coordinator, rating RatingChain, workerID int) *Processor {
	return &Processor{
		loop:    newLoop(deps, cfg, coordinator, rating, workerID, metrics.RoleProcessor),
		fetcher: f,
	}
}

// LoadScopesToProcess returns the fetched scopes in random order so that
// concurrent processors start on different scopes.
func (p *Processor) LoadScopesToProcess(ctx context.Context) ([]string, error) {
	scopes, err := p.fetcher.GetTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scopes: %w", err)
	}
	rand.Shuffle(len(scopes), func(i, j int) {
		scopes[i], scopes[j] = scopes[j], scopes[i]
	})
	return scopes, nil
}

func (p *Processor) GenerateLockBaseName(scopeID string) string {
	return scopeID
}

// InternalRun makes one pass over the scopes. Scopes locked by another
// member are skipped until the next pass.
func (p *Processor) InternalRun(ctx context.Context) error {
	ctx = p.passContext(ctx)
	started := time.Now()
	defer func() { p.metrics.ObservePassDuration(p.role, time.Since(started)) }()

	p.applyPending(ctx)
	scopes, err := p.LoadScopesToProcess(ctx)
	if err != nil {
		return err
	}

	var errs []error
	processed := 0
	for _, scopeID := range scopes {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.withLock(ctx, p.GenerateLockBaseName(scopeID), func(ctx context.Context) error {
			return p.ProcessScope(ctx, scopeID)
		})
		if err != nil {
			p.logger(ctx).Warn("orchestrator.scope.failed", zap.String("scope_id", scopeID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			processed++
		}
	}
	p.logger(ctx).Debug("orchestrator.pass.finished",
		zap.Int("scopes", len(scopes)),
		zap.Int("processed", processed),
		zap.Int("error_count", len(errs)),
	)
	return errors.Join(errs...)
}

// ProcessScope drains the pending periods of one scope.
func (p *Processor) ProcessScope(ctx context.Context, scopeID string) error {
	worker := NewWorker(p.deps, p.cfg, p.rating, scopeID, p.workerID)
	next, err := worker.NextTimestampToProcess(ctx)
	if err != nil {
		return err
	}
	if next == nil {
		p.metrics.IncScopeSkipped(p.role, metrics.SkipReasonNoPeriod)
		return nil
	}
	return worker.Run(ctx)
}

// Run repeats passes until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger(ctx).Info("orchestrator.processor.started", zap.String("member_id", p.coordinator.MemberID()))
	for ctx.Err() == nil {
		if err := p.InternalRun(ctx); err != nil {
			p.metrics.IncError(p.role, err)
		}
		p.sleep(ctx)
	}
	p.logger(ctx).Info("orchestrator.processor.stopped")
	return nil
}

// Reprocessor works through the unfinished reprocessing schedules.
type Reprocessor struct {
	loop
}

func NewReprocessor(deps Deps, cfg Config, coordinator coordination.Coordinator, rating RatingChain, workerID int) *Reprocessor {
	return &Reprocessor{
		loop: newLoop(deps, cfg, coordinator, rating, workerID, metrics.RoleReprocessor),
	}
}

func (r *Reprocessor) LoadScopesToProcess(ctx context.Context) ([]reprocessingdomain.Schedule, error) {
	schedules, err := r.deps.Schedules.GetAll(ctx, reprocessingdomain.ListFilter{
		Order: reprocessingdomain.OrderAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("load reprocessing schedules: %w", err)
	}
	return schedules, nil
}

// GenerateLockBaseName keys the lock on the window as well as the scope, so
// distinct windows of one scope do not contend.
func (r *Reprocessor) GenerateLockBaseName(schedule reprocessingdomain.Schedule) string {
	return fmt.Sprintf("ReprocessingWorker-%s-%s-%s",
		schedule.Identifier,
		schedule.StartReprocessTime.UTC().Format(time.RFC3339),
		schedule.EndReprocessTime.UTC().Format(time.RFC3339),
	)
}

func (r *Reprocessor) InternalRun(ctx context.Context) error {
	ctx = r.passContext(ctx)
	started := time.Now()
	defer func() { r.metrics.ObservePassDuration(r.role, time.Since(started)) }()

	r.applyPending(ctx)
	schedules, err := r.LoadScopesToProcess(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, schedule := range schedules {
		if ctx.Err() != nil {
			break
		}
		_, err := r.withLock(ctx, r.GenerateLockBaseName(schedule), func(ctx context.Context) error {
			return r.ProcessScope(ctx, schedule)
		})
		if err != nil {
			r.logger(ctx).Warn("orchestrator.schedule.failed",
				zap.Int64("schedule_id", schedule.ID),
				zap.String("scope_id", schedule.Identifier),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reprocessor) ProcessScope(ctx context.Context, schedule reprocessingdomain.Schedule) error {
	if GenerateNextTimestamp(schedule) == nil {
		r.metrics.IncScopeSkipped(r.role, metrics.SkipReasonNoPeriod)
		return nil
	}
	worker, err := NewReprocessingWorker(ctx, r.deps, r.cfg, r.rating, schedule, r.workerID)
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}

func (r *Reprocessor) Run(ctx context.Context) error {
	r.logger(ctx).Info("orchestrator.reprocessor.started", zap.String("member_id", r.coordinator.MemberID()))
	for ctx.Err() == nil {
		if err := r.InternalRun(ctx); err != nil {
			r.metrics.IncError(r.role, err)
		}
		r.sleep(ctx)
	}
	r.logger(ctx).Info("orchestrator.reprocessor.stopped")
	return nil
}
