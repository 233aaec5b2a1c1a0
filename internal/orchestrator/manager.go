package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/cloudkitty/internal/coordination"
	"github.com/smallbiznis/cloudkitty/internal/fetcher"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	"github.com/smallbiznis/cloudkitty/internal/rating/chain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const terminateTimeout = 10 * time.Second

var (
	ErrLoopPanic  = errors.New("orchestrator_loop_panic")
	ErrLoopExited = errors.New("orchestrator_loop_exited")
)

// RatingChainFactory builds the rating pipeline of one loop. The returned
// func releases it.
type RatingChainFactory func(ctx context.Context) (RatingChain, func(), error)

func ChainFactory(f *chain.Factory) RatingChainFactory {
	return func(ctx context.Context) (RatingChain, func(), error) {
		m, err := f.New(ctx)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
}

type runner interface {
	Run(ctx context.Context) error
	Terminate(ctx context.Context) error
}

type ManagerParams struct {
	fx.In

	Deps         Deps
	Config       Config
	Fetcher      fetcher.Fetcher
	Coordination coordination.Factory
	NewChain     RatingChainFactory
	Log          *zap.Logger
}

// ServiceManager keeps MaxWorkers processor loops and MaxWorkersReprocessing
// reprocessor loops running. A loop that fails or panics is restarted with
// exponential backoff.
type ServiceManager struct {
	deps         Deps
	cfg          Config
	fetcher      fetcher.Fetcher
	coordination coordination.Factory
	newChain     RatingChainFactory
	log          *zap.Logger
	metrics      *metrics.OrchestratorMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServiceManager(p ManagerParams) *ServiceManager {
	return &ServiceManager{
		deps:         p.Deps,
		cfg:          p.Config.withDefaults(),
		fetcher:      p.Fetcher,
		coordination: p.Coordination,
		newChain:     p.NewChain,
		log:          p.Log.Named("orchestrator.manager"),
		metrics:      metrics.Orchestrator(),
	}
}

// Start spawns the loops. They outlive ctx and stop on Stop.
func (m *ServiceManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	for i := 0; i < m.cfg.MaxWorkers; i++ {
		m.spawn(runCtx, metrics.RoleProcessor, i)
	}
	for i := 0; i < m.cfg.MaxWorkersReprocessing; i++ {
		m.spawn(runCtx, metrics.RoleReprocessor, i)
	}
	m.log.Info("orchestrator.manager.started",
		zap.Int("processors", m.cfg.MaxWorkers),
		zap.Int("reprocessors", m.cfg.MaxWorkersReprocessing),
	)
	return nil
}

// Stop cancels the loops and waits for their in-flight unit to finish.
func (m *ServiceManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("orchestrator.manager.stopped")
		return nil
	case <-ctx.Done():
		m.log.Warn("orchestrator.manager.stop_timeout", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (m *ServiceManager) spawn(ctx context.Context, role string, workerID int) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.supervise(ctx, role, workerID)
	}()
}

func (m *ServiceManager) supervise(ctx context.Context, role string, workerID int) {
	log := m.log.With(zap.String("role", role), zap.Int("worker_id", workerID))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RestartInitialInterval
	b.MaxInterval = m.cfg.RestartMaxInterval
	b.Reset()

	for {
		started := time.Now()
		err := m.runLoop(ctx, role, workerID)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > m.cfg.RestartMaxInterval {
			b.Reset()
		}

		wait := b.NextBackOff()
		m.metrics.IncWorkerRestart(role)
		log.Error("orchestrator.loop.restarting", zap.Error(err), zap.Duration("backoff", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *ServiceManager) runLoop(ctx context.Context, role string, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoopPanic, r)
		}
	}()

	coordinator := m.coordination.New()
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	rating, release, err := m.newChain(ctx)
	if err != nil {
		_ = coordinator.Stop(context.WithoutCancel(ctx))
		return fmt.Errorf("build rating chain: %w", err)
	}
	defer release()

	var r runner
	switch role {
	case metrics.RoleReprocessor:
		r = NewReprocessor(m.deps, m.cfg, coordinator, rating, workerID)
	default:
		r = NewProcessor(m.deps, m.cfg, m.fetcher, coordinator, rating, workerID)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		defer cancel()
		if err := r.Terminate(stopCtx); err != nil {
			m.log.Warn("orchestrator.loop.terminate_failed", zap.String("role", role), zap.Error(err))
		}
	}()

	if err := r.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return ErrLoopExited
	}
	return nil
}
