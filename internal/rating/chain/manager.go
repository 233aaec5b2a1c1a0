// Package chain assembles enabled rating modules into a priority-ordered
// pipeline and keeps it in sync with module state changes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/cloudkitty/internal/dataframe"
	"github.com/smallbiznis/cloudkitty/internal/messaging"
	"github.com/smallbiznis/cloudkitty/internal/observability/metrics"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Registry    *Registry
	States      ratingdomain.StateRepository
	Broadcaster messaging.Broadcaster
}

// Factory builds one Manager per processing loop. Managers share the
// registered module instances.
type Factory struct {
	db          *gorm.DB
	log         *zap.Logger
	registry    *Registry
	states      ratingdomain.StateRepository
	broadcaster messaging.Broadcaster
	metrics     *metrics.OrchestratorMetrics
}

func NewFactory(p Params) *Factory {
	return &Factory{
		db:          p.DB,
		log:         p.Log.Named("rating.chain"),
		registry:    p.Registry,
		states:      p.States,
		broadcaster: p.Broadcaster,
		metrics:     metrics.Orchestrator(),
	}
}

// New subscribes a Manager to module notifications and loads its chain.
func (f *Factory) New(ctx context.Context) (*Manager, error) {
	m := &Manager{
		db:          f.db,
		log:         f.log,
		registry:    f.registry,
		states:      f.states,
		broadcaster: f.broadcaster,
		metrics:     f.metrics,
		endpoint:    NewEndpoint(f.log),
	}
	if f.broadcaster != nil {
		sub, err := f.broadcaster.Subscribe(ctx, ratingdomain.Topic, m.endpoint.Handle)
		if err != nil {
			return nil, fmt.Errorf("subscribe rating topic: %w", err)
		}
		m.sub = sub
	}
	if err := m.Load(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

type Manager struct {
	db          *gorm.DB
	log         *zap.Logger
	registry    *Registry
	states      ratingdomain.StateRepository
	broadcaster messaging.Broadcaster
	metrics     *metrics.OrchestratorMetrics
	endpoint    *Endpoint
	sub         messaging.Subscription

	mu    sync.RWMutex
	chain []ratingdomain.Module
}

func (m *Manager) Close() {
	if m.sub != nil {
		_ = m.sub.Close()
	}
}

func (m *Manager) stateMap(ctx context.Context) (map[string]ratingdomain.ModuleState, error) {
	states, err := m.states.List(ctx, m.db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ratingdomain.ModuleState, len(states))
	for _, s := range states {
		out[s.Name] = s
	}
	return out, nil
}

func stateOf(states map[string]ratingdomain.ModuleState, name string) ratingdomain.ModuleState {
	if s, ok := states[name]; ok {
		return s
	}
	return ratingdomain.ModuleState{Name: name, Priority: ratingdomain.DefaultPriority}
}

// Load rebuilds the chain from the persisted module state: enabled modules
// only, highest priority value first, registration order on ties. Modules
// entering the chain with hot config get their rules loaded first.
func (m *Manager) Load(ctx context.Context) error {
	states, err := m.stateMap(ctx)
	if err != nil {
		return fmt.Errorf("load rating module state: %w", err)
	}

	type entry struct {
		module   ratingdomain.Module
		priority int
	}
	var entries []entry
	for _, mod := range m.registry.All() {
		s := stateOf(states, mod.Info().Name)
		if !s.Enabled {
			continue
		}
		entries = append(entries, entry{module: mod, priority: s.Priority})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	m.mu.RLock()
	previous := make(map[string]bool, len(m.chain))
	for _, mod := range m.chain {
		previous[mod.Info().Name] = true
	}
	m.mu.RUnlock()

	chain := make([]ratingdomain.Module, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		info := e.module.Info()
		if info.HotConfig && !previous[info.Name] {
			if err := e.module.ReloadConfig(ctx); err != nil {
				return fmt.Errorf("reload rating module %s: %w", info.Name, err)
			}
		}
		chain = append(chain, e.module)
		names = append(names, info.Name)
	}

	m.mu.Lock()
	m.chain = chain
	m.mu.Unlock()

	m.log.Info("rating.chain.loaded", zap.Strings("modules", names))
	return nil
}

// Chain returns the names of the loaded modules in execution order.
func (m *Manager) Chain() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.chain))
	for _, mod := range m.chain {
		names = append(names, mod.Info().Name)
	}
	return names
}

// Process threads frame through the chain in order. The first module error
// aborts rating and no frame is returned.
func (m *Manager) Process(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	m.mu.RLock()
	chain := append([]ratingdomain.Module(nil), m.chain...)
	m.mu.RUnlock()

	current := frame
	for _, mod := range chain {
		name := mod.Info().Name
		out, err := mod.Process(ctx, current)
		if err != nil {
			m.metrics.IncRatingFailure(name)
			return nil, fmt.Errorf("rating module %s: %w", name, err)
		}
		if out == nil {
			m.metrics.IncRatingFailure(name)
			return nil, fmt.Errorf("rating module %s returned no frame", name)
		}
		current = out
	}
	return current, nil
}

// Quote prices a copy of frame; the input is left untouched.
func (m *Manager) Quote(ctx context.Context, frame *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	return m.Process(ctx, frame.Clone())
}

// Modules lists every registered module with its live state.
func (m *Manager) Modules(ctx context.Context) ([]ratingdomain.ModuleInfo, error) {
	states, err := m.stateMap(ctx)
	if err != nil {
		return nil, err
	}
	mods := m.registry.All()
	out := make([]ratingdomain.ModuleInfo, 0, len(mods))
	for _, mod := range mods {
		info := mod.Info()
		s := stateOf(states, info.Name)
		info.Enabled = s.Enabled
		info.Priority = s.Priority
		out = append(out, info)
	}
	return out, nil
}

func (m *Manager) lookup(name string) (string, error) {
	name = strings.TrimSpace(name)
	if _, ok := m.registry.Get(name); !ok {
		return "", fmt.Errorf("%w: %s", ratingdomain.ErrModuleNotFound, name)
	}
	return name, nil
}

// SetState persists the enabled flag and tells every process to reload.
func (m *Manager) SetState(ctx context.Context, name string, enabled bool) error {
	name, err := m.lookup(name)
	if err != nil {
		return err
	}
	if err := m.states.SetState(ctx, m.db, name, enabled); err != nil {
		return err
	}
	op := ratingdomain.OpDisableModule
	if enabled {
		op = ratingdomain.OpEnableModule
	}
	m.log.Info("rating.module.state_changed", zap.String("module", name), zap.Bool("enabled", enabled))
	return m.cast(ctx, messaging.Message{Operation: op, Name: name})
}

// SetPriority persists the priority and tells every process to reload.
func (m *Manager) SetPriority(ctx context.Context, name string, priority int) error {
	if priority < 1 {
		return ratingdomain.ErrInvalidPriority
	}
	name, err := m.lookup(name)
	if err != nil {
		return err
	}
	if err := m.states.SetPriority(ctx, m.db, name, priority); err != nil {
		return err
	}
	m.log.Info("rating.module.priority_changed", zap.String("module", name), zap.Int("priority", priority))
	return m.cast(ctx, messaging.Message{Operation: ratingdomain.OpReloadModule, Name: name})
}

// NotifyReload asks every process to reload the rules of one module.
func (m *Manager) NotifyReload(ctx context.Context, name string) error {
	name, err := m.lookup(name)
	if err != nil {
		return err
	}
	return m.cast(ctx, messaging.Message{Operation: ratingdomain.OpReloadModule, Name: name})
}

// ReloadModules asks every process to rebuild its chain and reload all
// hot-config modules.
func (m *Manager) ReloadModules(ctx context.Context) error {
	return m.cast(ctx, messaging.Message{Operation: ratingdomain.OpReloadModules})
}

func (m *Manager) cast(ctx context.Context, msg messaging.Message) error {
	if m.broadcaster == nil {
		m.endpoint.Handle(ctx, msg)
		return nil
	}
	return m.broadcaster.Cast(ctx, ratingdomain.Topic, msg)
}

// ApplyPending applies queued notifications: the chain is rebuilt from the
// store and every named hot-config module in it reloads its rules. Reload
// failures are logged; the module keeps its previous rules.
func (m *Manager) ApplyPending(ctx context.Context) error {
	names, all, ok := m.endpoint.take()
	if !ok {
		return nil
	}
	if err := m.Load(ctx); err != nil {
		m.endpoint.requeueAll()
		return err
	}

	inChain := make(map[string]bool)
	for _, name := range m.Chain() {
		inChain[name] = true
	}

	var targets []ratingdomain.Module
	if all {
		targets = m.registry.All()
	} else {
		for _, name := range names {
			if mod, ok := m.registry.Get(name); ok {
				targets = append(targets, mod)
			}
		}
	}

	var errs []error
	for _, mod := range targets {
		info := mod.Info()
		if !info.HotConfig || !inChain[info.Name] {
			continue
		}
		if err := mod.ReloadConfig(ctx); err != nil {
			m.log.Warn("rating.module.reload_failed", zap.String("module", info.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.metrics.IncModuleReload(info.Name)
		m.log.Info("rating.module.reloaded", zap.String("module", info.Name))
	}
	if len(errs) > 0 {
		m.log.Warn("rating.chain.reload_incomplete", zap.Error(errors.Join(errs...)))
	}
	return nil
}
