package chain

import (
	"context"
	"sort"
	"sync"

	"github.com/smallbiznis/cloudkitty/internal/messaging"
	ratingdomain "github.com/smallbiznis/cloudkitty/internal/rating/domain"
	"go.uber.org/zap"
)

// Endpoint receives module notifications and queues them until the owning
// loop applies them between passes.
type Endpoint struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	all     bool
}

func NewEndpoint(log *zap.Logger) *Endpoint {
	return &Endpoint{
		log:     log,
		pending: make(map[string]struct{}),
	}
}

func (e *Endpoint) Handle(_ context.Context, msg messaging.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.Operation {
	case ratingdomain.OpReloadModules:
		e.all = true
	case ratingdomain.OpEnableModule, ratingdomain.OpDisableModule, ratingdomain.OpReloadModule:
		if msg.Name == "" {
			e.log.Warn("rating.endpoint.missing_name", zap.String("operation", msg.Operation))
			return
		}
		e.pending[msg.Name] = struct{}{}
	default:
		e.log.Warn("rating.endpoint.unknown_operation", zap.String("operation", msg.Operation))
		return
	}
	e.log.Debug("rating.endpoint.queued",
		zap.String("operation", msg.Operation),
		zap.String("module", msg.Name),
	)
}

// take drains the queue; ok is false when nothing is pending.
func (e *Endpoint) take() (names []string, all bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.all && len(e.pending) == 0 {
		return nil, false, false
	}
	for name := range e.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	all = e.all
	e.pending = make(map[string]struct{})
	e.all = false
	return names, all, true
}

func (e *Endpoint) requeueAll() {
	e.mu.Lock()
	e.all = true
	e.mu.Unlock()
}
