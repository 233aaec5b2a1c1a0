package coordination

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("coordination",
	fx.Provide(NewFactory),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

func NewFactory(p Params) (Factory, error) {
	switch p.Config.Orchestrator.Coordination {
	case BackendRedis:
		return NewRedisFactory(p.Redis, p.Config.Orchestrator.LockTTL, p.Log)
	case BackendMemory, "":
		return NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("unknown coordination backend %q", p.Config.Orchestrator.Coordination)
	}
}
