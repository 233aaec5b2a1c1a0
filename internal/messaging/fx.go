package messaging

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("messaging",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

func New(p Params) (Broadcaster, error) {
	var (
		b   Broadcaster
		err error
	)
	switch p.Config.MessagingBackend {
	case BackendRedis:
		b, err = NewRedisBroadcaster(p.Redis, p.Log)
	case BackendMemory, "":
		b = NewMemoryBroadcaster()
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", p.Config.MessagingBackend)
	}
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return b.Close()
		},
	})
	return b, nil
}
