package fetcher

import (
	"fmt"

	"github.com/smallbiznis/cloudkitty/internal/clock"
	collectorprom "github.com/smallbiznis/cloudkitty/internal/collector/prometheus"
	"github.com/smallbiznis/cloudkitty/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("fetcher",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	API    collectorprom.QueryAPI `optional:"true"`
}

func New(p Params) (Fetcher, error) {
	switch p.Config.Fetcher.Backend {
	case BackendSource:
		return NewSource(p.Config.Fetcher.Sources), nil
	case BackendPrometheus:
		if p.API == nil {
			return nil, collectorprom.ErrUnavailable
		}
		return NewPrometheus(p.API, p.Config.Fetcher, p.Clock.Now)
	default:
		return nil, fmt.Errorf("unknown fetcher backend %q", p.Config.Fetcher.Backend)
	}
}
