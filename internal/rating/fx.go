package rating

import (
	"github.com/smallbiznis/cloudkitty/internal/rating/chain"
	"github.com/smallbiznis/cloudkitty/internal/rating/modules/hashmap"
	"github.com/smallbiznis/cloudkitty/internal/rating/modules/noop"
	"github.com/smallbiznis/cloudkitty/internal/rating/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.chain",
	fx.Provide(repository.ProvideState),
	fx.Provide(repository.ProvideMapping),
	fx.Provide(noop.New),
	fx.Provide(hashmap.New),
	fx.Provide(NewRegistry),
	fx.Provide(chain.NewFactory),
)

// NewRegistry lists the modules shipped with the processor. The order here
// breaks ties between equal priorities.
func NewRegistry(noopModule *noop.Module, hashmapModule *hashmap.Module) (*chain.Registry, error) {
	return chain.NewRegistry(
		noopModule,
		hashmapModule,
	)
}
