package scope

import (
	"github.com/smallbiznis/cloudkitty/internal/scope/repository"
	"github.com/smallbiznis/cloudkitty/internal/scope/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scope.store",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
