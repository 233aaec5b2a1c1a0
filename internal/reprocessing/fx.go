package reprocessing

import (
	"github.com/smallbiznis/cloudkitty/internal/reprocessing/repository"
	"github.com/smallbiznis/cloudkitty/internal/reprocessing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reprocessing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewStore),
	fx.Provide(service.New),
)
