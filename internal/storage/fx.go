package storage

import (
	"github.com/smallbiznis/cloudkitty/internal/storage/repository"
	"github.com/smallbiznis/cloudkitty/internal/storage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("storage.sql",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
