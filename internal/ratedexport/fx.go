package ratedexport

import "go.uber.org/fx"

var Module = fx.Module("ratedexport",
	fx.Provide(New),
)
