package orchestrator

import "go.uber.org/fx"

var Module = fx.Module("orchestrator",
	fx.Provide(ProvideConfig),
	fx.Provide(ChainFactory),
	fx.Provide(NewServiceManager),
	fx.Invoke(registerServiceManager),
)

func registerServiceManager(lc fx.Lifecycle, m *ServiceManager) {
	lc.Append(fx.Hook{
		OnStart: m.Start,
		OnStop:  m.Stop,
	})
}
