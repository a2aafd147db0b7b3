package enrollment

import "go.uber.org/fx"

var Module = fx.Module("enrollment.service",
	fx.Provide(NewService),
)

var Gateway = fx.Module("enrollment.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
