package license

import (
	"smallbiznis-academy/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("license.service",
	fx.Provide(
		NewService,
		fx.Annotate(models, fx.ResultTags(`group:"models"`)),
	),
)

var Gateway = fx.Module("license.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func models() db.Models {
	return db.Models{&License{}, &LicenseEvent{}}
}
