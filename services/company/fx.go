package company

import (
	"smallbiznis-academy/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("company.service",
	fx.Provide(
		NewService,
		fx.Annotate(models, fx.ResultTags(`group:"models"`)),
	),
)

var Gateway = fx.Module("company.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func models() db.Models {
	return db.Models{&Company{}}
}
