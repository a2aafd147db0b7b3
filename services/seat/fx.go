package seat

import (
	"smallbiznis-academy/pkg/celengine"
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/services/license"

	"go.uber.org/fx"
)

var Module = fx.Module("seat.service",
	fx.Provide(
		celengine.New,
		entitlements,
		NewAllocator,
		NewService,
		fx.Annotate(models, fx.ResultTags(`group:"models"`)),
	),
	fx.Invoke(EnsureIndexes),
)

var Gateway = fx.Module("seat.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func entitlements(svc *license.Service) Entitlements {
	return svc
}

func models() db.Models {
	return db.Models{&CourseSession{}, &Enrollment{}}
}
