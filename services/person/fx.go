package person

import (
	"smallbiznis-academy/pkg/db"

	"go.uber.org/fx"
)

var Module = fx.Module("person.service",
	fx.Provide(
		NewService,
		fx.Annotate(models, fx.ResultTags(`group:"models"`)),
	),
)

func models() db.Models {
	return db.Models{&Person{}}
}
