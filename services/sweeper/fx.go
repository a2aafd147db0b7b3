package sweeper

import (
	"smallbiznis-academy/pkg/db"
	"smallbiznis-academy/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper.service",
	fx.Provide(
		NewService,
		fx.Annotate(models, fx.ResultTags(`group:"models"`)),
	),
)

// Worker runs sweeps from the queue and schedules them on the interval.
var Worker = fx.Module("sweeper.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterHandlers, StartScheduler),
)

var Gateway = fx.Module("sweeper.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.SweepRun, svc.ProcessTask)
}

func models() db.Models {
	return db.Models{&SweepJob{}}
}
