package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.publisher",
	fx.Provide(NewPublisher),
)

// Worker delivers queued notifications to the gateway.
var Worker = fx.Module("notification.worker",
	fx.Provide(NewSink, NewDispatcher),
	fx.Invoke(RegisterHandlers),
)
