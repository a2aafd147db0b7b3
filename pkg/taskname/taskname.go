package taskname

const (
	// Sweeper tasks
	SweepRun = "academy:sweep:run"

	// Outbound notification gateway
	NotificationDispatch = "notification:dispatch"
)

// Queues, highest priority first.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
