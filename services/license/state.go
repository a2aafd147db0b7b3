package license

import "smallbiznis-academy/pkg/statemachine"

type Event string

var (
	EventActivate Event = "activate"
	EventSuspend  Event = "suspend"
	EventResume   Event = "resume"
	EventExpire   Event = "expire"
	EventCancel   Event = "cancel"
	EventUpdate   Event = "update"
)

type edge = statemachine.Edge[Status, Event]

// Lifecycle is the only place license transitions are defined.
var Lifecycle = statemachine.New("license",
	edge{From: []Status{Trial}, Event: EventActivate, To: Active},
	edge{From: []Status{Trial, Active}, Event: EventSuspend, To: Suspended},
	edge{From: []Status{Suspended, Expired}, Event: EventResume, To: Active},
	edge{From: []Status{Trial, Active}, Event: EventExpire, To: Expired},
	edge{From: []Status{Trial, Active, Suspended, Expired}, Event: EventCancel, To: Cancelled},

	// updates keep the status, they are only refused once cancelled
	edge{From: []Status{Trial}, Event: EventUpdate, To: Trial},
	edge{From: []Status{Active}, Event: EventUpdate, To: Active},
	edge{From: []Status{Suspended}, Event: EventUpdate, To: Suspended},
	edge{From: []Status{Expired}, Event: EventUpdate, To: Expired},
)
