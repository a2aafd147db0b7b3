package seat

import "smallbiznis-academy/pkg/statemachine"

type SessionEvent string

var (
	SessionPublish  SessionEvent = "publish"
	SessionFill     SessionEvent = "fill"
	SessionFree     SessionEvent = "free"
	SessionComplete SessionEvent = "complete"
	SessionCancel   SessionEvent = "cancel"
)

var SessionLifecycle = statemachine.New("session",
	statemachine.Edge[SessionStatus, SessionEvent]{From: []SessionStatus{SessionDraft}, Event: SessionPublish, To: SessionOpen},
	statemachine.Edge[SessionStatus, SessionEvent]{From: []SessionStatus{SessionOpen}, Event: SessionFill, To: SessionFull},
	statemachine.Edge[SessionStatus, SessionEvent]{From: []SessionStatus{SessionFull}, Event: SessionFree, To: SessionOpen},
	statemachine.Edge[SessionStatus, SessionEvent]{From: []SessionStatus{SessionOpen, SessionFull}, Event: SessionComplete, To: SessionCompleted},
	statemachine.Edge[SessionStatus, SessionEvent]{From: []SessionStatus{SessionDraft, SessionOpen, SessionFull}, Event: SessionCancel, To: SessionCancelled},
)

type EnrollmentEvent string

var (
	EnrollmentConfirm  EnrollmentEvent = "confirm"
	EnrollmentCancel   EnrollmentEvent = "cancel"
	EnrollmentComplete EnrollmentEvent = "complete"
)

var EnrollmentLifecycle = statemachine.New("enrollment",
	statemachine.Edge[EnrollmentStatus, EnrollmentEvent]{From: []EnrollmentStatus{EnrollmentPending}, Event: EnrollmentConfirm, To: EnrollmentConfirmed},
	statemachine.Edge[EnrollmentStatus, EnrollmentEvent]{From: []EnrollmentStatus{EnrollmentPending, EnrollmentConfirmed}, Event: EnrollmentCancel, To: EnrollmentCancelled},
	statemachine.Edge[EnrollmentStatus, EnrollmentEvent]{From: []EnrollmentStatus{EnrollmentConfirmed}, Event: EnrollmentComplete, To: EnrollmentCompleted},
)

// settle re-derives OPEN/FULL from the counters. Other statuses are left alone.
func settle(s *CourseSession) {
	switch {
	case s.Status == SessionOpen && s.ConfirmedCount >= s.Capacity:
		s.Status, _ = SessionLifecycle.Next(s.Status, SessionFill)
	case s.Status == SessionFull && s.ConfirmedCount < s.Capacity:
		s.Status, _ = SessionLifecycle.Next(s.Status, SessionFree)
	}
}
