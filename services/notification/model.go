package notification

import "time"

type EventType string

var (
	WaitlistPromoted    EventType = "WAITLIST_PROMOTED"
	EnrollmentConfirmed EventType = "ENROLLMENT_CONFIRMED"
	LicenseSuspended    EventType = "LICENSE_SUSPENDED"
)

func (t EventType) String() string {
	switch t {
	case WaitlistPromoted, EnrollmentConfirmed, LicenseSuspended:
		return string(t)
	default:
		return ""
	}
}

// Event is the payload handed to the external notification gateway.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	CompanyID    string    `json:"company_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	PersonID     string    `json:"person_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}
