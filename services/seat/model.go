package seat

import (
	"time"
)

type SessionStatus string

var (
	SessionDraft     SessionStatus = "DRAFT"
	SessionOpen      SessionStatus = "OPEN"
	SessionFull      SessionStatus = "FULL"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

func (s SessionStatus) String() string {
	switch s {
	case SessionDraft, SessionOpen, SessionFull, SessionCompleted, SessionCancelled:
		return string(s)
	default:
		return ""
	}
}

// CourseSession is one time-boxed offering. ConfirmedCount and WaitlistCount are the
// seat ledger, always mutated in the transaction that changes the enrollments they count.
type CourseSession struct {
	ID             string        `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at" json:"updated_at"`
	Code           string        `gorm:"column:code;uniqueIndex" json:"code"`
	Title          string        `gorm:"column:title" json:"title"`
	Capacity       int           `gorm:"column:capacity" json:"capacity"`
	Status         SessionStatus `gorm:"column:status;index" json:"status"`
	StartsAt       time.Time     `gorm:"column:starts_at;index" json:"starts_at"`
	EndsAt         time.Time     `gorm:"column:ends_at;index" json:"ends_at"`
	ConfirmedCount int           `gorm:"column:confirmed_count" json:"confirmed_count"`
	WaitlistCount  int           `gorm:"column:waitlist_count" json:"waitlist_count"`
	Eligibility    string        `gorm:"column:eligibility" json:"eligibility,omitempty"`
	CompletedAt    *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CancelledAt    *time.Time    `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
}

// EffectiveStatus is the stored status corrected for time: a session that has
// started no longer takes seats, whether or not the sweeper has run.
func (s *CourseSession) EffectiveStatus(now time.Time) SessionStatus {
	if !now.After(s.StartsAt) {
		return s.Status
	}
	switch s.Status {
	case SessionOpen, SessionFull:
		return SessionCompleted
	case SessionDraft:
		return SessionCancelled
	}
	return s.Status
}

// Bookable reports whether Reserve may run against the session.
func (s *CourseSession) Bookable(now time.Time) bool {
	switch s.EffectiveStatus(now) {
	case SessionDraft, SessionOpen, SessionFull:
		return true
	}
	return false
}

type EnrollmentStatus string

var (
	EnrollmentPending   EnrollmentStatus = "PENDING"
	EnrollmentConfirmed EnrollmentStatus = "CONFIRMED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
)

func (s EnrollmentStatus) String() string {
	switch s {
	case EnrollmentPending, EnrollmentConfirmed, EnrollmentCancelled, EnrollmentCompleted:
		return string(s)
	default:
		return ""
	}
}

// LiveEnrollmentStatuses hold a seat or a waitlist place.
var LiveEnrollmentStatuses = []EnrollmentStatus{EnrollmentPending, EnrollmentConfirmed}

type Enrollment struct {
	ID               string           `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt        time.Time        `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updated_at"`
	Code             string           `gorm:"column:code;index" json:"code"`
	PersonID         string           `gorm:"column:person_id;index" json:"person_id"`
	SessionID        string           `gorm:"column:session_id;index" json:"session_id"`
	CompanyID        *string          `gorm:"column:company_id;index" json:"company_id,omitempty"`
	Status           EnrollmentStatus `gorm:"column:status;index" json:"status"`
	IsWaitlisted     bool             `gorm:"column:is_waitlisted" json:"is_waitlisted"`
	WaitlistPosition *int             `gorm:"column:waitlist_position" json:"waitlist_position,omitempty"`
	ConfirmedAt      *time.Time       `gorm:"column:confirmed_at" json:"confirmed_at,omitempty"`
	PromotedAt       *time.Time       `gorm:"column:promoted_at" json:"promoted_at,omitempty"`
	CancelledAt      *time.Time       `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (e *Enrollment) Live() bool {
	return e.Status == EnrollmentPending || e.Status == EnrollmentConfirmed
}
