package enrollment

import (
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/services/person"
)

type Outcome string

var (
	Confirmed  Outcome = "CONFIRMED"
	Waitlisted Outcome = "WAITLISTED"
	Rejected   Outcome = "REJECTED"
)

// Request enrolls an existing person by id, or a person draft resolved by email.
type Request struct {
	PersonID  string        `json:"person_id"`
	Person    *person.Draft `json:"person"`
	CompanyID string        `json:"company_id"`
}

// Result is the typed outcome of one enrollment attempt. Business denials are
// results with a reason, never errors.
type Result struct {
	Status           Outcome        `json:"status"`
	Reason           errutil.Reason `json:"reason,omitempty"`
	Message          string         `json:"message,omitempty"`
	WaitlistPosition *int           `json:"waitlist_position,omitempty"`
	EnrollmentID     string         `json:"enrollment_id,omitempty"`
	Code             string         `json:"code,omitempty"`
	PersonID         string         `json:"person_id,omitempty"`
}

func rejected(reason errutil.Reason, msg string) *Result {
	return &Result{Status: Rejected, Reason: reason, Message: msg}
}

type BatchRequest struct {
	CompanyID string         `json:"company_id"`
	Persons   []person.Draft `json:"persons" binding:"required"`
}

// BatchResult holds one result per input person, in input order.
type BatchResult struct {
	Results    []*Result `json:"results"`
	Confirmed  int       `json:"confirmed"`
	Waitlisted int       `json:"waitlisted"`
	Rejected   int       `json:"rejected"`
}

func (b *BatchResult) add(r *Result) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case Confirmed:
		b.Confirmed++
	case Waitlisted:
		b.Waitlisted++
	default:
		b.Rejected++
	}
}

type CancelResult struct {
	Released bool    `json:"released"`
	Promoted *string `json:"promoted,omitempty"`
}
