package license

import (
	"fmt"
	"time"

	"smallbiznis-academy/pkg/errutil"
)

type ActionKind string

var (
	AddEnrollment ActionKind = "ADD_ENROLLMENT"
	AddUser       ActionKind = "ADD_USER"
)

// Action is a proposed change under a company's license. Current is the number of
// live enrollments (AddEnrollment) or user accounts (AddUser) the company already holds.
type Action struct {
	Kind      ActionKind
	CompanyID string
	Current   int64
}

type Decision struct {
	Allowed bool           `json:"allowed"`
	Reason  errutil.Reason `json:"reason,omitempty"`
	Message string         `json:"message,omitempty"`
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason errutil.Reason, msg string) Decision {
	return Decision{Reason: reason, Message: msg}
}

// Err is nil for an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errutil.Rejected(d.Reason, d.Message)
}

// EffectiveStatus applies read-time expiry: a TRIAL or ACTIVE license past
// end date plus grace is EXPIRED whatever is stored.
func EffectiveStatus(l *License, now time.Time) Status {
	if l == nil {
		return ""
	}
	if (l.Status == Active || l.Status == Trial) && now.After(l.GraceEndsAt()) {
		return Expired
	}
	return l.Status
}

// Evaluate decides whether the action is entitled. It has no side effects.
func Evaluate(l *License, a Action, now time.Time) Decision {
	if l == nil {
		return Deny(errutil.ReasonLicenseNotActive, fmt.Sprintf("company %s has no license", a.CompanyID))
	}

	switch status := EffectiveStatus(l, now); status {
	case Suspended, Expired, Cancelled:
		return Deny(errutil.ReasonLicenseNotActive, fmt.Sprintf("license is %s", status))
	}

	switch a.Kind {
	case AddEnrollment:
		if l.MaxEnrollments != nil && a.Current >= *l.MaxEnrollments {
			return Deny(errutil.ReasonEnrollmentCapExceeded,
				fmt.Sprintf("company holds %d of %d enrollments", a.Current, *l.MaxEnrollments))
		}
	case AddUser:
		if l.MaxUsers != nil && a.Current >= *l.MaxUsers {
			return Deny(errutil.ReasonUserCapExceeded,
				fmt.Sprintf("company holds %d of %d users", a.Current, *l.MaxUsers))
		}
	}

	return Allow()
}
