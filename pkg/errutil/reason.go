package errutil

import "errors"

// Reason is the machine readable cause of a rejected business operation.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonLicenseNotActive       Reason = "LicenseNotActive"
	ReasonEnrollmentCapExceeded  Reason = "EnrollmentCapExceeded"
	ReasonUserCapExceeded        Reason = "UserCapExceeded"
	ReasonSessionNotOpen         Reason = "SessionNotOpen"
	ReasonInvalidTransition      Reason = "InvalidTransition"
	ReasonCapacityBelowConfirmed Reason = "CapacityBelowConfirmed"
	ReasonAllocationConflict     Reason = "AllocationConflict"
	ReasonDuplicateEnrollment    Reason = "DuplicateEnrollment"
	ReasonNotEligible            Reason = "NotEligible"
)

func (r Reason) String() string {
	return string(r)
}

// Status returns the transport status a reason is reported with.
func (r Reason) Status() CoreStatus {
	switch r {
	case ReasonLicenseNotActive, ReasonEnrollmentCapExceeded, ReasonUserCapExceeded, ReasonNotEligible:
		return StatusForbidden
	case ReasonSessionNotOpen, ReasonInvalidTransition, ReasonCapacityBelowConfirmed:
		return StatusUnprocessableEntity
	case ReasonDuplicateEnrollment, ReasonAllocationConflict:
		return StatusConflict
	default:
		return StatusUnknown
	}
}

// Rejected builds a BaseError carrying a business reason.
func Rejected(reason Reason, msg string, options ...Option) error {
	return New(reason.Status(), msg, append([]Option{WithReason(reason)}, options...)...)
}

// ReasonOf extracts the business reason from err, if any.
func ReasonOf(err error) Reason {
	var be BaseError
	if errors.As(err, &be) {
		return be.Reason
	}
	return ReasonNone
}

// IsReason reports whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	return err != nil && ReasonOf(err) == reason
}
