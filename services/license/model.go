package license

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

var (
	Trial     Status = "TRIAL"
	Active    Status = "ACTIVE"
	Suspended Status = "SUSPENDED"
	Expired   Status = "EXPIRED"
	Cancelled Status = "CANCELLED"
)

func (s Status) String() string {
	switch s {
	case Trial, Active, Suspended, Expired, Cancelled:
		return string(s)
	default:
		return ""
	}
}

// License is the contract of one company. Never deleted, only cancelled.
type License struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
	CompanyID       string     `gorm:"column:company_id;uniqueIndex" json:"company_id"`
	Status          Status     `gorm:"column:status;index" json:"status"`
	StartDate       time.Time  `gorm:"column:start_date" json:"start_date"`
	EndDate         time.Time  `gorm:"column:end_date;index" json:"end_date"`
	GracePeriodDays int        `gorm:"column:grace_period_days" json:"grace_period_days"`
	MaxUsers        *int64     `gorm:"column:max_users" json:"max_users"`
	MaxEnrollments  *int64     `gorm:"column:max_enrollments" json:"max_enrollments"`
	SuspendedReason *string    `gorm:"column:suspended_reason" json:"suspended_reason,omitempty"`
	SuspendedAt     *time.Time `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	ExpiredAt       *time.Time `gorm:"column:expired_at" json:"expired_at,omitempty"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
}

// GraceEndsAt is the instant after which the license is expired.
func (l *License) GraceEndsAt() time.Time {
	return l.EndDate.AddDate(0, 0, l.GracePeriodDays)
}

// LicenseEvent is the audit trail of license transitions.
type LicenseEvent struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
	LicenseID  string         `gorm:"column:license_id;index" json:"license_id"`
	CompanyID  string         `gorm:"column:company_id;index" json:"company_id"`
	Event      Event          `gorm:"column:event" json:"event"`
	FromStatus Status         `gorm:"column:from_status" json:"from_status"`
	ToStatus   Status         `gorm:"column:to_status" json:"to_status"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}
