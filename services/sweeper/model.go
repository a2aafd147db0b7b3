package sweeper

import (
	"time"

	"gorm.io/datatypes"
)

type Trigger string

var (
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
)

type JobStatus string

var (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// SweepJob is the execution record of one sweep run.
type SweepJob struct {
	ID                   string         `gorm:"column:id;primaryKey" json:"id"`
	Trigger              Trigger        `gorm:"column:triggered_by;type:varchar(20)" json:"trigger"`
	Status               JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	ErrorMsg             string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	LicensesExpired      int            `gorm:"column:licenses_expired" json:"licenses_expired"`
	SessionsClosed       int            `gorm:"column:sessions_closed" json:"sessions_closed"`
	EnrollmentsCompleted int64          `gorm:"column:enrollments_completed" json:"enrollments_completed"`
	Failures             int64          `gorm:"column:failures" json:"failures"`
	Summary              datatypes.JSON `gorm:"column:summary" json:"summary,omitempty"`
	StartedAt            *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt            time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

type taskPayload struct {
	Trigger Trigger `json:"trigger"`
}
