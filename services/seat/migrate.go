package seat

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const liveEnrollmentIndex = "idx_enrollments_live_person_session"

// EnsureIndexes creates the partial unique index allowing one live enrollment per
// person and session. MySQL has no partial indexes; there the check made under the
// session lock is the only guard.
func EnsureIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&Enrollment{}); err != nil {
		return err
	}

	if db.Dialector.Name() == "mysql" {
		zap.L().Warn("partial indexes unsupported, live enrollment uniqueness relies on the session lock")
		return nil
	}

	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ` + liveEnrollmentIndex +
		` ON enrollments (person_id, session_id) WHERE status <> 'CANCELLED'`).Error
}
