package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
)

// JobTransition is one row of the write-only audit trail. The hot path
// never reads this table.
type JobTransition struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	JobID      int64      `gorm:"not null;index"`
	FromStatus job.Status `gorm:"type:varchar(50)"`
	ToStatus   job.Status `gorm:"type:varchar(50);not null"`
	CreatedAt  time.Time
}

func (JobTransition) TableName() string {
	return "job_transitions"
}

func appendTransition(tx *gorm.DB, jobID int64, from, to job.Status) error {
	return tx.Create(&JobTransition{
		JobID:      jobID,
		FromStatus: from,
		ToStatus:   to,
		CreatedAt:  time.Now().UTC(),
	}).Error
}
