package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/cryptoutils"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
)

// JobStore is the durable job record store backed by Postgres. The
// jobs table, not the queue, is the authority on claim state.
//
// Results can carry generated credentials, so they are sealed with the
// secret box before hitting the database. A nil box stores plaintext.
type JobStore struct {
	db      *gorm.DB
	secrets *cryptoutils.SecretBox
}

func NewJobStore(db *gorm.DB, secrets *cryptoutils.SecretBox) *JobStore {
	return &JobStore{db: db, secrets: secrets}
}

func (s *JobStore) Enqueue(ctx context.Context, j *job.Job) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(j).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return appendTransition(tx, j.ID, "", job.StatusPending)
	})
}

// Claim atomically transitions one job from pending to active. The
// conditional WHERE guard makes concurrent claims mutually exclusive
// without a separate read.
func (s *JobStore) Claim(ctx context.Context, jobID int64) (*job.Job, error) {
	now := time.Now().UTC()

	var claimed *job.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&job.Job{}).
			Where("id = ? AND status = ? AND (not_before IS NULL OR not_before <= ?)",
				jobID, job.StatusPending, now).
			Updates(map[string]any{
				"status":     job.StatusActive,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var j job.Job
		if err := tx.First(&j, "id = ?", jobID).Error; err != nil {
			return err
		}
		claimed = &j
		return appendTransition(tx, jobID, job.StatusPending, job.StatusActive)
	})
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", jobID, err)
	}
	return claimed, nil
}

// ClaimNext claims the oldest due pending job of a type. FOR UPDATE
// SKIP LOCKED keeps concurrent callers from blocking on each other.
func (s *JobStore) ClaimNext(ctx context.Context, jobType job.Type) (*job.Job, error) {
	now := time.Now().UTC()

	var claimed *job.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j job.Job
		err := tx.Raw(
			`SELECT * FROM jobs
			 WHERE type = ? AND status = ?
			   AND (not_before IS NULL OR not_before <= ?)
			 ORDER BY created_at ASC
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
			jobType, job.StatusPending, now,
		).Scan(&j).Error
		if err != nil {
			return err
		}
		if j.ID == 0 {
			return nil
		}

		if err := tx.Model(&job.Job{}).
			Where("id = ?", j.ID).
			Updates(map[string]any{
				"status":     job.StatusActive,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		j.Status = job.StatusActive
		j.Attempts++
		j.StartedAt = &now
		claimed = &j
		return appendTransition(tx, j.ID, job.StatusPending, job.StatusActive)
	})
	if err != nil {
		return nil, fmt.Errorf("claim next %s: %w", jobType, err)
	}
	return claimed, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID int64, result []byte) error {
	now := time.Now().UTC()
	result, err := s.secrets.Seal(result)
	if err != nil {
		return fmt.Errorf("seal result for job %d: %w", jobID, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&job.Job{}).
			Where("id = ? AND status = ?", jobID, job.StatusActive).
			Updates(map[string]any{
				"status":       job.StatusCompleted,
				"result":       string(result),
				"completed_at": now,
				"updated_at":   now,
				"last_error":   "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %d not active", jobID)
		}
		return appendTransition(tx, jobID, job.StatusActive, job.StatusCompleted)
	})
}

// MarkFailed records a failed attempt. Below the attempt cap with a
// retryable cause the same row goes back to pending, scheduled after
// exponential backoff, and is returned for queue delivery. Only a
// non-retryable cause or an exhausted attempt cap finalizes the row
// as failed, so an owner's aggregate never carries a superseded
// failure from an attempt that later recovered.
func (s *JobStore) MarkFailed(ctx context.Context, j *job.Job, cause error, retryable bool) (*job.Job, error) {
	now := time.Now().UTC()

	if !retryable || j.Exhausted() {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&job.Job{}).
				Where("id = ? AND status = ?", j.ID, job.StatusActive).
				Updates(map[string]any{
					"status":       job.StatusFailed,
					"last_error":   cause.Error(),
					"completed_at": now,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("job %d not active", j.ID)
			}
			return appendTransition(tx, j.ID, job.StatusActive, job.StatusFailed)
		})
		if err != nil {
			return nil, fmt.Errorf("mark job %d failed: %w", j.ID, err)
		}
		return nil, nil
	}

	notBefore := now.Add(job.RetryDelay(j.Attempts))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&job.Job{}).
			Where("id = ? AND status = ?", j.ID, job.StatusActive).
			Updates(map[string]any{
				"status":     job.StatusPending,
				"last_error": cause.Error(),
				"not_before": notBefore,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %d not active", j.ID)
		}
		return appendTransition(tx, j.ID, job.StatusActive, job.StatusPending)
	})
	if err != nil {
		return nil, fmt.Errorf("reschedule job %d: %w", j.ID, err)
	}

	retry := *j
	retry.LastError = cause.Error()
	retry.ScheduleRetry(now)
	return &retry, nil
}

func (s *JobStore) GetByID(ctx context.Context, jobID int64) (*job.Job, error) {
	var j job.Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	result, err := s.secrets.Open(j.Result)
	if err != nil {
		return nil, fmt.Errorf("open result for job %d: %w", jobID, err)
	}
	j.Result = result
	return &j, nil
}

func (s *JobStore) CountByOwner(ctx context.Context, ownerRef string) (job.AggregateStatus, error) {
	type row struct {
		Status job.Status
		N      int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&job.Job{}).
		Select("status, count(*) as n").
		Where("owner_ref = ?", ownerRef).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return job.AggregateStatus{}, err
	}

	var agg job.AggregateStatus
	for _, r := range rows {
		switch r.Status {
		case job.StatusPending:
			agg.Pending = r.N
		case job.StatusActive:
			agg.Active = r.N
		case job.StatusCompleted:
			agg.Completed = r.N
		case job.StatusFailed:
			agg.Failed = r.N
		}
	}
	return agg, nil
}

func (s *JobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ? AND (not_before IS NULL OR not_before <= ?)",
			job.StatusPending, olderThan, now).
		Order("created_at asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
