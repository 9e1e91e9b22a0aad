package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
)

// QueueReconciler repairs the gap between the durable jobs table and
// the queue. It promotes delayed retries whose time has come and
// republishes pending jobs whose queue entry was lost, so the table
// stays the single source of truth.
type QueueReconciler struct {
	store      job.Repository
	queue      job.Queue
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

func NewQueueReconciler(store job.Repository, queue job.Queue, logger *zap.Logger) *QueueReconciler {
	return &QueueReconciler{
		store:      store,
		queue:      queue,
		logger:     logger.Named("queue.reconciler"),
		interval:   10 * time.Second,
		staleAfter: time.Minute,
		batchSize:  100,
	}
}

func (r *QueueReconciler) Run(ctx context.Context) {
	if err := r.reconcile(ctx); err != nil {
		r.logger.Error("reconcile_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error("reconcile_failed", zap.Error(err))
			}
		}
	}
}

func (r *QueueReconciler) reconcile(ctx context.Context) error {
	now := time.Now().UTC()

	for _, jobType := range job.AllTypes {
		if err := r.queue.MoveDue(ctx, jobType, now, int64(r.batchSize)); err != nil {
			r.logger.Warn("move_due_failed",
				zap.String("job_type", string(jobType)),
				zap.Error(err),
			)
		}
	}

	return r.republishStale(ctx, now)
}

// republishStale pushes due pending jobs that have sat untouched past
// the stale window. A duplicate queue entry is harmless: the claim is
// atomic, so the loser just drops the id.
func (r *QueueReconciler) republishStale(ctx context.Context, now time.Time) error {
	stale, err := r.store.ListStalePending(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return err
	}

	for _, j := range stale {
		if err := r.queue.Push(ctx, j.Type, j.ID); err != nil {
			r.logger.Warn("republish_failed",
				zap.Int64("job_id", j.ID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("stale_job_republished",
			zap.Int64("job_id", j.ID),
			zap.String("job_type", string(j.Type)),
		)
	}
	return nil
}
