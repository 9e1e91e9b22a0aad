package orchestrator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

// Service is the entry point for provisioning requests. It persists the
// job first and publishes to the queue second, so a lost publish only
// delays the job until the reconciler republishes it.
type Service struct {
	store  job.Repository
	queue  job.Queue
	node   *snowflake.Node
	logger *zap.Logger
}

func NewService(store job.Repository, queue job.Queue, node *snowflake.Node, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		node:   node,
		logger: logger.Named("orchestrator"),
	}
}

// RequestProvisioning validates a raw request payload against the job
// type and enqueues it. Validation failures surface immediately; the
// caller never waits on the work itself.
func (s *Service) RequestProvisioning(ctx context.Context, jobType job.Type, tenantID int64, ownerRef string, payload json.RawMessage) (int64, error) {
	if !job.ValidType(jobType) {
		return 0, provisioning.InvalidSpec(string(jobType), "unknown job type")
	}
	spec, err := job.Decode(jobType, payload)
	if err != nil {
		return 0, provisioning.InvalidSpec(string(jobType), "%v", err)
	}
	return s.EnqueueJob(ctx, jobType, tenantID, ownerRef, spec)
}

// EnqueueJob persists and publishes one job. It also serves
// provisioners emitting downstream jobs, via the job.Enqueuer surface.
func (s *Service) EnqueueJob(ctx context.Context, jobType job.Type, tenantID int64, ownerRef string, spec any) (int64, error) {
	if !job.ValidType(jobType) {
		return 0, provisioning.InvalidSpec(string(jobType), "unknown job type")
	}
	payload, err := job.Encode(spec)
	if err != nil {
		return 0, provisioning.InvalidSpec(string(jobType), "%v", err)
	}

	j := job.New(s.node.GenerateID(), jobType, tenantID, ownerRef, payload)
	if err := s.store.Enqueue(ctx, j); err != nil {
		return 0, err
	}

	if err := s.queue.Push(ctx, j.Type, j.ID); err != nil {
		// The durable record exists; the stale-pending reconciler
		// republishes it.
		s.logger.Warn("job_publish_failed",
			zap.Int64("job_id", j.ID),
			zap.String("job_type", string(j.Type)),
			zap.Error(err),
		)
	}

	s.logger.Info("job_enqueued",
		zap.Int64("job_id", j.ID),
		zap.String("job_type", string(j.Type)),
		zap.Int64("tenant_id", tenantID),
		zap.String("owner_ref", ownerRef),
	)
	return j.ID, nil
}

// GetJob returns one job record, nil when absent.
func (s *Service) GetJob(ctx context.Context, jobID int64) (*job.Job, error) {
	return s.store.GetByID(ctx, jobID)
}

// GetAggregateStatus sums job states for an owner reference, the signal
// billing watches before activating a subscription.
func (s *Service) GetAggregateStatus(ctx context.Context, ownerRef string) (job.AggregateStatus, error) {
	return s.store.CountByOwner(ctx, ownerRef)
}
