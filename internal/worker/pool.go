package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
)

const (
	defaultPopTimeout    = 2 * time.Second
	defaultHandleTimeout = 5 * time.Minute
	popErrorPause        = time.Second
)

// Pool runs a fixed number of workers against one job type's queue.
// The jobs table stays authoritative: a popped id that cannot be
// claimed is simply dropped, because whoever claimed it first owns it.
type Pool struct {
	jobType       job.Type
	size          int
	store         job.Repository
	queue         job.Queue
	dispatcher    *Dispatcher
	logger        *zap.Logger
	popTimeout    time.Duration
	handleTimeout time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(jobType job.Type, size int, store job.Repository, queue job.Queue, dispatcher *Dispatcher, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		jobType:       jobType,
		size:          size,
		store:         store,
		queue:         queue,
		dispatcher:    dispatcher,
		logger:        logger.Named("worker").With(zap.String("job_type", string(jobType))),
		popTimeout:    defaultPopTimeout,
		handleTimeout: defaultHandleTimeout,
	}
}

// Start launches the workers. They run until Stop is called or the
// parent context ends.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	p.logger.Info("worker_pool_started", zap.Int("size", p.size))
}

// Stop asks the workers to finish and blocks until the last in-flight
// job has been handled. No job is abandoned mid-execution.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker_pool_stopped")
}

func (p *Pool) run(ctx context.Context) {
	p.drain(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		jobID, err := p.queue.Pop(ctx, p.jobType, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("queue_pop_failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(popErrorPause):
			}
			continue
		}
		if jobID == 0 {
			continue
		}

		p.handle(ctx, jobID)
	}
}

// drain claims due pending work straight from the store, picking up
// jobs whose queue publish was lost before this process came up.
func (p *Pool) drain(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := p.store.ClaimNext(ctx, p.jobType)
		if err != nil {
			p.logger.Error("job_claim_failed", zap.Error(err))
			return
		}
		if claimed == nil {
			return
		}
		p.execute(ctx, claimed)
	}
}

func (p *Pool) handle(ctx context.Context, jobID int64) {
	claimed, err := p.store.Claim(ctx, jobID)
	if err != nil {
		p.logger.Error("job_claim_failed", zap.Int64("job_id", jobID), zap.Error(err))
		return
	}
	if claimed == nil {
		// Another worker beat us to it, or the job is not due.
		return
	}
	p.execute(ctx, claimed)
}

// execute runs one claimed job to completion even during shutdown, but
// under a deadline so a hung backing system cannot wedge the worker.
// Finalization writes run outside that deadline: the attempt's outcome
// must land even when the attempt itself timed out.
func (p *Pool) execute(ctx context.Context, claimed *job.Job) {
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.handleTimeout)
	defer cancel()

	result, dispatchErr := p.dispatcher.Dispatch(dispatchCtx, claimed)
	ctx = context.WithoutCancel(ctx)
	if dispatchErr == nil {
		if err := p.store.MarkCompleted(ctx, claimed.ID, result); err != nil {
			p.logger.Error("job_complete_failed", zap.Int64("job_id", claimed.ID), zap.Error(err))
		}
		return
	}

	retryable := provisioning.Retryable(dispatchErr)
	retry, err := p.store.MarkFailed(ctx, claimed, dispatchErr, retryable)
	if err != nil {
		p.logger.Error("job_fail_mark_failed", zap.Int64("job_id", claimed.ID), zap.Error(err))
		return
	}

	if retry == nil {
		p.logger.Warn("job_failed",
			zap.Int64("job_id", claimed.ID),
			zap.Int("attempts", claimed.Attempts),
			zap.Bool("retryable", retryable),
			zap.Error(dispatchErr),
		)
		return
	}

	runAt := time.Now().UTC()
	if retry.NotBefore != nil {
		runAt = *retry.NotBefore
	}
	if err := p.queue.PushDelayed(ctx, retry.Type, retry.ID, runAt); err != nil {
		// The row is back to pending in the store; the stale-pending
		// reconciler republishes it if this push is lost.
		p.logger.Error("retry_publish_failed", zap.Int64("job_id", retry.ID), zap.Error(err))
	}

	p.logger.Info("job_retry_scheduled",
		zap.Int64("job_id", retry.ID),
		zap.Int("attempts", retry.Attempts),
		zap.Time("not_before", runAt),
		zap.Error(dispatchErr),
	)
}
