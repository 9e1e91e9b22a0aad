package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

type recordingStore struct {
	jobs       map[int64]*job.Job
	enqueueErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{jobs: make(map[int64]*job.Job)}
}

func (s *recordingStore) Enqueue(_ context.Context, j *job.Job) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	copied := *j
	s.jobs[j.ID] = &copied
	return nil
}

func (s *recordingStore) Claim(_ context.Context, _ int64) (*job.Job, error) { return nil, nil }

func (s *recordingStore) ClaimNext(_ context.Context, _ job.Type) (*job.Job, error) {
	return nil, nil
}

func (s *recordingStore) MarkCompleted(_ context.Context, _ int64, _ []byte) error { return nil }

func (s *recordingStore) MarkFailed(_ context.Context, _ *job.Job, _ error, _ bool) (*job.Job, error) {
	return nil, nil
}

func (s *recordingStore) GetByID(_ context.Context, jobID int64) (*job.Job, error) {
	return s.jobs[jobID], nil
}

func (s *recordingStore) CountByOwner(_ context.Context, ownerRef string) (job.AggregateStatus, error) {
	var agg job.AggregateStatus
	for _, j := range s.jobs {
		if j.OwnerRef == ownerRef && j.Status == job.StatusPending {
			agg.Pending++
		}
	}
	return agg, nil
}

func (s *recordingStore) ListStalePending(_ context.Context, _ time.Time, _ int) ([]*job.Job, error) {
	return nil, nil
}

type recordingQueue struct {
	pushed  []int64
	pushErr error
}

func (q *recordingQueue) Push(_ context.Context, _ job.Type, jobID int64) error {
	if q.pushErr != nil {
		return q.pushErr
	}
	q.pushed = append(q.pushed, jobID)
	return nil
}

func (q *recordingQueue) PushDelayed(_ context.Context, _ job.Type, _ int64, _ time.Time) error {
	return nil
}

func (q *recordingQueue) Pop(_ context.Context, _ job.Type, _ time.Duration) (int64, error) {
	return 0, nil
}

func (q *recordingQueue) MoveDue(_ context.Context, _ job.Type, _ time.Time, _ int64) error {
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingStore, *recordingQueue) {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	store := newRecordingStore()
	queue := &recordingQueue{}
	return NewService(store, queue, node, zap.NewNop()), store, queue
}

func TestRequestProvisioning_PersistsAndPublishes(t *testing.T) {
	svc, store, queue := newTestService(t)

	payload := json.RawMessage(`{
		"tenant_id": 7,
		"email": "user@example.com",
		"password": "s3cret-pass",
		"quota_mb": 1024
	}`)

	jobID, err := svc.RequestProvisioning(context.Background(), job.TypeMailboxProvision, 7, "sub-42", payload)
	require.NoError(t, err)
	assert.Greater(t, jobID, int64(0))

	stored := store.jobs[jobID]
	require.NotNil(t, stored)
	assert.Equal(t, job.TypeMailboxProvision, stored.Type)
	assert.Equal(t, job.StatusPending, stored.Status)
	assert.Equal(t, int64(7), stored.TenantID)
	assert.Equal(t, "sub-42", stored.OwnerRef)

	require.Len(t, queue.pushed, 1)
	assert.Equal(t, jobID, queue.pushed[0])
}

func TestRequestProvisioning_UnknownType(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.RequestProvisioning(context.Background(), job.Type("backup.create"), 1, "sub-1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))
	assert.Empty(t, store.jobs)
}

func TestRequestProvisioning_MalformedPayload(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.RequestProvisioning(context.Background(), job.TypeDatabaseProvision, 1, "sub-1", json.RawMessage(`{"tenant_id": "nope"}`))
	require.Error(t, err)
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))
	assert.Empty(t, store.jobs)
}

func TestEnqueueJob_StoreFailurePropagates(t *testing.T) {
	svc, store, queue := newTestService(t)
	store.enqueueErr = errors.New("connection refused")

	_, err := svc.EnqueueJob(context.Background(), job.TypeDNSZoneProvision, 1, "sub-1", job.DNSZoneSpec{
		TenantID: 1,
		Domain:   "example.com",
	})
	require.Error(t, err)
	assert.Empty(t, queue.pushed)
}

func TestEnqueueJob_PublishFailureStillReturnsID(t *testing.T) {
	svc, store, queue := newTestService(t)
	queue.pushErr = errors.New("redis down")

	jobID, err := svc.EnqueueJob(context.Background(), job.TypeComputeProvision, 3, "sub-9", job.ComputeSpec{
		TenantID:       3,
		SubscriptionID: "sub-9",
		Plan:           "STARTER",
		Region:         "nbg1",
	})
	require.NoError(t, err)
	assert.Greater(t, jobID, int64(0))

	// The durable record exists even though the publish was lost.
	require.NotNil(t, store.jobs[jobID])
	assert.Equal(t, job.StatusPending, store.jobs[jobID].Status)
}

func TestGetAggregateStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.EnqueueJob(ctx, job.TypeDNSZoneProvision, 1, "sub-agg", job.DNSZoneSpec{
			TenantID: 1,
			Domain:   "example.com",
		})
		require.NoError(t, err)
	}

	agg, err := svc.GetAggregateStatus(ctx, "sub-agg")
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Pending)
	assert.False(t, agg.AllCompleted())
}
