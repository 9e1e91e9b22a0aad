package provision

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/testhelper"
)

// mockComputeRepository is an in-memory repository mirroring the
// guarded-update behavior of the postgres implementation.
type mockComputeRepository struct {
	mu        sync.Mutex
	instances map[int64]*resource.ComputeInstance
	links     map[string]int64
}

func newMockComputeRepository() *mockComputeRepository {
	return &mockComputeRepository{
		instances: make(map[int64]*resource.ComputeInstance),
		links:     make(map[string]int64),
	}
}

func (m *mockComputeRepository) FindBySubscription(_ context.Context, tenantID int64, subscriptionID string) (*resource.ComputeInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.TenantID == tenantID && inst.SubscriptionID == subscriptionID {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockComputeRepository) GetByID(_ context.Context, tenantID, instanceID int64) (*resource.ComputeInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok || inst.TenantID != tenantID {
		return nil, nil
	}
	copied := *inst
	return &copied, nil
}

func (m *mockComputeRepository) CreateWithLink(_ context.Context, inst *resource.ComputeInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.links[inst.SubscriptionID]; exists {
		return fmt.Errorf("subscription %s already linked", inst.SubscriptionID)
	}
	copied := *inst
	m.instances[inst.ID] = &copied
	m.links[inst.SubscriptionID] = inst.ID
	return nil
}

func (m *mockComputeRepository) UpdateStatus(_ context.Context, instanceID int64, allowed []resource.Status, next resource.Status, externalRef, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %d not found", instanceID)
	}
	for _, status := range allowed {
		if inst.Status == status {
			inst.Status = next
			inst.ExternalRef = externalRef
			inst.LastError = lastError
			return nil
		}
	}
	if inst.Status == next {
		return nil
	}
	return fmt.Errorf("invalid state transition from %s to %s", inst.Status, next)
}

func (m *mockComputeRepository) UpdatePlan(_ context.Context, instanceID int64, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %d not found", instanceID)
	}
	inst.Plan = plan
	return nil
}

// mockEnqueuer records emitted jobs.
type mockEnqueuer struct {
	mu     sync.Mutex
	nextID int64
	jobs   []emittedJob
}

type emittedJob struct {
	jobType job.Type
	spec    any
}

func (m *mockEnqueuer) EnqueueJob(_ context.Context, jobType job.Type, _ int64, _ string, spec any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.jobs = append(m.jobs, emittedJob{jobType: jobType, spec: spec})
	return m.nextID, nil
}

func (m *mockEnqueuer) emitted(jobType job.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.jobType == jobType {
			n++
		}
	}
	return n
}

func newTestComputeStack(t *testing.T) (*ComputeProvisioner, *ComputeExecutor, *mockComputeRepository, *mockEnqueuer, *testhelper.MockHypervisor) {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)

	repo := newMockComputeRepository()
	enq := &mockEnqueuer{}
	hv := testhelper.NewMockHypervisor()
	p := NewComputeProvisioner(repo, enq, node, zap.NewNop())
	e := NewComputeExecutor(repo, hv, zap.NewNop())
	return p, e, repo, enq, hv
}

func TestComputeProvision_Validation(t *testing.T) {
	p, _, _, _, _ := newTestComputeStack(t)
	ctx := context.Background()

	_, err := p.Provision(ctx, "sub-1", job.ComputeSpec{TenantID: 1, Plan: "STARTER", Region: "nbg1"})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err), "missing subscription")

	_, err = p.Provision(ctx, "sub-1", job.ComputeSpec{TenantID: 1, SubscriptionID: "sub-1", Plan: "MEGA", Region: "nbg1"})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err), "unknown plan")

	_, err = p.Provision(ctx, "sub-1", job.ComputeSpec{TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "mars1"})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err), "unknown region")
}

func TestComputeProvision_CreatesLinkedInstanceAndEmitsCreate(t *testing.T) {
	p, _, repo, enq, _ := newTestComputeStack(t)
	ctx := context.Background()

	res, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "PRO", Region: "fsn1",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	// Both sides of the reference exist.
	instanceID, linked := repo.links["sub-1"]
	require.True(t, linked)
	inst := repo.instances[instanceID]
	require.NotNil(t, inst)
	assert.Equal(t, "sub-1", inst.SubscriptionID)
	assert.Equal(t, resource.StatusProvisioning, inst.Status)
	assert.Equal(t, "PRO", inst.Plan)

	assert.Equal(t, 1, enq.emitted(job.TypeHypervisorCreate))
}

func TestComputeProvision_DuplicateSubscription(t *testing.T) {
	p, e, _, _, _ := newTestComputeStack(t)
	ctx := context.Background()

	res, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)

	// Bring it up so the duplicate hits a live instance.
	instanceID := mustParseID(t, res.ExternalRef)
	require.NoError(t, e.HandleCreate(ctx, job.HypervisorTaskSpec{TenantID: 1, InstanceID: instanceID}))

	_, err = p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	assert.Equal(t, provisioning.ClassAlreadyExists, provisioning.ClassOf(err))
}

func TestComputeProvision_ReentryReemitsCreate(t *testing.T) {
	p, _, repo, enq, _ := newTestComputeStack(t)
	ctx := context.Background()

	first, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)

	// A retry of the same provision finds its half-finished instance.
	second, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ExternalRef, second.ExternalRef)
	assert.Len(t, repo.instances, 1)
	assert.Equal(t, 2, enq.emitted(job.TypeHypervisorCreate))
}

func TestComputeLifecycle_FullFlow(t *testing.T) {
	p, e, repo, enq, hv := newTestComputeStack(t)
	ctx := context.Background()

	res, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)
	instanceID := mustParseID(t, res.ExternalRef)
	task := job.HypervisorTaskSpec{TenantID: 1, InstanceID: instanceID}

	// Create: provisioning -> active with the hypervisor's ref.
	require.NoError(t, e.HandleCreate(ctx, task))
	inst := repo.instances[instanceID]
	assert.Equal(t, resource.StatusActive, inst.Status)
	require.NotEmpty(t, inst.ExternalRef)
	assert.Contains(t, hv.Servers, inst.ExternalRef)

	// Re-running create is a no-op, not a second server.
	require.NoError(t, e.HandleCreate(ctx, task))
	assert.Len(t, hv.Servers, 1)

	// Suspend: emits power-off, executor flips to suspended.
	_, err = p.Suspend(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	require.NoError(t, err)
	assert.Equal(t, 1, enq.emitted(job.TypeHypervisorPowerOff))
	require.NoError(t, e.HandlePowerOff(ctx, task))
	assert.Equal(t, resource.StatusSuspended, repo.instances[instanceID].Status)
	assert.False(t, hv.Powered[inst.ExternalRef])

	// Resume.
	_, err = p.Resume(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	require.NoError(t, err)
	require.NoError(t, e.HandlePowerOn(ctx, task))
	assert.Equal(t, resource.StatusActive, repo.instances[instanceID].Status)

	// Resize: plan recorded, server type applied.
	_, err = p.Resize(ctx, "sub-1", job.ComputeResizeSpec{TenantID: 1, InstanceID: instanceID, Plan: "PRO"})
	require.NoError(t, err)
	assert.Equal(t, "PRO", repo.instances[instanceID].Plan)
	require.NoError(t, e.HandleResize(ctx, task))
	assert.Equal(t, "cx32", hv.Servers[inst.ExternalRef].ServerType)

	// Deprovision: deprovisioning then deleted, server gone.
	_, err = p.Deprovision(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	require.NoError(t, err)
	assert.Equal(t, resource.StatusDeprovisioning, repo.instances[instanceID].Status)
	require.NoError(t, e.HandleDelete(ctx, task))
	assert.Equal(t, resource.StatusDeleted, repo.instances[instanceID].Status)
	assert.Empty(t, hv.Servers)

	// Deleted is terminal.
	_, err = p.Deprovision(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))
	_, err = p.Resume(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))
}

func TestComputeExecutor_CreateFailureKeepsProvisioning(t *testing.T) {
	p, e, repo, _, hv := newTestComputeStack(t)
	ctx := context.Background()

	res, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)
	instanceID := mustParseID(t, res.ExternalRef)

	hv.FailCreate = true
	err = e.HandleCreate(ctx, job.HypervisorTaskSpec{TenantID: 1, InstanceID: instanceID})
	require.Error(t, err)

	inst := repo.instances[instanceID]
	assert.Equal(t, resource.StatusProvisioning, inst.Status)
	assert.NotEmpty(t, inst.LastError)

	// The retried job succeeds once the hypervisor recovers.
	hv.FailCreate = false
	require.NoError(t, e.HandleCreate(ctx, job.HypervisorTaskSpec{TenantID: 1, InstanceID: instanceID}))
	assert.Equal(t, resource.StatusActive, repo.instances[instanceID].Status)
}

// flakyComputeRepo fails a number of UpdateStatus calls before
// behaving, imitating a database that drops out mid-job.
type flakyComputeRepo struct {
	*mockComputeRepository
	mu          sync.Mutex
	failUpdates int
}

func (r *flakyComputeRepo) UpdateStatus(ctx context.Context, instanceID int64, allowed []resource.Status, next resource.Status, externalRef, lastError string) error {
	r.mu.Lock()
	if r.failUpdates > 0 {
		r.failUpdates--
		r.mu.Unlock()
		return fmt.Errorf("connection reset")
	}
	r.mu.Unlock()
	return r.mockComputeRepository.UpdateStatus(ctx, instanceID, allowed, next, externalRef, lastError)
}

func TestComputeExecutor_CreateRetryAfterLostStatusWriteReusesServer(t *testing.T) {
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	base := newMockComputeRepository()
	flaky := &flakyComputeRepo{mockComputeRepository: base, failUpdates: 1}
	enq := &mockEnqueuer{}
	hv := testhelper.NewMockHypervisor()
	p := NewComputeProvisioner(base, enq, node, zap.NewNop())
	e := NewComputeExecutor(flaky, hv, zap.NewNop())
	ctx := context.Background()

	_, err = p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)
	task := enq.jobs[0].spec.(job.HypervisorTaskSpec)

	// First attempt: the server comes up but the status write is lost.
	require.Error(t, e.HandleCreate(ctx, task))
	require.Len(t, hv.Servers, 1)
	inst, err := base.GetByID(ctx, 1, task.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, resource.StatusProvisioning, inst.Status)
	assert.Empty(t, inst.ExternalRef)

	// The retry finds the existing machine by name instead of leaking
	// a second one.
	require.NoError(t, e.HandleCreate(ctx, task))
	assert.Len(t, hv.Servers, 1)

	inst, err = base.GetByID(ctx, 1, task.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, resource.StatusActive, inst.Status)
	assert.NotEmpty(t, inst.ExternalRef)
}

func TestComputeSuspend_InvalidFromProvisioning(t *testing.T) {
	p, _, _, _, _ := newTestComputeStack(t)
	ctx := context.Background()

	res, err := p.Provision(ctx, "sub-1", job.ComputeSpec{
		TenantID: 1, SubscriptionID: "sub-1", Plan: "STARTER", Region: "nbg1",
	})
	require.NoError(t, err)
	instanceID := mustParseID(t, res.ExternalRef)

	_, err = p.Suspend(ctx, "sub-1", job.ComputeLifecycleSpec{TenantID: 1, InstanceID: instanceID})
	assert.Equal(t, provisioning.ClassInvalidSpec, provisioning.ClassOf(err))
}

func mustParseID(t *testing.T, ref string) int64 {
	t.Helper()
	id, err := snowflake.ParseID(ref)
	require.NoError(t, err)
	return id
}
