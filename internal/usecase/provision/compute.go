package provision

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/plan"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

// ComputeProvisioner does the bookkeeping half of compute jobs: it
// maintains the instance rows and their subscription links, and emits a
// hypervisor job for every step that has to touch the VM API. The split
// keeps the external call independently retryable without re-running
// the bookkeeping.
type ComputeProvisioner struct {
	repo     resource.ComputeRepository
	enqueuer job.Enqueuer
	node     *snowflake.Node
	logger   *zap.Logger
}

func NewComputeProvisioner(repo resource.ComputeRepository, enqueuer job.Enqueuer, node *snowflake.Node, logger *zap.Logger) *ComputeProvisioner {
	return &ComputeProvisioner{
		repo:     repo,
		enqueuer: enqueuer,
		node:     node,
		logger:   logger.Named("provision.compute"),
	}
}

// Provision creates the instance record linked to its subscription and
// emits the hypervisor create job. A retry that finds its own
// half-finished instance re-emits the create job instead of failing;
// a subscription that already carries a live instance is a conflict.
func (p *ComputeProvisioner) Provision(ctx context.Context, ownerRef string, spec job.ComputeSpec) (*provisioning.Result, error) {
	if spec.SubscriptionID == "" {
		return nil, provisioning.InvalidSpec("compute", "missing subscription id")
	}
	planSpec, err := plan.Resolve(spec.Plan)
	if err != nil {
		return nil, provisioning.InvalidSpec("compute", "%v", err)
	}
	if !plan.ValidRegion(spec.Region) {
		return nil, provisioning.InvalidSpec("compute", "unknown region: %q", spec.Region)
	}

	existing, err := p.repo.FindBySubscription(ctx, spec.TenantID, spec.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status != resource.StatusProvisioning {
			return nil, provisioning.AlreadyExists("compute", "subscription %s already has instance %d", spec.SubscriptionID, existing.ID)
		}
		// Our own earlier attempt got as far as the row; just make
		// sure the hypervisor job is out there again.
		if err := p.emitTask(ctx, job.TypeHypervisorCreate, ownerRef, existing); err != nil {
			return nil, err
		}
		return computeResult(existing), nil
	}

	now := time.Now().UTC()
	inst := &resource.ComputeInstance{
		ID:             p.node.GenerateID(),
		TenantID:       spec.TenantID,
		SubscriptionID: spec.SubscriptionID,
		Plan:           planSpec.Name,
		Region:         spec.Region,
		Status:         resource.StatusProvisioning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.repo.CreateWithLink(ctx, inst); err != nil {
		return nil, err
	}

	if err := p.emitTask(ctx, job.TypeHypervisorCreate, ownerRef, inst); err != nil {
		return nil, err
	}

	p.logger.Info("compute_instance_requested",
		zap.Int64("tenant_id", spec.TenantID),
		zap.Int64("instance_id", inst.ID),
		zap.String("subscription_id", spec.SubscriptionID),
		zap.String("plan", planSpec.Name),
		zap.String("region", spec.Region),
	)
	return computeResult(inst), nil
}

// Resize records the new plan and emits the hypervisor resize job.
func (p *ComputeProvisioner) Resize(ctx context.Context, ownerRef string, spec job.ComputeResizeSpec) (*provisioning.Result, error) {
	planSpec, err := plan.Resolve(spec.Plan)
	if err != nil {
		return nil, provisioning.InvalidSpec("compute", "%v", err)
	}

	inst, err := p.instance(ctx, spec.TenantID, spec.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != resource.StatusActive && inst.Status != resource.StatusSuspended {
		return nil, provisioning.InvalidSpec("compute", "instance %d is %s, cannot resize", inst.ID, inst.Status)
	}
	if inst.Plan == planSpec.Name {
		return computeResult(inst), nil
	}

	if err := p.repo.UpdatePlan(ctx, inst.ID, planSpec.Name); err != nil {
		return nil, err
	}
	inst.Plan = planSpec.Name

	if err := p.emitTask(ctx, job.TypeHypervisorResize, ownerRef, inst); err != nil {
		return nil, err
	}

	p.logger.Info("compute_instance_resize_requested",
		zap.Int64("instance_id", inst.ID),
		zap.String("plan", planSpec.Name),
	)
	return computeResult(inst), nil
}

// Suspend emits the power-off job. The state flips to suspended only
// once the hypervisor confirms the machine is down.
func (p *ComputeProvisioner) Suspend(ctx context.Context, ownerRef string, spec job.ComputeLifecycleSpec) (*provisioning.Result, error) {
	inst, err := p.instance(ctx, spec.TenantID, spec.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := resource.CheckTransition(inst.Status, resource.StatusSuspended); err != nil {
		return nil, provisioning.InvalidSpec("compute", "%v", err)
	}
	if err := p.emitTask(ctx, job.TypeHypervisorPowerOff, ownerRef, inst); err != nil {
		return nil, err
	}
	return computeResult(inst), nil
}

// Resume emits the power-on job for a suspended instance.
func (p *ComputeProvisioner) Resume(ctx context.Context, ownerRef string, spec job.ComputeLifecycleSpec) (*provisioning.Result, error) {
	inst, err := p.instance(ctx, spec.TenantID, spec.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != resource.StatusSuspended {
		return nil, provisioning.InvalidSpec("compute", "instance %d is %s, cannot resume", inst.ID, inst.Status)
	}
	if err := p.emitTask(ctx, job.TypeHypervisorPowerOn, ownerRef, inst); err != nil {
		return nil, err
	}
	return computeResult(inst), nil
}

// Deprovision flips the instance to deprovisioning and emits the
// hypervisor delete job, which finalizes the row as deleted.
func (p *ComputeProvisioner) Deprovision(ctx context.Context, ownerRef string, spec job.ComputeLifecycleSpec) (*provisioning.Result, error) {
	inst, err := p.instance(ctx, spec.TenantID, spec.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := resource.CheckTransition(inst.Status, resource.StatusDeprovisioning); err != nil {
		return nil, provisioning.InvalidSpec("compute", "%v", err)
	}
	if inst.Status != resource.StatusDeprovisioning {
		allowed := []resource.Status{resource.StatusProvisioning, resource.StatusActive, resource.StatusSuspended}
		if err := p.repo.UpdateStatus(ctx, inst.ID, allowed, resource.StatusDeprovisioning, inst.ExternalRef, ""); err != nil {
			return nil, err
		}
		inst.Status = resource.StatusDeprovisioning
	}
	if err := p.emitTask(ctx, job.TypeHypervisorDelete, ownerRef, inst); err != nil {
		return nil, err
	}

	p.logger.Info("compute_instance_deprovision_requested",
		zap.Int64("instance_id", inst.ID),
	)
	return computeResult(inst), nil
}

func (p *ComputeProvisioner) instance(ctx context.Context, tenantID, instanceID int64) (*resource.ComputeInstance, error) {
	inst, err := p.repo.GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, provisioning.InvalidSpec("compute", "instance %d not found for tenant %d", instanceID, tenantID)
	}
	return inst, nil
}

func (p *ComputeProvisioner) emitTask(ctx context.Context, taskType job.Type, ownerRef string, inst *resource.ComputeInstance) error {
	_, err := p.enqueuer.EnqueueJob(ctx, taskType, inst.TenantID, ownerRef, job.HypervisorTaskSpec{
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
	})
	return err
}

func computeResult(inst *resource.ComputeInstance) *provisioning.Result {
	return &provisioning.Result{
		ExternalRef: strconv.FormatInt(inst.ID, 10),
		Detail: map[string]string{
			"subscription_id": inst.SubscriptionID,
			"plan":            inst.Plan,
			"region":          inst.Region,
		},
	}
}
