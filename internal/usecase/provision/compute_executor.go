package provision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/plan"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
)

// ComputeExecutor runs the hypervisor half of compute jobs. Every
// handler re-reads the instance row first, so a retried job that
// already did its work becomes a no-op instead of a double call.
type ComputeExecutor struct {
	repo   resource.ComputeRepository
	hv     provisioning.Hypervisor
	logger *zap.Logger
}

func NewComputeExecutor(repo resource.ComputeRepository, hv provisioning.Hypervisor, logger *zap.Logger) *ComputeExecutor {
	return &ComputeExecutor{
		repo:   repo,
		hv:     hv,
		logger: logger.Named("provision.hypervisor"),
	}
}

// HandleCreate brings up the server and flips the instance to active
// with the hypervisor's id. A retry that finds an external ref already
// recorded skips the create and only finalizes the state.
func (e *ComputeExecutor) HandleCreate(ctx context.Context, spec job.HypervisorTaskSpec) error {
	inst, err := e.instance(ctx, spec)
	if err != nil {
		return err
	}
	switch inst.Status {
	case resource.StatusActive:
		return nil
	case resource.StatusProvisioning:
	default:
		return provisioning.InvalidSpec("compute", "instance %d is %s, cannot create", inst.ID, inst.Status)
	}

	ref := inst.ExternalRef
	if ref == "" {
		name := serverName(inst.ID)

		// A prior attempt may have created the machine and then died
		// before its id was recorded. Reuse it instead of leaking a
		// second server.
		ref, err = e.hv.FindServer(ctx, name)
		if err != nil {
			e.recordError(ctx, inst, err)
			return err
		}
	}
	if ref == "" {
		planSpec, err := plan.Resolve(inst.Plan)
		if err != nil {
			return provisioning.InvalidSpec("compute", "%v", err)
		}
		ref, err = e.hv.CreateServer(ctx, provisioning.ServerRequest{
			Name:       serverName(inst.ID),
			ServerType: planSpec.ServerType,
			Location:   inst.Region,
			Labels: map[string]string{
				"tenant":       fmt.Sprintf("%d", inst.TenantID),
				"subscription": inst.SubscriptionID,
			},
		})
		if err != nil {
			e.recordError(ctx, inst, err)
			return err
		}
	}

	allowed := []resource.Status{resource.StatusProvisioning}
	if err := e.repo.UpdateStatus(ctx, inst.ID, allowed, resource.StatusActive, ref, ""); err != nil {
		return err
	}

	e.logger.Info("compute_instance_created",
		zap.Int64("instance_id", inst.ID),
		zap.String("external_ref", ref),
	)
	return nil
}

// HandleResize applies the plan recorded on the instance row to the
// backing server.
func (e *ComputeExecutor) HandleResize(ctx context.Context, spec job.HypervisorTaskSpec) error {
	inst, err := e.instance(ctx, spec)
	if err != nil {
		return err
	}
	if inst.ExternalRef == "" {
		return provisioning.InvalidSpec("compute", "instance %d has no server to resize", inst.ID)
	}
	planSpec, err := plan.Resolve(inst.Plan)
	if err != nil {
		return provisioning.InvalidSpec("compute", "%v", err)
	}
	if err := e.hv.ResizeServer(ctx, inst.ExternalRef, planSpec.ServerType); err != nil {
		e.recordError(ctx, inst, err)
		return err
	}

	e.logger.Info("compute_instance_resized",
		zap.Int64("instance_id", inst.ID),
		zap.String("server_type", planSpec.ServerType),
	)
	return nil
}

// HandlePowerOff shuts the server down and flips active to suspended.
func (e *ComputeExecutor) HandlePowerOff(ctx context.Context, spec job.HypervisorTaskSpec) error {
	inst, err := e.instance(ctx, spec)
	if err != nil {
		return err
	}
	if inst.Status == resource.StatusSuspended {
		return nil
	}
	if inst.ExternalRef == "" {
		return provisioning.InvalidSpec("compute", "instance %d has no server to power off", inst.ID)
	}
	if err := e.hv.PowerOff(ctx, inst.ExternalRef); err != nil {
		e.recordError(ctx, inst, err)
		return err
	}
	allowed := []resource.Status{resource.StatusActive}
	return e.repo.UpdateStatus(ctx, inst.ID, allowed, resource.StatusSuspended, inst.ExternalRef, "")
}

// HandlePowerOn starts the server and flips suspended back to active.
func (e *ComputeExecutor) HandlePowerOn(ctx context.Context, spec job.HypervisorTaskSpec) error {
	inst, err := e.instance(ctx, spec)
	if err != nil {
		return err
	}
	if inst.Status == resource.StatusActive {
		return nil
	}
	if inst.ExternalRef == "" {
		return provisioning.InvalidSpec("compute", "instance %d has no server to power on", inst.ID)
	}
	if err := e.hv.PowerOn(ctx, inst.ExternalRef); err != nil {
		e.recordError(ctx, inst, err)
		return err
	}
	allowed := []resource.Status{resource.StatusSuspended}
	return e.repo.UpdateStatus(ctx, inst.ID, allowed, resource.StatusActive, inst.ExternalRef, "")
}

// HandleDelete tears the server down and finalizes the row as deleted.
// An instance that never reached the hypervisor has no server; only the
// bookkeeping is finalized then.
func (e *ComputeExecutor) HandleDelete(ctx context.Context, spec job.HypervisorTaskSpec) error {
	inst, err := e.instance(ctx, spec)
	if err != nil {
		return err
	}
	if inst.Status == resource.StatusDeleted {
		return nil
	}
	if inst.ExternalRef != "" {
		if err := e.hv.DeleteServer(ctx, inst.ExternalRef); err != nil {
			e.recordError(ctx, inst, err)
			return err
		}
	}
	allowed := []resource.Status{resource.StatusDeprovisioning}
	if err := e.repo.UpdateStatus(ctx, inst.ID, allowed, resource.StatusDeleted, inst.ExternalRef, ""); err != nil {
		return err
	}

	e.logger.Info("compute_instance_deleted",
		zap.Int64("instance_id", inst.ID),
	)
	return nil
}

func serverName(instanceID int64) string {
	return fmt.Sprintf("instance-%d", instanceID)
}

func (e *ComputeExecutor) instance(ctx context.Context, spec job.HypervisorTaskSpec) (*resource.ComputeInstance, error) {
	inst, err := e.repo.GetByID(ctx, spec.TenantID, spec.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, provisioning.InvalidSpec("compute", "instance %d not found for tenant %d", spec.InstanceID, spec.TenantID)
	}
	return inst, nil
}

// recordError keeps the last hypervisor failure on the row for
// operators; the job layer owns the retry, so the state stays put.
func (e *ComputeExecutor) recordError(ctx context.Context, inst *resource.ComputeInstance, cause error) {
	allowed := []resource.Status{inst.Status}
	if err := e.repo.UpdateStatus(ctx, inst.ID, allowed, inst.Status, inst.ExternalRef, cause.Error()); err != nil {
		e.logger.Warn("compute_last_error_not_recorded",
			zap.Int64("instance_id", inst.ID),
			zap.Error(err),
		)
	}
}
