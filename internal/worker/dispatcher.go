package worker

import (
	"context"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/usecase/provision"
)

// Dispatcher routes a claimed job to the handler for its type. Payloads
// are decoded here so handlers only ever see their concrete spec.
type Dispatcher struct {
	databases *provision.DatabaseProvisioner
	mailboxes *provision.MailboxProvisioner
	zones     *provision.DNSZoneProvisioner
	compute   *provision.ComputeProvisioner
	executor  *provision.ComputeExecutor
}

func NewDispatcher(
	databases *provision.DatabaseProvisioner,
	mailboxes *provision.MailboxProvisioner,
	zones *provision.DNSZoneProvisioner,
	compute *provision.ComputeProvisioner,
	executor *provision.ComputeExecutor,
) *Dispatcher {
	return &Dispatcher{
		databases: databases,
		mailboxes: mailboxes,
		zones:     zones,
		compute:   compute,
		executor:  executor,
	}
}

// Dispatch executes one job and returns the encoded result payload. An
// undecodable payload or unknown type is an invalid spec, never a
// retry candidate.
func (d *Dispatcher) Dispatch(ctx context.Context, j *job.Job) ([]byte, error) {
	payload, err := job.Decode(j.Type, j.Payload)
	if err != nil {
		return nil, provisioning.InvalidSpec(string(j.Type), "%v", err)
	}

	var res *provisioning.Result

	switch j.Type {
	case job.TypeDatabaseProvision:
		res, err = d.databases.Provision(ctx, j.OwnerRef, payload.(job.DatabaseSpec))
	case job.TypeDatabaseDeprovision:
		err = d.databases.Deprovision(ctx, payload.(job.DatabaseDeprovisionSpec))

	case job.TypeMailboxProvision:
		res, err = d.mailboxes.Provision(ctx, j.OwnerRef, payload.(job.MailboxSpec))
	case job.TypeMailboxDeprovision:
		err = d.mailboxes.Deprovision(ctx, payload.(job.MailboxDeprovisionSpec))
	case job.TypeMailboxResize:
		res, err = d.mailboxes.Resize(ctx, payload.(job.MailboxResizeSpec))
	case job.TypeForwarderProvision:
		res, err = d.mailboxes.ProvisionForwarder(ctx, payload.(job.ForwarderSpec))

	case job.TypeDNSZoneProvision:
		res, err = d.zones.Provision(ctx, j.OwnerRef, payload.(job.DNSZoneSpec))
	case job.TypeDNSZoneDeprovision:
		err = d.zones.Deprovision(ctx, payload.(job.DNSZoneDeprovisionSpec))
	case job.TypeDNSRecordCreate:
		res, err = d.zones.CreateRecord(ctx, payload.(job.DNSRecordSpec))
	case job.TypeDNSRecordDelete:
		err = d.zones.DeleteRecord(ctx, payload.(job.DNSRecordSpec))

	case job.TypeComputeProvision:
		res, err = d.compute.Provision(ctx, j.OwnerRef, payload.(job.ComputeSpec))
	case job.TypeComputeResize:
		res, err = d.compute.Resize(ctx, j.OwnerRef, payload.(job.ComputeResizeSpec))
	case job.TypeComputeSuspend:
		res, err = d.compute.Suspend(ctx, j.OwnerRef, payload.(job.ComputeLifecycleSpec))
	case job.TypeComputeResume:
		res, err = d.compute.Resume(ctx, j.OwnerRef, payload.(job.ComputeLifecycleSpec))
	case job.TypeComputeDeprovision:
		res, err = d.compute.Deprovision(ctx, j.OwnerRef, payload.(job.ComputeLifecycleSpec))

	case job.TypeHypervisorCreate:
		err = d.executor.HandleCreate(ctx, payload.(job.HypervisorTaskSpec))
	case job.TypeHypervisorResize:
		err = d.executor.HandleResize(ctx, payload.(job.HypervisorTaskSpec))
	case job.TypeHypervisorPowerOff:
		err = d.executor.HandlePowerOff(ctx, payload.(job.HypervisorTaskSpec))
	case job.TypeHypervisorPowerOn:
		err = d.executor.HandlePowerOn(ctx, payload.(job.HypervisorTaskSpec))
	case job.TypeHypervisorDelete:
		err = d.executor.HandleDelete(ctx, payload.(job.HypervisorTaskSpec))

	default:
		return nil, provisioning.InvalidSpec(string(j.Type), "no handler for job type")
	}

	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return job.Encode(res)
}
