package job

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Type identifies the kind of provisioning work a job carries.
type Type string

const (
	TypeDatabaseProvision   Type = "database.provision"
	TypeDatabaseDeprovision Type = "database.deprovision"

	TypeMailboxProvision   Type = "mailbox.provision"
	TypeMailboxDeprovision Type = "mailbox.deprovision"
	TypeMailboxResize      Type = "mailbox.resize"
	TypeForwarderProvision Type = "forwarder.provision"

	TypeDNSZoneProvision   Type = "dns_zone.provision"
	TypeDNSZoneDeprovision Type = "dns_zone.deprovision"
	TypeDNSRecordCreate    Type = "dns_record.create"
	TypeDNSRecordDelete    Type = "dns_record.delete"

	TypeComputeProvision   Type = "compute.provision"
	TypeComputeResize      Type = "compute.resize"
	TypeComputeSuspend     Type = "compute.suspend"
	TypeComputeResume      Type = "compute.resume"
	TypeComputeDeprovision Type = "compute.deprovision"

	// Hypervisor jobs are emitted by the compute provisioner so the
	// worker that talks to the VM API stays independently retryable.
	TypeHypervisorCreate   Type = "hypervisor.create"
	TypeHypervisorResize   Type = "hypervisor.resize"
	TypeHypervisorPowerOff Type = "hypervisor.power_off"
	TypeHypervisorPowerOn  Type = "hypervisor.power_on"
	TypeHypervisorDelete   Type = "hypervisor.delete"
)

// AllTypes lists every job type a worker pool can be started for.
var AllTypes = []Type{
	TypeDatabaseProvision,
	TypeDatabaseDeprovision,
	TypeMailboxProvision,
	TypeMailboxDeprovision,
	TypeMailboxResize,
	TypeForwarderProvision,
	TypeDNSZoneProvision,
	TypeDNSZoneDeprovision,
	TypeDNSRecordCreate,
	TypeDNSRecordDelete,
	TypeComputeProvision,
	TypeComputeResize,
	TypeComputeSuspend,
	TypeComputeResume,
	TypeComputeDeprovision,
	TypeHypervisorCreate,
	TypeHypervisorResize,
	TypeHypervisorPowerOff,
	TypeHypervisorPowerOn,
	TypeHypervisorDelete,
}

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	// DefaultMaxAttempts applies uniformly across job types.
	DefaultMaxAttempts = 3

	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

// RawJSON stores raw JSON bytes as a textual column value, so the
// driver does not bind them as bytea.
type RawJSON []byte

func (p RawJSON) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

func (p *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case string:
		*p = RawJSON(v)
	case []byte:
		*p = append(RawJSON(nil), v...)
	default:
		return fmt.Errorf("unsupported raw json source %T", src)
	}
	return nil
}

// Job is a durable unit of provisioning work. The jobs table is the
// single source of truth for claim state; the queue only wakes workers.
type Job struct {
	ID          int64  `gorm:"primaryKey"`
	Type        Type   `gorm:"type:varchar(100);not null;index:idx_jobs_type_status"`
	TenantID    int64  `gorm:"not null;index"`
	OwnerRef    string `gorm:"type:varchar(255);not null;index"`
	Payload     RawJSON `gorm:"type:jsonb"`
	Status      Status  `gorm:"type:varchar(50);not null;index:idx_jobs_type_status"`
	Attempts    int     `gorm:"not null;default:0"`
	MaxAttempts int     `gorm:"not null"`
	Result      RawJSON `gorm:"type:text"`
	LastError   string  `gorm:"type:text"`

	NotBefore   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Job) TableName() string {
	return "jobs"
}

// New creates a pending job. The payload must already be encoded.
func New(id int64, jobType Type, tenantID int64, ownerRef string, payload []byte) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          id,
		Type:        jobType,
		TenantID:    tenantID,
		OwnerRef:    ownerRef,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ScheduleRetry puts the job back to pending after a backoff delay,
// keeping its id and attempt count. The same row retries until it
// completes or exhausts its attempts, so owner aggregates never see a
// superseded record. The caller persists the change.
func (j *Job) ScheduleRetry(now time.Time) {
	notBefore := now.Add(RetryDelay(j.Attempts))
	j.Status = StatusPending
	j.NotBefore = &notBefore
	j.UpdatedAt = now
}

// Exhausted reports whether the job has used up its allowed attempts.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// RetryDelay returns the backoff delay before the given attempt number
// runs again: baseRetryDelay doubled per prior attempt, capped.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return baseRetryDelay
	}
	shift := attempts
	if shift > 10 {
		shift = 10
	}
	d := baseRetryDelay * time.Duration(1<<shift)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// ValidType reports whether the given string names a known job type.
func ValidType(t Type) bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}
