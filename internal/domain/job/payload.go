package job

import (
	"encoding/json"
	"fmt"
)

// DatabaseSpec describes a tenant database plus its owning role.
type DatabaseSpec struct {
	TenantID      int64  `json:"tenant_id"`
	DatabaseName  string `json:"database_name"`
	OwnerUsername string `json:"owner_username"`
	Password      string `json:"password,omitempty"`
}

// DatabaseDeprovisionSpec names the database to drop.
type DatabaseDeprovisionSpec struct {
	TenantID     int64  `json:"tenant_id"`
	DatabaseName string `json:"database_name"`
}

// MailboxSpec describes a mailbox account.
type MailboxSpec struct {
	TenantID int64  `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	QuotaMB  int    `json:"quota_mb"`
}

// MailboxDeprovisionSpec names the mailbox to remove.
type MailboxDeprovisionSpec struct {
	TenantID int64  `json:"tenant_id"`
	Email    string `json:"email"`
}

// MailboxResizeSpec changes the quota of an existing mailbox.
type MailboxResizeSpec struct {
	TenantID int64  `json:"tenant_id"`
	Email    string `json:"email"`
	QuotaMB  int    `json:"quota_mb"`
}

// ForwarderSpec describes a mail forwarder. Destinations are persisted
// as a single delimited field.
type ForwarderSpec struct {
	TenantID     int64    `json:"tenant_id"`
	Address      string   `json:"address"`
	Destinations []string `json:"destinations"`
}

// DNSZoneSpec describes a zone to create with its default record set.
type DNSZoneSpec struct {
	TenantID int64  `json:"tenant_id"`
	Domain   string `json:"domain"`
}

// DNSZoneDeprovisionSpec names the zone to cascade-delete.
type DNSZoneDeprovisionSpec struct {
	TenantID int64 `json:"tenant_id"`
	ZoneID   int64 `json:"zone_id"`
}

// DNSRecordSpec describes a single record mutation inside a zone.
type DNSRecordSpec struct {
	TenantID int64  `json:"tenant_id"`
	ZoneID   int64  `json:"zone_id"`
	RecordID int64  `json:"record_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Content  string `json:"content,omitempty"`
	TTL      int    `json:"ttl,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// ComputeSpec describes a compute instance request tied to a
// subscription. Plan is resolved against the fixed catalog.
type ComputeSpec struct {
	TenantID       int64  `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
	Region         string `json:"region"`
}

// HypervisorTaskSpec targets one instance for a hypervisor call. The
// instance row carries everything else the executor needs.
type HypervisorTaskSpec struct {
	TenantID   int64 `json:"tenant_id"`
	InstanceID int64 `json:"instance_id"`
}

// ComputeResizeSpec changes the plan of an existing instance.
type ComputeResizeSpec struct {
	TenantID   int64  `json:"tenant_id"`
	InstanceID int64  `json:"instance_id"`
	Plan       string `json:"plan"`
}

// ComputeLifecycleSpec targets an existing instance for
// suspend/resume/deprovision.
type ComputeLifecycleSpec struct {
	TenantID   int64 `json:"tenant_id"`
	InstanceID int64 `json:"instance_id"`
}

// Encode serializes a typed payload for storage.
func Encode(spec any) ([]byte, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// Decode returns the statically-typed payload for a job type, so each
// handler works against a concrete spec instead of loose JSON.
func Decode(jobType Type, raw []byte) (any, error) {
	var (
		spec any
		err  error
	)

	switch jobType {
	case TypeDatabaseProvision:
		spec, err = decodeAs[DatabaseSpec](raw)
	case TypeDatabaseDeprovision:
		spec, err = decodeAs[DatabaseDeprovisionSpec](raw)
	case TypeMailboxProvision:
		spec, err = decodeAs[MailboxSpec](raw)
	case TypeMailboxDeprovision:
		spec, err = decodeAs[MailboxDeprovisionSpec](raw)
	case TypeMailboxResize:
		spec, err = decodeAs[MailboxResizeSpec](raw)
	case TypeForwarderProvision:
		spec, err = decodeAs[ForwarderSpec](raw)
	case TypeDNSZoneProvision:
		spec, err = decodeAs[DNSZoneSpec](raw)
	case TypeDNSZoneDeprovision:
		spec, err = decodeAs[DNSZoneDeprovisionSpec](raw)
	case TypeDNSRecordCreate, TypeDNSRecordDelete:
		spec, err = decodeAs[DNSRecordSpec](raw)
	case TypeComputeProvision:
		spec, err = decodeAs[ComputeSpec](raw)
	case TypeComputeResize:
		spec, err = decodeAs[ComputeResizeSpec](raw)
	case TypeComputeSuspend, TypeComputeResume, TypeComputeDeprovision:
		spec, err = decodeAs[ComputeLifecycleSpec](raw)
	case TypeHypervisorCreate, TypeHypervisorResize, TypeHypervisorPowerOff,
		TypeHypervisorPowerOn, TypeHypervisorDelete:
		spec, err = decodeAs[HypervisorTaskSpec](raw)
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	return spec, nil
}

func decodeAs[T any](raw []byte) (T, error) {
	var spec T
	err := json.Unmarshal(raw, &spec)
	return spec, err
}
