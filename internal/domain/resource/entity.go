package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state shared by every provisioned
// resource type.
type Status string

const (
	StatusProvisioning   Status = "provisioning"
	StatusActive         Status = "active"
	StatusSuspended      Status = "suspended"
	StatusDeprovisioning Status = "deprovisioning"
	StatusDeleted        Status = "deleted"
)

var ErrDeleted = errors.New("resource is deleted")

var transitions = map[Status][]Status{
	StatusProvisioning:   {StatusActive, StatusDeprovisioning},
	StatusActive:         {StatusSuspended, StatusDeprovisioning},
	StatusSuspended:      {StatusActive, StatusDeprovisioning},
	StatusDeprovisioning: {StatusDeleted},
	// deleted is terminal
}

// CanTransition reports whether moving from one status to another is
// allowed. Same-status is a no-op and always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for a forbidden move.
// Any transition attempted from deleted is an error, never a no-op.
func CheckTransition(from, to Status) error {
	if from == StatusDeleted {
		return fmt.Errorf("transition to %s: %w", to, ErrDeleted)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid state transition from %s to %s", from, to)
	}
	return nil
}

// Database is a provisioned tenant database plus its owning role.
type Database struct {
	ID        int64  `gorm:"primaryKey"`
	TenantID  int64  `gorm:"not null;index"`
	OwnerRef  string `gorm:"type:varchar(255);not null;index"`
	Name      string `gorm:"type:varchar(63);not null;uniqueIndex"`
	Username  string `gorm:"type:varchar(63);not null"`
	Status    Status `gorm:"type:varchar(50);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Database) TableName() string { return "tenant_databases" }

// Mailbox is a provisioned mail account. The maildir path is the
// directory bookkeeping written in the same transaction as the row.
type Mailbox struct {
	ID           int64  `gorm:"primaryKey"`
	TenantID     int64  `gorm:"not null;index"`
	OwnerRef     string `gorm:"type:varchar(255);not null;index"`
	Address      string `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	QuotaMB      int    `gorm:"not null"`
	Maildir      string `gorm:"type:varchar(512);not null"`
	Status       Status `gorm:"type:varchar(50);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Mailbox) TableName() string { return "mailboxes" }

// Forwarder is a mail forwarder. Multiple destinations live in one
// delimited field so creation is a single insert.
type Forwarder struct {
	ID           int64  `gorm:"primaryKey"`
	TenantID     int64  `gorm:"not null;index"`
	Address      string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Destinations string `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Forwarder) TableName() string { return "mail_forwarders" }

const forwarderDelimiter = ","

// JoinDestinations collapses forwarder targets into the stored form.
func JoinDestinations(dests []string) string {
	return strings.Join(dests, forwarderDelimiter)
}

// SplitDestinations expands the stored form back into targets.
func SplitDestinations(stored string) []string {
	if stored == "" {
		return nil
	}
	return strings.Split(stored, forwarderDelimiter)
}

// Zone is an authoritative DNS zone. Serial is monotonically
// increasing; every record mutation inside the zone bumps it.
type Zone struct {
	ID        int64  `gorm:"primaryKey"`
	TenantID  int64  `gorm:"not null;index:idx_zones_tenant_domain,unique"`
	OwnerRef  string `gorm:"type:varchar(255);not null;index"`
	Domain    string `gorm:"type:varchar(255);not null;index:idx_zones_tenant_domain,unique"`
	Serial    int64  `gorm:"not null"`
	Status    Status `gorm:"type:varchar(50);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Zone) TableName() string { return "dns_zones" }

// Record is a single DNS record belonging to a zone.
type Record struct {
	ID        int64  `gorm:"primaryKey"`
	ZoneID    int64  `gorm:"not null;index"`
	TenantID  int64  `gorm:"not null;index"`
	Name      string `gorm:"type:varchar(255);not null"`
	Kind      string `gorm:"type:varchar(10);not null;column:kind"`
	Content   string `gorm:"type:text;not null"`
	TTL       int    `gorm:"not null"`
	Priority  int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Record) TableName() string { return "dns_records" }

// ComputeInstance is a provisioned virtual machine tied to exactly one
// subscription. ExternalRef is the hypervisor's server id.
type ComputeInstance struct {
	ID             int64  `gorm:"primaryKey"`
	TenantID       int64  `gorm:"not null;index"`
	SubscriptionID string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Plan           string `gorm:"type:varchar(50);not null"`
	Region         string `gorm:"type:varchar(50);not null"`
	ExternalRef    string `gorm:"type:varchar(255)"`
	Status         Status `gorm:"type:varchar(50);not null"`
	LastError      string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ComputeInstance) TableName() string { return "compute_instances" }

// SubscriptionLink is the billing-side half of the
// subscription<->instance reference. It is written in the same
// transaction as the instance row so neither side can dangle.
type SubscriptionLink struct {
	SubscriptionID string `gorm:"primaryKey;type:varchar(255)"`
	InstanceID     int64  `gorm:"not null;uniqueIndex"`
	TenantID       int64  `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SubscriptionLink) TableName() string { return "subscription_links" }

// ComputeRepository persists compute instances and their subscription
// linkage. CreateWithLink must be atomic: either both sides of the
// reference exist or neither does.
type ComputeRepository interface {
	FindBySubscription(ctx context.Context, tenantID int64, subscriptionID string) (*ComputeInstance, error)
	GetByID(ctx context.Context, tenantID, instanceID int64) (*ComputeInstance, error)
	CreateWithLink(ctx context.Context, inst *ComputeInstance) error
	// UpdateStatus performs a guarded transition: the update applies
	// only while the instance is in one of the allowed states.
	UpdateStatus(ctx context.Context, instanceID int64, allowed []Status, next Status, externalRef, lastError string) error
	UpdatePlan(ctx context.Context, instanceID int64, plan string) error
}
