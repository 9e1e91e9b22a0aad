package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

var domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

const defaultRecordTTL = 3600

// DNSZoneProvisioner manages authoritative zones and their records.
// Zone creation and every record mutation run inside one transaction,
// so a zone is never observable with a partial record set or a stale
// serial.
type DNSZoneProvisioner struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    *config.Config
	logger *zap.Logger
}

func NewDNSZoneProvisioner(db *gorm.DB, node *snowflake.Node, cfg *config.Config, logger *zap.Logger) *DNSZoneProvisioner {
	return &DNSZoneProvisioner{
		db:     db,
		node:   node,
		cfg:    cfg,
		logger: logger.Named("provision.dns"),
	}
}

// ValidDomain reports whether the name is acceptable zone syntax.
func ValidDomain(domain string) bool {
	return len(domain) <= 253 && domainPattern.MatchString(domain)
}

// InitialSerial derives the first SOA serial of a zone from a date,
// YYYYMMDD01 per common zone file convention.
func InitialSerial(now time.Time) int64 {
	y, m, d := now.UTC().Date()
	return int64(y*10000+int(m)*100+d)*100 + 1
}

// buildDefaultRecords returns the record set a zone must carry before
// it is considered active: SOA, two NS, apex A, www CNAME, and MX.
func buildDefaultRecords(node *snowflake.Node, zone *resource.Zone, cfg *config.Config, now time.Time) []resource.Record {
	soaContent := fmt.Sprintf("%s hostmaster.%s %d 10800 3600 604800 3600",
		cfg.DNSPrimaryNS, zone.Domain, zone.Serial)

	specs := []struct {
		name     string
		kind     string
		content  string
		priority int
	}{
		{zone.Domain, "SOA", soaContent, 0},
		{zone.Domain, "NS", cfg.DNSPrimaryNS, 0},
		{zone.Domain, "NS", cfg.DNSSecondaryNS, 0},
		{zone.Domain, "A", cfg.DNSDefaultIP, 0},
		{"www." + zone.Domain, "CNAME", zone.Domain, 0},
		{zone.Domain, "MX", "mail." + zone.Domain, 10},
	}

	records := make([]resource.Record, 0, len(specs))
	for _, s := range specs {
		records = append(records, resource.Record{
			ID:        node.GenerateID(),
			ZoneID:    zone.ID,
			TenantID:  zone.TenantID,
			Name:      s.name,
			Kind:      s.kind,
			Content:   s.content,
			TTL:       defaultRecordTTL,
			Priority:  s.priority,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return records
}

func (p *DNSZoneProvisioner) Provision(ctx context.Context, ownerRef string, spec job.DNSZoneSpec) (*provisioning.Result, error) {
	if !ValidDomain(spec.Domain) {
		return nil, provisioning.InvalidSpec("dns_zone", "invalid domain %q", spec.Domain)
	}

	now := time.Now().UTC()
	zone := resource.Zone{
		ID:        p.node.GenerateID(),
		TenantID:  spec.TenantID,
		OwnerRef:  ownerRef,
		Domain:    spec.Domain,
		Serial:    InitialSerial(now),
		Status:    resource.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resource.Zone{}).
			Where("tenant_id = ? AND domain = ?", spec.TenantID, spec.Domain).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return provisioning.AlreadyExists("dns_zone", "zone %q exists for tenant %d", spec.Domain, spec.TenantID)
		}

		if err := tx.Create(&zone).Error; err != nil {
			return fmt.Errorf("insert zone: %w", err)
		}
		records := buildDefaultRecords(p.node, &zone, p.cfg, now)
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("insert default records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("dns_zone_provisioned",
		zap.Int64("tenant_id", spec.TenantID),
		zap.String("domain", spec.Domain),
		zap.Int64("serial", zone.Serial),
	)

	return &provisioning.Result{
		ExternalRef: fmt.Sprintf("%d", zone.ID),
		Detail:      map[string]string{"domain": spec.Domain},
	}, nil
}

// CreateRecord inserts a record and bumps the zone serial in the same
// transaction; callers never observe a record change with a stale
// serial. GREATEST keeps the serial monotonic across date rollover.
func (p *DNSZoneProvisioner) CreateRecord(ctx context.Context, spec job.DNSRecordSpec) (*provisioning.Result, error) {
	if spec.Name == "" || spec.Kind == "" || spec.Content == "" {
		return nil, provisioning.InvalidSpec("dns_record", "name, kind and content are required")
	}

	now := time.Now().UTC()
	record := resource.Record{
		ID:        p.node.GenerateID(),
		ZoneID:    spec.ZoneID,
		TenantID:  spec.TenantID,
		Name:      spec.Name,
		Kind:      spec.Kind,
		Content:   spec.Content,
		TTL:       spec.TTL,
		Priority:  spec.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.TTL <= 0 {
		record.TTL = defaultRecordTTL
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.guardZone(tx, spec.TenantID, spec.ZoneID); err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return p.bumpSerial(tx, spec.ZoneID, now)
	})
	if err != nil {
		return nil, err
	}

	return &provisioning.Result{ExternalRef: fmt.Sprintf("%d", record.ID)}, nil
}

// DeleteRecord removes a record and bumps the serial atomically. The
// SOA record is never deletable on its own; it goes with the zone.
func (p *DNSZoneProvisioner) DeleteRecord(ctx context.Context, spec job.DNSRecordSpec) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.guardZone(tx, spec.TenantID, spec.ZoneID); err != nil {
			return err
		}

		var record resource.Record
		err := tx.Where("id = ? AND zone_id = ?", spec.RecordID, spec.ZoneID).
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return provisioning.InvalidSpec("dns_record", "record %d not found in zone %d", spec.RecordID, spec.ZoneID)
			}
			return err
		}
		if record.Kind == "SOA" {
			return provisioning.InvalidSpec("dns_record", "SOA record cannot be deleted")
		}

		if err := tx.Delete(&resource.Record{}, "id = ?", record.ID).Error; err != nil {
			return err
		}
		return p.bumpSerial(tx, spec.ZoneID, now)
	})
}

// Deprovision cascade-deletes all records with the zone row in one
// transaction; no dangling record may reference a deleted zone.
func (p *DNSZoneProvisioner) Deprovision(ctx context.Context, spec job.DNSZoneDeprovisionSpec) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.guardZone(tx, spec.TenantID, spec.ZoneID); err != nil {
			return err
		}
		if err := tx.Delete(&resource.Record{}, "zone_id = ?", spec.ZoneID).Error; err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
		if err := tx.Delete(&resource.Zone{}, "id = ?", spec.ZoneID).Error; err != nil {
			return fmt.Errorf("delete zone: %w", err)
		}
		return nil
	})
}

// guardZone enforces tenant scoping; a record mutation against another
// tenant's zone is an invariant violation, not a missing filter.
func (p *DNSZoneProvisioner) guardZone(tx *gorm.DB, tenantID, zoneID int64) error {
	var zone resource.Zone
	err := tx.First(&zone, "id = ?", zoneID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return provisioning.InvalidSpec("dns_zone", "zone %d not found", zoneID)
		}
		return err
	}
	if zone.TenantID != tenantID {
		return provisioning.InvalidSpec("dns_zone", "zone %d does not belong to tenant %d", zoneID, tenantID)
	}
	if zone.Status == resource.StatusDeleted {
		return provisioning.InvalidSpec("dns_zone", "zone %d is deleted", zoneID)
	}
	return nil
}

func (p *DNSZoneProvisioner) bumpSerial(tx *gorm.DB, zoneID int64, now time.Time) error {
	dateBase := InitialSerial(now)
	return tx.Model(&resource.Zone{}).
		Where("id = ?", zoneID).
		Updates(map[string]any{
			"serial":     gorm.Expr("GREATEST(serial + 1, ?)", dateBase),
			"updated_at": now,
		}).Error
}
