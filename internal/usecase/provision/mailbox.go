package provision

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

const (
	minQuotaMB = 1
	maxQuotaMB = 102400

	mailRoot = "/var/vmail"

	// blfCryptPrefix marks the hash scheme for Dovecot.
	blfCryptPrefix = "{BLF-CRYPT}"
)

// MailboxProvisioner manages mail accounts and forwarders. All writes
// for one mailbox happen inside a single transaction, so validation
// failures never partially write.
type MailboxProvisioner struct {
	db     *gorm.DB
	node   *snowflake.Node
	logger *zap.Logger
}

func NewMailboxProvisioner(db *gorm.DB, node *snowflake.Node, logger *zap.Logger) *MailboxProvisioner {
	return &MailboxProvisioner{
		db:     db,
		node:   node,
		logger: logger.Named("provision.mailbox"),
	}
}

// ValidEmail reports whether the address passes the strict syntax
// check applied before any storage is touched.
func ValidEmail(address string) bool {
	return len(address) <= 254 && emailPattern.MatchString(address)
}

// HashMailboxPassword produces a Dovecot-compatible BLF-CRYPT hash.
func HashMailboxPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return blfCryptPrefix + string(hash), nil
}

// MaildirFor derives the on-disk directory for an address. The address
// must already be validated.
func MaildirFor(address string) string {
	local, domain, _ := strings.Cut(address, "@")
	return path.Join(mailRoot, domain, local, "Maildir")
}

func (p *MailboxProvisioner) Provision(ctx context.Context, ownerRef string, spec job.MailboxSpec) (*provisioning.Result, error) {
	if !ValidEmail(spec.Email) {
		return nil, provisioning.InvalidSpec("mailbox", "malformed address %q", spec.Email)
	}
	if spec.Password == "" {
		return nil, provisioning.InvalidSpec("mailbox", "password is required")
	}
	if spec.QuotaMB < minQuotaMB || spec.QuotaMB > maxQuotaMB {
		return nil, provisioning.InvalidSpec("mailbox", "quota %d MB out of range [%d, %d]", spec.QuotaMB, minQuotaMB, maxQuotaMB)
	}

	hash, err := HashMailboxPassword(spec.Password)
	if err != nil {
		return nil, err
	}

	maildir := MaildirFor(spec.Email)
	now := time.Now().UTC()
	mailbox := resource.Mailbox{
		ID:           p.node.GenerateID(),
		TenantID:     spec.TenantID,
		OwnerRef:     ownerRef,
		Address:      spec.Email,
		PasswordHash: hash,
		QuotaMB:      spec.QuotaMB,
		Maildir:      maildir,
		Status:       resource.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resource.Mailbox{}).
			Where("address = ?", spec.Email).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return provisioning.AlreadyExists("mailbox", "mailbox %q exists", spec.Email)
		}
		return tx.Create(&mailbox).Error
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("mailbox_provisioned",
		zap.Int64("tenant_id", spec.TenantID),
		zap.String("address", spec.Email),
	)

	return &provisioning.Result{
		ExternalRef: maildir,
		Detail:      map[string]string{"address": spec.Email},
	}, nil
}

// ProvisionForwarder stores a multi-destination forwarder as a single
// row with a delimited destination field; creating one is one insert.
func (p *MailboxProvisioner) ProvisionForwarder(ctx context.Context, spec job.ForwarderSpec) (*provisioning.Result, error) {
	if !ValidEmail(spec.Address) {
		return nil, provisioning.InvalidSpec("forwarder", "malformed address %q", spec.Address)
	}
	if len(spec.Destinations) == 0 {
		return nil, provisioning.InvalidSpec("forwarder", "at least one destination is required")
	}
	for _, dest := range spec.Destinations {
		if !ValidEmail(dest) {
			return nil, provisioning.InvalidSpec("forwarder", "malformed destination %q", dest)
		}
	}

	now := time.Now().UTC()
	forwarder := resource.Forwarder{
		ID:           p.node.GenerateID(),
		TenantID:     spec.TenantID,
		Address:      spec.Address,
		Destinations: resource.JoinDestinations(spec.Destinations),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resource.Forwarder{}).
			Where("address = ?", spec.Address).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return provisioning.AlreadyExists("forwarder", "forwarder %q exists", spec.Address)
		}
		return tx.Create(&forwarder).Error
	})
	if err != nil {
		return nil, err
	}

	return &provisioning.Result{ExternalRef: spec.Address}, nil
}

// Resize changes the quota of an existing mailbox.
func (p *MailboxProvisioner) Resize(ctx context.Context, spec job.MailboxResizeSpec) (*provisioning.Result, error) {
	if !ValidEmail(spec.Email) {
		return nil, provisioning.InvalidSpec("mailbox", "malformed address %q", spec.Email)
	}
	if spec.QuotaMB < minQuotaMB || spec.QuotaMB > maxQuotaMB {
		return nil, provisioning.InvalidSpec("mailbox", "quota %d MB out of range [%d, %d]", spec.QuotaMB, minQuotaMB, maxQuotaMB)
	}

	result := p.db.WithContext(ctx).Model(&resource.Mailbox{}).
		Where("tenant_id = ? AND address = ? AND status <> ?", spec.TenantID, spec.Email, resource.StatusDeleted).
		Updates(map[string]any{
			"quota_mb":   spec.QuotaMB,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, provisioning.InvalidSpec("mailbox", "mailbox %q not found for tenant %d", spec.Email, spec.TenantID)
	}
	return &provisioning.Result{ExternalRef: spec.Email}, nil
}

// Deprovision deletes the mailbox row, maildir path included, after a
// status-guarded lookup in the same transaction.
func (p *MailboxProvisioner) Deprovision(ctx context.Context, spec job.MailboxDeprovisionSpec) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mailbox resource.Mailbox
		err := tx.Where("tenant_id = ? AND address = ?", spec.TenantID, spec.Email).
			First(&mailbox).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return provisioning.InvalidSpec("mailbox", "mailbox %q not found for tenant %d", spec.Email, spec.TenantID)
			}
			return err
		}
		if err := resource.CheckTransition(mailbox.Status, resource.StatusDeprovisioning); err != nil {
			return provisioning.InvalidSpec("mailbox", "%v", err)
		}
		return tx.Delete(&resource.Mailbox{}, "id = ?", mailbox.ID).Error
	})
}
