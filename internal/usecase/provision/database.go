package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
)

// identPattern is the restricted character set for database and role
// names. Anything else is rejected, never silently rewritten.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const maxIdentLen = 63

// DatabaseProvisioner creates and destroys tenant databases plus their
// owning roles on the shared cluster.
type DatabaseProvisioner struct {
	admin  provisioning.DatabaseAdmin
	db     *gorm.DB
	node   *snowflake.Node
	logger *zap.Logger
}

func NewDatabaseProvisioner(admin provisioning.DatabaseAdmin, db *gorm.DB, node *snowflake.Node, logger *zap.Logger) *DatabaseProvisioner {
	return &DatabaseProvisioner{
		admin:  admin,
		db:     db,
		node:   node,
		logger: logger.Named("provision.database"),
	}
}

func validIdent(name string) bool {
	return len(name) > 0 && len(name) <= maxIdentLen && identPattern.MatchString(name)
}

// Provision creates the database, the owning role, and the grant. If a
// later step fails, everything created before it is dropped again
// before the error returns; no orphaned database or role survives a
// failed call.
func (p *DatabaseProvisioner) Provision(ctx context.Context, ownerRef string, spec job.DatabaseSpec) (*provisioning.Result, error) {
	if !validIdent(spec.DatabaseName) {
		return nil, provisioning.InvalidSpec("database", "invalid database name %q", spec.DatabaseName)
	}
	if !validIdent(spec.OwnerUsername) {
		return nil, provisioning.InvalidSpec("database", "invalid owner username %q", spec.OwnerUsername)
	}

	dbExists, err := p.admin.DatabaseExists(ctx, spec.DatabaseName)
	if err != nil {
		return nil, err
	}
	if dbExists {
		return nil, provisioning.AlreadyExists("database", "database %q exists", spec.DatabaseName)
	}
	roleExists, err := p.admin.RoleExists(ctx, spec.OwnerUsername)
	if err != nil {
		return nil, err
	}
	if roleExists {
		return nil, provisioning.AlreadyExists("database", "role %q exists", spec.OwnerUsername)
	}

	password := spec.Password
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return nil, fmt.Errorf("generate password: %w", err)
		}
	}

	comp := newCompensation(p.logger)

	if err := p.admin.CreateDatabase(ctx, spec.DatabaseName, ""); err != nil {
		return nil, provisioning.Transient("database", err)
	}
	comp.add("drop database", func(ctx context.Context) error {
		return p.admin.DropDatabase(ctx, spec.DatabaseName)
	})

	if err := p.admin.CreateRole(ctx, spec.OwnerUsername, password); err != nil {
		comp.run(ctx)
		return nil, provisioning.RolledBack("database", err)
	}
	comp.add("drop role", func(ctx context.Context) error {
		return p.admin.DropRole(ctx, spec.OwnerUsername)
	})

	if err := p.admin.GrantPrivileges(ctx, spec.DatabaseName, spec.OwnerUsername); err != nil {
		comp.run(ctx)
		return nil, provisioning.RolledBack("database", err)
	}

	now := time.Now().UTC()
	record := resource.Database{
		ID:        p.node.GenerateID(),
		TenantID:  spec.TenantID,
		OwnerRef:  ownerRef,
		Name:      spec.DatabaseName,
		Username:  spec.OwnerUsername,
		Status:    resource.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		comp.run(ctx)
		return nil, provisioning.RolledBack("database", fmt.Errorf("record resource: %w", err))
	}

	p.logger.Info("database_provisioned",
		zap.Int64("tenant_id", spec.TenantID),
		zap.String("database", spec.DatabaseName),
	)

	return &provisioning.Result{
		ExternalRef: spec.DatabaseName,
		Detail: map[string]string{
			"username": spec.OwnerUsername,
			"password": password,
		},
	}, nil
}

// Deprovision drops in reverse creation order: connections first, then
// the database, then the role, since dropping the role while it still
// owns the database would fail.
func (p *DatabaseProvisioner) Deprovision(ctx context.Context, spec job.DatabaseDeprovisionSpec) error {
	if !validIdent(spec.DatabaseName) {
		return provisioning.InvalidSpec("database", "invalid database name %q", spec.DatabaseName)
	}

	var record resource.Database
	err := p.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", spec.TenantID, spec.DatabaseName).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return provisioning.InvalidSpec("database", "database %q not found for tenant %d", spec.DatabaseName, spec.TenantID)
		}
		return err
	}
	if err := resource.CheckTransition(record.Status, resource.StatusDeprovisioning); err != nil {
		return provisioning.InvalidSpec("database", "%v", err)
	}

	if err := p.markStatus(ctx, record.ID, resource.StatusDeprovisioning); err != nil {
		return err
	}

	if err := p.admin.TerminateConnections(ctx, spec.DatabaseName); err != nil {
		return provisioning.Transient("database", err)
	}
	if err := p.admin.DropDatabase(ctx, spec.DatabaseName); err != nil {
		return provisioning.Transient("database", err)
	}
	if err := p.admin.DropRole(ctx, record.Username); err != nil {
		return provisioning.Transient("database", err)
	}

	if err := p.markStatus(ctx, record.ID, resource.StatusDeleted); err != nil {
		return err
	}

	p.logger.Info("database_deprovisioned",
		zap.Int64("tenant_id", spec.TenantID),
		zap.String("database", spec.DatabaseName),
	)
	return nil
}

func (p *DatabaseProvisioner) markStatus(ctx context.Context, id int64, status resource.Status) error {
	return p.db.WithContext(ctx).Model(&resource.Database{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
