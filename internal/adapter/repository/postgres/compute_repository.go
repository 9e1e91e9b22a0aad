package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
)

// ComputeRepository persists compute instances and their subscription
// linkage.
type ComputeRepository struct {
	db *gorm.DB
}

func NewComputeRepository(db *gorm.DB) *ComputeRepository {
	return &ComputeRepository{db: db}
}

func (r *ComputeRepository) FindBySubscription(ctx context.Context, tenantID int64, subscriptionID string) (*resource.ComputeInstance, error) {
	var inst resource.ComputeInstance
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id = ?", tenantID, subscriptionID).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

func (r *ComputeRepository) GetByID(ctx context.Context, tenantID, instanceID int64) (*resource.ComputeInstance, error) {
	var inst resource.ComputeInstance
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", instanceID, tenantID).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

// CreateWithLink writes the instance row and the billing-side link row
// in one transaction so the subscription<->instance reference is
// bidirectional from the first committed state.
func (r *ComputeRepository) CreateWithLink(ctx context.Context, inst *resource.ComputeInstance) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inst).Error; err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		link := resource.SubscriptionLink{
			SubscriptionID: inst.SubscriptionID,
			InstanceID:     inst.ID,
			TenantID:       inst.TenantID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("insert subscription link: %w", err)
		}
		return nil
	})
}

// UpdateStatus applies a guarded transition: the update only lands
// while the instance is in one of the allowed states. A no-op update
// to the current target is tolerated so retried jobs stay idempotent.
func (r *ComputeRepository) UpdateStatus(ctx context.Context, instanceID int64, allowed []resource.Status, next resource.Status, externalRef, lastError string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     next,
		"updated_at": now,
		"last_error": lastError,
	}
	if externalRef != "" {
		updates["external_ref"] = externalRef
	}

	result := r.db.WithContext(ctx).Model(&resource.ComputeInstance{}).
		Where("id = ? AND status IN ?", instanceID, statusStrings(allowed)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current string
	if err := r.db.WithContext(ctx).Model(&resource.ComputeInstance{}).
		Select("status").
		Where("id = ?", instanceID).
		Scan(&current).Error; err != nil {
		return err
	}
	if resource.Status(current) == next {
		return nil
	}
	return fmt.Errorf("invalid state transition from %s to %s", current, next)
}

func (r *ComputeRepository) UpdatePlan(ctx context.Context, instanceID int64, plan string) error {
	return r.db.WithContext(ctx).Model(&resource.ComputeInstance{}).
		Where("id = ?", instanceID).
		Updates(map[string]any{
			"plan":       plan,
			"updated_at": time.Now().UTC(),
		}).Error
}

func statusStrings(statuses []resource.Status) []string {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	return values
}
