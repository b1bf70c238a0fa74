// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for pricing rules.
// Validation (floor <= cap, scope refs) lives in the pricing package; these
// functions only persist.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// CreatePricingRule inserts a rule; a second rule for the same (scope,
// scope_ref) returns ErrDuplicate.
func CreatePricingRule(ctx context.Context, db *gorm.DB, r *domain.PricingRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdatePricingRule overwrites margin, floor and cap of an existing rule.
func UpdatePricingRule(ctx context.Context, db *gorm.DB, r *domain.PricingRule) error {
	r.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.PricingRule{}).
		Where("id = ?", r.ID).
		UpdateColumns(map[string]any{
			"margin_pct":  r.MarginPct,
			"floor_minor": r.FloorMinor,
			"cap_minor":   r.CapMinor,
			"updated_at":  r.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPricingRule fetches a rule by id.
func GetPricingRule(ctx context.Context, db *gorm.DB, id string) (*domain.PricingRule, error) {
	var r domain.PricingRule
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// DeletePricingRule removes a rule. Rules carry no history, so this is a
// hard delete.
func DeletePricingRule(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Delete(&domain.PricingRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPricingRules returns every rule ordered by scope then scope_ref.
func ListPricingRules(ctx context.Context, db *gorm.DB) ([]domain.PricingRule, error) {
	var out []domain.PricingRule
	err := db.WithContext(ctx).Order("scope asc").Order("scope_ref asc").Find(&out).Error
	return out, err
}
