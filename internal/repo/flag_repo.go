// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for feature flags.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// ListFeatureFlags returns every flag ordered by name.
func ListFeatureFlags(ctx context.Context, db *gorm.DB) ([]domain.FeatureFlag, error) {
	var out []domain.FeatureFlag
	err := db.WithContext(ctx).Order("name asc").Find(&out).Error
	return out, err
}

// SetFeatureFlag flips an existing flag and returns ErrNotFound for an
// unknown name.
func SetFeatureFlag(ctx context.Context, db *gorm.DB, name string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.FeatureFlag{}).
		Where("name = ?", name).
		UpdateColumns(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedFeatureFlags inserts the given flags, leaving existing rows (and any
// operator toggles they carry) untouched.
func SeedFeatureFlags(ctx context.Context, db *gorm.DB, flags []domain.FeatureFlag) error {
	if len(flags) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range flags {
		flags[i].UpdatedAt = now
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&flags).Error
}
