// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for products,
// including the stock counters that mirror inventory item statuses.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// UpsertProduct inserts a product or updates its catalog fields. Pricing
// output (price, version) and stock counters are never overwritten here.
func UpsertProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "category", "source_type", "provider_offer_id",
			"currency", "cost_minor", "published", "updated_at",
		}),
	}).Create(p).Error
}

// GetProduct fetches a single product by id.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProducts returns the products with the given ids, in id order. Missing
// ids are silently skipped.
func GetProducts(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	var out []domain.Product
	err := db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&out).Error
	return out, err
}

// ListProducts returns a page of products ordered by name.
func ListProducts(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Product, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Product{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Product
	err := db.WithContext(ctx).Order("name asc").Order("id asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// SetProductPrice writes a recomputed price and bumps price_version. The
// published flag is left alone.
func SetProductPrice(ctx context.Context, db *gorm.DB, id string, priceMinor int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"price_minor":   priceMinor,
			"price_version": gorm.Expr("price_version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveStock shifts n units from one status counter to another. Either side
// may be empty to only increment or only decrement. It must run in the same
// transaction as the inventory item transition it mirrors.
func MoveStock(ctx context.Context, db *gorm.DB, productID, from, to string, n int) error {
	if n == 0 {
		return nil
	}
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if col := domain.StockColumn(from); col != "" {
		fields[col] = gorm.Expr(col+" - ?", n)
	}
	if col := domain.StockColumn(to); col != "" {
		fields[col] = gorm.Expr(col+" + ?", n)
	}
	if len(fields) == 1 {
		return errors.New("move stock: unknown statuses " + from + "/" + to)
	}
	res := db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", productID).UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
