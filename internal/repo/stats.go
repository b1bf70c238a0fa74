// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// stock report and the counter invariant check. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// ItemCountsByStatus recomputes, from the inventory rows themselves, how many
// items of productID sit in each status. Statuses without rows are present
// with a zero count.
func ItemCountsByStatus(ctx context.Context, db *gorm.DB, productID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Select("status, COUNT(*) AS n").
		Where("product_id = ?", productID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{
		domain.ItemAvailable: 0,
		domain.ItemReserved:  0,
		domain.ItemSold:      0,
		domain.ItemInvalid:   0,
		domain.ItemExpired:   0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CountersByStatus returns the denormalized counters stored on the product,
// keyed the same way as ItemCountsByStatus.
func CountersByStatus(p *domain.Product) map[string]int64 {
	return map[string]int64{
		domain.ItemAvailable: int64(p.StockAvailable),
		domain.ItemReserved:  int64(p.StockReserved),
		domain.ItemSold:      int64(p.StockSold),
		domain.ItemInvalid:   int64(p.StockInvalid),
		domain.ItemExpired:   int64(p.StockExpired),
	}
}
