// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the inventory item transitions. Every
// status change is a conditional update whose WHERE clause carries the
// expected current state; callers move the product counters in the same
// transaction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// InsertInventoryItem stores an encrypted key. A repeated (product_id,
// item_hash) pair returns ErrDuplicate.
func InsertInventoryItem(ctx context.Context, db *gorm.DB, it *domain.InventoryItem) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if it.UploadedAt.IsZero() {
		it.UploadedAt = now
	}
	it.UpdatedAt = now
	if it.Status == "" {
		it.Status = domain.ItemAvailable
	}
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetInventoryItem fetches an inventory item by id.
func GetInventoryItem(ctx context.Context, db *gorm.DB, id string) (*domain.InventoryItem, error) {
	var it domain.InventoryItem
	if err := db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ReserveOldestAvailable flips the earliest-uploaded available item of a
// product to reserved for orderID in one guarded UPDATE:
//
//	UPDATE inventory_items SET status='reserved', ...
//	WHERE id = (SELECT id ... WHERE status='available' ORDER BY uploaded_at, id LIMIT 1)
//	  AND status = 'available'
//
// Two concurrent callers may pick the same candidate; only one passes the
// outer guard. The loser gets ErrConflict and should retry. When no
// candidate exists it returns ErrNotFound.
func ReserveOldestAvailable(ctx context.Context, db *gorm.DB, productID, orderID string, now time.Time, ttl time.Duration) error {
	var available int64
	sub := db.Model(&domain.InventoryItem{}).
		Select("id").
		Where("product_id = ? AND status = ?", productID, domain.ItemAvailable).
		Where("(key_expires_at IS NULL OR key_expires_at > ?)", now).
		Order("uploaded_at asc").Order("id asc").
		Limit(1)

	res := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = (?) AND status = ?", sub, domain.ItemAvailable).
		UpdateColumns(map[string]any{
			"status":                domain.ItemReserved,
			"reserved_for_order_id": orderID,
			"reserved_at":           now,
			"expires_at":            now.Add(ttl),
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Nothing updated: either the candidate was taken between the subselect
	// and the guard, or there is no candidate at all.
	if err := db.WithContext(ctx).Model(&domain.InventoryItem{}).
		Where("product_id = ? AND status = ?", productID, domain.ItemAvailable).
		Where("(key_expires_at IS NULL OR key_expires_at > ?)", now).
		Count(&available).Error; err != nil {
		return err
	}
	if available == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// LatestUnlinkedReservation returns the most recent item reserved for
// orderID that no order item points at yet. It reads back the row that
// ReserveOldestAvailable just wrote inside the same transaction.
func LatestUnlinkedReservation(ctx context.Context, db *gorm.DB, productID, orderID string) (*domain.InventoryItem, error) {
	linked := db.Model(&domain.OrderItem{}).
		Select("inventory_item_id").
		Where("order_id = ? AND inventory_item_id IS NOT NULL", orderID)
	var it domain.InventoryItem
	err := db.WithContext(ctx).
		Where("product_id = ? AND reserved_for_order_id = ? AND status = ?", productID, orderID, domain.ItemReserved).
		Where("id NOT IN (?)", linked).
		Order("reserved_at desc").Order("id desc").
		First(&it).Error
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// ReleaseReservation returns a reserved item to available. orderID, when
// non-empty, must match the reservation holder; expiredBy, when non-nil,
// restricts the release to reservations past their deadline. A committed
// finalize changes the status first, so the guard makes a racing release
// lose with ErrConflict.
func ReleaseReservation(ctx context.Context, db *gorm.DB, itemID, orderID string, expiredBy *time.Time) error {
	q := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = ? AND status = ?", itemID, domain.ItemReserved)
	if orderID != "" {
		q = q.Where("reserved_for_order_id = ?", orderID)
	}
	if expiredBy != nil {
		q = q.Where("expires_at <= ?", *expiredBy)
	}
	res := q.UpdateColumns(map[string]any{
		"status":                domain.ItemAvailable,
		"reserved_for_order_id": nil,
		"reserved_at":           nil,
		"expires_at":            nil,
		"updated_at":            time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkItemSold finalizes a reservation: status reserved and held by orderID
// become sold to orderID.
func MarkItemSold(ctx context.Context, db *gorm.DB, itemID, orderID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = ? AND status = ? AND reserved_for_order_id = ?", itemID, domain.ItemReserved, orderID).
		UpdateColumns(map[string]any{
			"status":           domain.ItemSold,
			"sold_to_order_id": orderID,
			"sold_at":          now,
			"expires_at":       nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkItemStatus moves an item from one status to a terminal one (invalid or
// expired), clearing reservation fields.
func MarkItemStatus(ctx context.Context, db *gorm.DB, itemID, from, to string) error {
	res := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = ? AND status = ?", itemID, from).
		UpdateColumns(map[string]any{
			"status":                to,
			"reserved_for_order_id": nil,
			"expires_at":            nil,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ListExpiredReservations returns up to limit reserved items whose
// deadline is at or before now.
func ListExpiredReservations(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", domain.ItemReserved, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListKeyExpiredAvailable returns up to limit available items whose key
// validity ended at or before now.
func ListKeyExpiredAvailable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	err := db.WithContext(ctx).
		Where("status = ? AND key_expires_at IS NOT NULL AND key_expires_at <= ?", domain.ItemAvailable, now).
		Order("key_expires_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListReservationsForOrder returns the items currently reserved for orderID.
func ListReservationsForOrder(ctx context.Context, db *gorm.DB, orderID string) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	err := db.WithContext(ctx).
		Where("status = ? AND reserved_for_order_id = ?", domain.ItemReserved, orderID).
		Find(&out).Error
	return out, err
}
