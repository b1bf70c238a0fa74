// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders and
// their items.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition. Relations are explicit foreign-key
// fields resolved with targeted queries; nothing is lazy-loaded.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - A guarded update that matched no row returns ErrConflict.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict is returned when a conditional update lost its guard: the row
// was no longer in the expected state at write time.
var ErrConflict = errors.New("conflict: row changed concurrently")

// CreateOrder inserts an order and its items in the caller's transaction.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order, items []domain.OrderItem) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt, o.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		items[i].OrderID = o.ID
		items[i].CreatedAt, items[i].UpdatedAt = now, now
	}
	if len(items) > 0 {
		if err := db.WithContext(ctx).Omit("Order").Create(&items).Error; err != nil {
			return err
		}
	}
	o.Items = items
	return nil
}

// GetOrder fetches a single order by id.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderWithItems fetches an order and fills Items with its order items.
func GetOrderWithItems(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	o, err := GetOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}
	items, err := ListOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// GetOrderByReservation locates the order holding a provider reservation id.
func GetOrderByReservation(ctx context.Context, db *gorm.DB, reservationID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).First(&o, "reservation_id = ?", reservationID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrderItems returns the items of an order in insertion order.
func ListOrderItems(ctx context.Context, db *gorm.DB, orderID string) ([]domain.OrderItem, error) {
	var out []domain.OrderItem
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc").Order("id asc").
		Find(&out).Error
	return out, err
}

// TransitionOrder moves an order from one status to another with a
// conditional update (WHERE status = from). extra columns are written in the
// same statement. It returns ErrConflict when the order was not in from.
func TransitionOrder(ctx context.Context, db *gorm.DB, id, from, to string, extra map[string]any) error {
	fields := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		fields[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetOrderReservation stores the provider reservation id on an order that
// does not have one yet.
func SetOrderReservation(ctx context.Context, db *gorm.DB, id, reservationID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND reservation_id IS NULL", id).
		UpdateColumns(map[string]any{"reservation_id": reservationID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// LinkOrderItemInventory records which inventory item backs an order item.
// Passing nil unlinks it (after release or invalidation).
func LinkOrderItemInventory(ctx context.Context, db *gorm.DB, orderItemID string, inventoryItemID *string) error {
	return db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("id = ? AND delivered_at IS NULL", orderItemID).
		UpdateColumns(map[string]any{"inventory_item_id": inventoryItemID, "updated_at": time.Now().UTC()}).Error
}

// UnlinkOrderInventory clears inventory links on every undelivered item of
// an order.
func UnlinkOrderInventory(ctx context.Context, db *gorm.DB, orderID string) error {
	return db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("order_id = ? AND delivered_at IS NULL", orderID).
		UpdateColumns(map[string]any{"inventory_item_id": nil, "updated_at": time.Now().UTC()}).Error
}

// DeliverOrderItem writes the delivered key onto an order item exactly once.
// A second delivery for the same item returns ErrConflict.
func DeliverOrderItem(ctx context.Context, db *gorm.DB, orderItemID, keyRef string, sealed, iv, tag []byte, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("id = ? AND delivered_at IS NULL", orderItemID).
		UpdateColumns(map[string]any{
			"key_ref":      keyRef,
			"sealed_key":   sealed,
			"sealed_iv":    iv,
			"sealed_tag":   tag,
			"delivered_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ListOrdersByStatusBefore returns up to limit orders in status whose
// created_at is before the cutoff, oldest first.
func ListOrdersByStatusBefore(ctx context.Context, db *gorm.DB, status string, before time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, before).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountOrdersByStatus returns how many orders sit in each status.
func CountOrdersByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// GetOrderItemByInventory returns the item of orderID backed by
// inventoryItemID.
func GetOrderItemByInventory(ctx context.Context, db *gorm.DB, orderID, inventoryItemID string) (*domain.OrderItem, error) {
	var it domain.OrderItem
	if err := db.WithContext(ctx).
		First(&it, "order_id = ? AND inventory_item_id = ?", orderID, inventoryItemID).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// UnlinkInventoryItem clears the link from any undelivered order item to
// inventoryItemID, after the item was released or invalidated.
func UnlinkInventoryItem(ctx context.Context, db *gorm.DB, inventoryItemID string) error {
	return db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("inventory_item_id = ? AND delivered_at IS NULL", inventoryItemID).
		UpdateColumns(map[string]any{"inventory_item_id": nil, "updated_at": time.Now().UTC()}).Error
}

// TouchOrder bumps updated_at only while the order is in one of statuses.
// Inside a transaction it takes the order's write lock and fails with
// ErrConflict once a concurrent transition has moved the order on.
func TouchOrder(ctx context.Context, db *gorm.DB, id string, statuses ...string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, statuses).
		UpdateColumn("updated_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
