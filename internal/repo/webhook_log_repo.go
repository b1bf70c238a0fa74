// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the WebhookLog
// model, the idempotency log behind provider callback deduplication.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// ErrDuplicate indicates that a row with the same unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// WebhookLogFilter narrows ListWebhookLogs. Nil pointers and empty strings
// mean "any".
type WebhookLogFilter struct {
	WebhookType    string
	Source         string
	ExternalID     string
	Processed      *bool
	SignatureValid *bool
}

// FindWebhookLog returns the log row for the idempotency key or ErrNotFound.
func FindWebhookLog(ctx context.Context, db *gorm.DB, externalID, webhookType string) (*domain.WebhookLog, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.WebhookLog
	err := db.WithContext(ctx).
		Where("external_id = ? AND webhook_type = ?", externalID, webhookType).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetWebhookLog fetches a log row by id.
func GetWebhookLog(ctx context.Context, db *gorm.DB, id string) (*domain.WebhookLog, error) {
	var rec domain.WebhookLog
	if err := db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateWebhookLog inserts a log row and returns ErrDuplicate on unique violation.
func CreateWebhookLog(ctx context.Context, db *gorm.DB, rec *domain.WebhookLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AttemptCount == 0 {
		rec.AttemptCount = 1
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// BumpWebhookAttempt increments attempt_count and returns the new value.
func BumpWebhookAttempt(ctx context.Context, db *gorm.DB, id string) (int, error) {
	res := db.WithContext(ctx).
		Model(&domain.WebhookLog{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var n int
	err := db.WithContext(ctx).Model(&domain.WebhookLog{}).Where("id = ?", id).Select("attempt_count").Scan(&n).Error
	return n, err
}

// UpdateWebhookLog applies a partial update to a log row.
func UpdateWebhookLog(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.WebhookLog{}).Where("id = ?", id).UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWebhookProcessed stores the cached outcome and flips processed.
// Only unprocessed rows are touched, so a concurrent duplicate run leaves the
// first outcome in place.
func MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id string, result datatypes.JSON, orderID *string, errText string) (bool, error) {
	now := time.Now().UTC()
	fields := map[string]any{
		"processed":    true,
		"processed_at": now,
		"result":       result,
		"error":        errText,
		"updated_at":   now,
	}
	if orderID != nil {
		fields["order_id"] = *orderID
	}
	res := db.WithContext(ctx).
		Model(&domain.WebhookLog{}).
		Where("id = ? AND processed = ?", id, false).
		UpdateColumns(fields)
	return res.RowsAffected > 0, res.Error
}

// ListWebhookLogs returns a page of logs matching f, newest first, plus the
// total match count.
func ListWebhookLogs(ctx context.Context, db *gorm.DB, f WebhookLogFilter, offset, limit int) ([]domain.WebhookLog, int64, error) {
	q := db.WithContext(ctx).Model(&domain.WebhookLog{})
	if f.WebhookType != "" {
		q = q.Where("webhook_type = ?", f.WebhookType)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.ExternalID != "" {
		q = q.Where("external_id = ?", f.ExternalID)
	}
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}
	if f.SignatureValid != nil {
		q = q.Where("signature_valid = ?", *f.SignatureValid)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.WebhookLog{}, 0, nil
	}
	var out []domain.WebhookLog
	err := q.Order("created_at desc").Order("id").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// CountWebhookLogs returns how many rows exist for an idempotency key.
func CountWebhookLogs(ctx context.Context, db *gorm.DB, externalID, webhookType string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.WebhookLog{}).
		Where("external_id = ? AND webhook_type = ?", externalID, webhookType).
		Count(&n).Error
	return n, err
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// IsBusy reports whether err is a transient SQLite lock error worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") ||
		strings.Contains(low, "database table is locked") ||
		strings.Contains(low, "sqlite_busy")
}
