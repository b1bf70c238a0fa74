package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Webhook sources.
const (
	SourcePayment     = "payment"
	SourceFulfillment = "fulfillment"
)

// WebhookLog records every provider callback keyed by (external_id,
// webhook_type). It is the idempotency log: a processed row short-circuits
// redeliveries with its cached Result instead of re-running side effects.
// Rows are never deleted.
type WebhookLog struct {
	ID             string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	ExternalID     string         `json:"external_id"          gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_key,priority:1"`
	WebhookType    string         `json:"webhook_type"         gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_key,priority:2;index"`
	Source         string         `json:"source"               gorm:"type:varchar(16);not null;index"`
	RawPayload     string         `json:"raw_payload"          gorm:"type:text;not null"`
	SignatureValid bool           `json:"signature_valid"      gorm:"not null;default:false"`
	Processed      bool           `json:"processed"            gorm:"not null;default:false;index"`
	AttemptCount   int            `json:"attempt_count"        gorm:"not null;default:1"`
	Error          string         `json:"error,omitempty"      gorm:"type:text;not null;default:''"`
	Result         datatypes.JSON `json:"result,omitempty"     swaggertype:"object"`
	OrderID        *string        `json:"order_id,omitempty"   gorm:"type:char(36);index"`
	PaymentID      *string        `json:"payment_id,omitempty" gorm:"type:varchar(128)"`
	CreatedAt      time.Time      `json:"created_at"           gorm:"index"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (WebhookLog) TableName() string { return "webhook_logs" }
