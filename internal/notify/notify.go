// Package notify publishes pipeline events for the downstream notification
// service: key deliveries and operator alerts. Events carry key references
// only, never key material.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeOrderFulfilled = "order.fulfilled"
	TypeAdminAlert     = "admin.alert"
)

// DeliveredItem is one key handed to the customer.
type DeliveredItem struct {
	OrderItemID string `json:"order_item_id"`
	ProductID   string `json:"product_id"`
	KeyRef      string `json:"key_ref"`
}

// DeliveryEvent announces a fulfilled order.
type DeliveryEvent struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"order_id"`
	Email       string          `json:"email"`
	SourceType  string          `json:"source_type"`
	Items       []DeliveredItem `json:"items"`
	FulfilledAt time.Time       `json:"fulfilled_at"`
}

// Alert asks an operator to look at something.
type Alert struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	OrderID   string    `json:"order_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is implemented by the Kafka publisher and the log fallback.
type Notifier interface {
	OrderFulfilled(ctx context.Context, ev DeliveryEvent) error
	AdminAlert(ctx context.Context, a Alert) error
	Close() error
}

// LogNotifier writes events to the structured log. Used when no broker is
// configured.
type LogNotifier struct{}

// OrderFulfilled logs the delivery.
func (LogNotifier) OrderFulfilled(_ context.Context, ev DeliveryEvent) error {
	log.Info().
		Str("order_id", ev.OrderID).
		Str("source_type", ev.SourceType).
		Int("items", len(ev.Items)).
		Msg("order fulfilled")
	return nil
}

// AdminAlert logs the alert at error level.
func (LogNotifier) AdminAlert(_ context.Context, a Alert) error {
	log.Error().
		Str("alert", a.Kind).
		Str("order_id", a.OrderID).
		Str("item_id", a.ItemID).
		Msg(a.Message)
	return nil
}

// Close is a no-op.
func (LogNotifier) Close() error { return nil }
