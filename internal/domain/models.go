// Package domain defines the persistence models for products, orders,
// inventory, pricing rules and feature flags. These types are mapped with
// GORM and form the core data layer of the fulfillment pipeline.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source types shared by products and orders.
const (
	SourceSelfHosted = "self_hosted"
	SourceProvider   = "provider"
)

// Inventory item statuses.
const (
	ItemAvailable = "available"
	ItemReserved  = "reserved"
	ItemSold      = "sold"
	ItemExpired   = "expired"
	ItemInvalid   = "invalid"
)

// Pricing rule scopes.
const (
	ScopeGlobal   = "global"
	ScopeCategory = "category"
	ScopeProduct  = "product"
)

// Product is the slice of the external catalog the pipeline needs: pricing
// inputs, publish state and the denormalized stock counters.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Category: free-form category name; pricing matches it case-insensitively.
//   - SourceType: self_hosted (keys uploaded to inventory) or provider.
//   - ProviderOfferID: offer identifier at the fulfillment provider.
//   - CostMinor / PriceMinor: amounts in minor units.
//   - PriceVersion: bumped on every reprice.
//   - Stock*: per-status item counts, moved only together with the item row.
type Product struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	Name            string    `json:"name"              gorm:"type:varchar(255);not null"`
	Category        string    `json:"category"          gorm:"type:varchar(128);not null;default:'';index"`
	SourceType      string    `json:"source_type"       gorm:"type:varchar(16);not null;default:'self_hosted';check:source_type IN ('self_hosted','provider')"`
	ProviderOfferID string    `json:"provider_offer_id" gorm:"type:varchar(128);not null;default:''"`
	Currency        string    `json:"currency"          gorm:"type:char(3);not null"`
	CostMinor       int64     `json:"cost_minor"        gorm:"not null;check:cost_minor >= 0"`
	PriceMinor      int64     `json:"price_minor"       gorm:"not null;default:0"`
	PriceVersion    int       `json:"price_version"     gorm:"not null;default:0"`
	Published       bool      `json:"published"         gorm:"not null;default:false"`
	StockAvailable  int       `json:"stock_available"   gorm:"not null;default:0"`
	StockReserved   int       `json:"stock_reserved"    gorm:"not null;default:0"`
	StockSold       int       `json:"stock_sold"        gorm:"not null;default:0"`
	StockInvalid    int       `json:"stock_invalid"     gorm:"not null;default:0"`
	StockExpired    int       `json:"stock_expired"     gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// StockColumn maps an inventory item status to its counter column.
func StockColumn(status string) string {
	switch status {
	case ItemAvailable:
		return "stock_available"
	case ItemReserved:
		return "stock_reserved"
	case ItemSold:
		return "stock_sold"
	case ItemInvalid:
		return "stock_invalid"
	case ItemExpired:
		return "stock_expired"
	}
	return ""
}

// Order is a customer purchase. Orders are never deleted; cancellation is a
// status. Status moves only through Transition (see order_status.go).
type Order struct {
	ID            string     `json:"id"                       gorm:"type:char(36);primaryKey"`
	Email         string     `json:"email"                    gorm:"type:varchar(255);not null"`
	Status        string     `json:"status"                   gorm:"type:varchar(32);not null;index"`
	TotalMinor    int64      `json:"total_minor"              gorm:"not null"`
	Currency      string     `json:"currency"                 gorm:"type:char(3);not null"`
	SourceType    string     `json:"source_type"              gorm:"type:varchar(16);not null"`
	ReservationID *string    `json:"reservation_id,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	PaymentID     *string    `json:"payment_id,omitempty"     gorm:"type:varchar(128);index"`
	FailureReason string     `json:"failure_reason,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time  `json:"created_at"               gorm:"index"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FulfilledAt   *time.Time `json:"fulfilled_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	Items []OrderItem `json:"items,omitempty" gorm:"-"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem is one key owed to the customer. InventoryItemID is set for
// self-hosted items once reserved; the delivered key is sealed with the
// vault onto SealedKey/SealedIV/SealedTag and referenced by KeyRef.
type OrderItem struct {
	ID              string     `json:"id"                          gorm:"type:char(36);primaryKey"`
	OrderID         string     `json:"order_id"                    gorm:"type:char(36);not null;index"`
	ProductID       string     `json:"product_id"                  gorm:"type:char(36);not null;index"`
	UnitPriceMinor  int64      `json:"unit_price_minor"            gorm:"not null"`
	InventoryItemID *string    `json:"inventory_item_id,omitempty" gorm:"type:char(36);index"`
	KeyRef          string     `json:"key_ref,omitempty"           gorm:"type:varchar(128);not null;default:''"`
	SealedKey       []byte     `json:"-"`
	SealedIV        []byte     `json:"-"`
	SealedTag       []byte     `json:"-"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Order Order `json:"-" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// Delivered reports whether a key has been handed over for this item.
func (i OrderItem) Delivered() bool { return i.DeliveredAt != nil }

// InventoryItem is one encrypted key uploaded for a self-hosted product.
// Rows are never deleted; invalid replaces deletion.
//
// Fields:
//   - Ciphertext / IV / AuthTag: AES-256-GCM output, tag stored separately.
//   - ItemHash: sha256 of the plaintext, unique per product (upload dedup).
//   - UploadedAt: FIFO ordering key for reservation.
//   - ExpiresAt: reservation deadline while reserved.
//   - KeyExpiresAt: optional validity of the key itself; the sweeper moves
//     available items past it to expired.
type InventoryItem struct {
	ID                 string     `json:"id"                              gorm:"type:char(36);primaryKey"`
	ProductID          string     `json:"product_id"                      gorm:"type:char(36);not null;index:idx_inv_fifo,priority:1;uniqueIndex:ux_inv_product_hash,priority:1"`
	Ciphertext         []byte     `json:"-"                               gorm:"not null"`
	IV                 []byte     `json:"-"                               gorm:"not null"`
	AuthTag            []byte     `json:"-"                               gorm:"not null"`
	Status             string     `json:"status"                          gorm:"type:varchar(16);not null;index:idx_inv_fifo,priority:2;index:idx_inv_status_exp,priority:1;check:status IN ('available','reserved','sold','expired','invalid')"`
	ReservedForOrderID *string    `json:"reserved_for_order_id,omitempty" gorm:"type:char(36);index"`
	ReservedAt         *time.Time `json:"reserved_at,omitempty"`
	SoldToOrderID      *string    `json:"sold_to_order_id,omitempty"      gorm:"type:char(36);index"`
	SoldAt             *time.Time `json:"sold_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"            gorm:"index:idx_inv_status_exp,priority:2"`
	KeyExpiresAt       *time.Time `json:"key_expires_at,omitempty"`
	ItemHash           string     `json:"item_hash"                       gorm:"type:char(64);not null;uniqueIndex:ux_inv_product_hash,priority:2"`
	UploadedAt         time.Time  `json:"uploaded_at"                     gorm:"not null;index:idx_inv_fifo,priority:3"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName returns the database table name for InventoryItem.
func (InventoryItem) TableName() string { return "inventory_items" }

// PricingRule sets the margin applied to a product's cost. ScopeRef is empty
// for the global rule, a category name or a product id otherwise.
type PricingRule struct {
	ID         string          `json:"id"                    gorm:"type:char(36);primaryKey"`
	Scope      string          `json:"scope"                 gorm:"type:varchar(16);not null;uniqueIndex:ux_rule_scope,priority:1;check:scope IN ('global','category','product')"`
	ScopeRef   string          `json:"scope_ref"             gorm:"type:varchar(128);not null;default:'';uniqueIndex:ux_rule_scope,priority:2"`
	MarginPct  decimal.Decimal `json:"margin_pct"            gorm:"type:numeric(9,4);not null"`
	FloorMinor *int64          `json:"floor_minor,omitempty"`
	CapMinor   *int64          `json:"cap_minor,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName returns the database table name for PricingRule.
func (PricingRule) TableName() string { return "pricing_rules" }

// FeatureFlag is a named runtime switch.
type FeatureFlag struct {
	Name        string    `json:"name"        gorm:"type:varchar(64);primaryKey"`
	Enabled     bool      `json:"enabled"     gorm:"not null;default:true"`
	Category    string    `json:"category"    gorm:"type:varchar(32);not null;default:''"`
	Description string    `json:"description" gorm:"type:varchar(255);not null;default:''"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for FeatureFlag.
func (FeatureFlag) TableName() string { return "feature_flags" }
