// Package handlers exposes the HTTP surface of the fulfillment pipeline:
// provider webhooks, the checkout collaborator API and the admin endpoints.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
	"github.com/tbourn/keyshop-fulfillment/internal/services"
	"github.com/tbourn/keyshop-fulfillment/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookService ingests provider callbacks and serves the idempotency log.
type WebhookService interface {
	Ingest(ctx context.Context, source string, rawBody []byte, signatureHex string) (*services.LogOutcome, error)
	Replay(ctx context.Context, id string) (*domain.WebhookLog, error)
	BulkReplay(ctx context.Context, ids []string) []services.ReplayResult
	ListLogs(ctx context.Context, f repo.WebhookLogFilter, page utils.Page) ([]domain.WebhookLog, int64, error)
	Get(ctx context.Context, id string) (*domain.WebhookLog, error)
}

// OrderService covers checkout and the operator order actions.
type OrderService interface {
	Create(ctx context.Context, in services.CreateOrderInput) (*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	Keys(ctx context.Context, id, email string) ([]services.DeliveredKey, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Order, error)
	RetryFulfillment(ctx context.Context, id string) (*domain.Order, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// CatalogService manages products and their key inventory.
type CatalogService interface {
	UpsertProduct(ctx context.Context, p *domain.Product) error
	ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int64, error)
	Upload(ctx context.Context, productID string, keys []services.UploadKey) (*services.UploadResult, error)
	Stock(ctx context.Context, productID string) (*services.StockReport, error)
}

// PricingService manages pricing rules and stored prices.
type PricingService interface {
	ListRules(ctx context.Context) ([]domain.PricingRule, error)
	GetRule(ctx context.Context, id string) (*domain.PricingRule, error)
	CreateRule(ctx context.Context, in services.RuleInput) (*domain.PricingRule, error)
	UpdateRule(ctx context.Context, id string, in services.RuleInput) (*domain.PricingRule, error)
	DeleteRule(ctx context.Context, id string) error
	Quote(ctx context.Context, productID string) (*services.QuoteResult, error)
	Reprice(ctx context.Context, productIDs []string) (*services.RepriceResult, error)
}

// FlagService reads and toggles feature flags. *flags.Gate implements it.
type FlagService interface {
	List(ctx context.Context) ([]domain.FeatureFlag, error)
	Set(ctx context.Context, name string, enabled bool) error
	LoadedAt() time.Time
}

//
// Handler wiring
//

// Deps bundles the services the handlers call.
type Deps struct {
	Webhooks WebhookService
	Orders   OrderService
	Catalog  CatalogService
	Pricing  PricingService
	Flags    FlagService
}

// Handlers groups every HTTP endpoint.
type Handlers struct {
	hooks   WebhookService
	orders  OrderService
	catalog CatalogService
	pricing PricingService
	flags   FlagService
}

// New constructs a Handlers bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		hooks:   d.Webhooks,
		orders:  d.Orders,
		catalog: d.Catalog,
		pricing: d.Pricing,
		flags:   d.Flags,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) utils.Page {
	return utils.NewPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}

// boolQuery parses an optional boolean filter; absent or malformed values
// mean "any".
func boolQuery(c *gin.Context, key string) *bool {
	switch c.Query(key) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	}
	return nil
}
