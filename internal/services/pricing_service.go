// Package services – PricingService
//
// PricingService stores pricing rules and applies them to products. Rule
// validation happens on every write; Reprice recomputes stored prices from
// the current rules and bumps each product's price version. Publish state is
// owned by the catalog and never changes here.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
	"github.com/tbourn/keyshop-fulfillment/internal/pricing"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

// PricingService manages rules and product prices.
type PricingService struct {
	DB *gorm.DB
}

// RuleInput is the writable part of a pricing rule.
type RuleInput struct {
	Scope      string          `json:"scope"`
	ScopeRef   string          `json:"scope_ref"`
	MarginPct  decimal.Decimal `json:"margin_pct" swaggertype:"string" example:"8.5"`
	FloorMinor *int64          `json:"floor_minor,omitempty"`
	CapMinor   *int64          `json:"cap_minor,omitempty"`
}

func (in RuleInput) rule() domain.PricingRule {
	r := domain.PricingRule{
		Scope:      strings.ToLower(strings.TrimSpace(in.Scope)),
		ScopeRef:   strings.TrimSpace(in.ScopeRef),
		MarginPct:  in.MarginPct,
		FloorMinor: in.FloorMinor,
		CapMinor:   in.CapMinor,
	}
	if r.Scope == domain.ScopeCategory {
		r.ScopeRef = pricing.NormalizeCategory(r.ScopeRef)
	}
	return r
}

// ListRules returns every rule.
func (s *PricingService) ListRules(ctx context.Context) ([]domain.PricingRule, error) {
	return repo.ListPricingRules(ctx, s.DB)
}

// GetRule returns one rule.
func (s *PricingService) GetRule(ctx context.Context, id string) (*domain.PricingRule, error) {
	r, err := repo.GetPricingRule(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

// CreateRule validates and stores a new rule. Category refs are stored
// case-folded so one category has at most one rule.
func (s *PricingService) CreateRule(ctx context.Context, in RuleInput) (*domain.PricingRule, error) {
	r := in.rule()
	if err := pricing.ValidateRule(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if r.Scope == domain.ScopeProduct {
		if _, err := repo.GetProduct(ctx, s.DB, r.ScopeRef); err != nil {
			if isNotFound(err) {
				return nil, ErrProductNotFound
			}
			return nil, err
		}
	}
	if err := repo.CreatePricingRule(ctx, s.DB, &r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrRuleExists
		}
		return nil, err
	}
	log.Info().Str("rule_id", r.ID).Str("scope", r.Scope).Str("scope_ref", r.ScopeRef).Str("margin_pct", r.MarginPct.String()).Msg("pricing rule created")
	return &r, nil
}

// UpdateRule replaces margin, floor and cap of a rule. Scope and ref are
// fixed once created.
func (s *PricingService) UpdateRule(ctx context.Context, id string, in RuleInput) (*domain.PricingRule, error) {
	cur, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	cur.MarginPct, cur.FloorMinor, cur.CapMinor = in.MarginPct, in.FloorMinor, in.CapMinor
	if err := pricing.ValidateRule(*cur); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if err := repo.UpdatePricingRule(ctx, s.DB, cur); err != nil {
		if isNotFound(err) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return cur, nil
}

// DeleteRule removes a rule. Prices already computed keep their value until
// the next reprice.
func (s *PricingService) DeleteRule(ctx context.Context, id string) error {
	if err := repo.DeletePricingRule(ctx, s.DB, id); err != nil {
		if isNotFound(err) {
			return ErrRuleNotFound
		}
		return err
	}
	return nil
}

// QuoteResult explains the price of one product.
type QuoteResult struct {
	ProductID  string         `json:"product_id"`
	CostMinor  int64          `json:"cost_minor"`
	PriceMinor int64          `json:"price_minor"`
	RuleID     string         `json:"rule_id,omitempty"`
	Source     pricing.Source `json:"source"`
	MarginPct  string         `json:"margin_pct"`
}

// Quote computes the price a product would get from the current rules
// without storing it.
func (s *PricingService) Quote(ctx context.Context, productID string) (*QuoteResult, error) {
	p, err := repo.GetProduct(ctx, s.DB, productID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	rules, err := repo.ListPricingRules(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	return quote(*p, rules)
}

func quote(p domain.Product, rules []domain.PricingRule) (*QuoteResult, error) {
	price, rule, src, err := pricing.Quote(p, rules)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		ProductID:  p.ID,
		CostMinor:  p.CostMinor,
		PriceMinor: price,
		RuleID:     rule.ID,
		Source:     src,
		MarginPct:  rule.MarginPct.String(),
	}, nil
}

// RepriceResult reports a reprice run.
type RepriceResult struct {
	Updated []QuoteResult `json:"updated"`
	Missing []string      `json:"missing"`
}

// Reprice recomputes and stores the price of each product id, bumping its
// price version. Unknown ids are reported in Missing. An empty list is a
// no-op.
func (s *PricingService) Reprice(ctx context.Context, productIDs []string) (*RepriceResult, error) {
	tr := otel.Tracer("services/PricingService")
	ctx, span := tr.Start(ctx, "Reprice", trace.WithAttributes(attribute.Int("products", len(productIDs))))
	defer span.End()

	out := &RepriceResult{Updated: []QuoteResult{}, Missing: []string{}}
	ids := dedupeIDs(productIDs)
	if len(ids) == 0 {
		return out, nil
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rules, err := repo.ListPricingRules(ctx, tx)
		if err != nil {
			return err
		}
		products, err := repo.GetProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		found := make(map[string]bool, len(products))
		for _, p := range products {
			found[p.ID] = true
			q, err := quote(p, rules)
			if err != nil {
				return err
			}
			if err := repo.SetProductPrice(ctx, tx, p.ID, q.PriceMinor); err != nil {
				return err
			}
			out.Updated = append(out.Updated, *q)
		}
		for _, id := range ids {
			if !found[id] {
				out.Missing = append(out.Missing, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("updated", len(out.Updated)).Int("missing", len(out.Missing)).Msg("products repriced")
	return out, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
