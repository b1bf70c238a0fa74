// Package pricing resolves which pricing rule applies to a product and
// computes the customer price from the product cost.
//
// Rounding policy: the marked-up amount is always rounded UP to the next
// minor unit (ceiling), never to nearest. The arithmetic is exact decimal,
// so 1000 at 8% is 1080 and not 1081.
package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// DefaultMarginPct applies when no rule matches a product.
var DefaultMarginPct = decimal.NewFromInt(8)

var (
	maxMarginPct = decimal.NewFromInt(1000)
	hundred      = decimal.NewFromInt(100)
)

// Validation errors returned by ValidateRule.
var (
	ErrInvalidScope   = errors.New("scope must be one of: global, category, product")
	ErrScopeRef       = errors.New("scope_ref is required for category and product rules and must be empty for the global rule")
	ErrInvalidMargin  = errors.New("margin_pct must be between 0 and 1000")
	ErrNegativeBound  = errors.New("floor_minor and cap_minor must be >= 0")
	ErrFloorAboveCap  = errors.New("floor_minor must be <= cap_minor")
	ErrNegativeAmount = errors.New("cost must be >= 0")
)

// Source names which rule produced a price.
type Source string

// Rule sources, in priority order.
const (
	SourceProduct  Source = "product"
	SourceCategory Source = "category"
	SourceGlobal   Source = "global"
	SourceDefault  Source = "default"
)

// ValidateRule checks a rule before it is written. Invalid floor/cap
// combinations are rejected here and never reach ComputePrice.
func ValidateRule(r domain.PricingRule) error {
	switch r.Scope {
	case domain.ScopeGlobal:
		if strings.TrimSpace(r.ScopeRef) != "" {
			return ErrScopeRef
		}
	case domain.ScopeCategory, domain.ScopeProduct:
		if strings.TrimSpace(r.ScopeRef) == "" {
			return ErrScopeRef
		}
	default:
		return ErrInvalidScope
	}
	if r.MarginPct.IsNegative() || r.MarginPct.GreaterThan(maxMarginPct) {
		return ErrInvalidMargin
	}
	if (r.FloorMinor != nil && *r.FloorMinor < 0) || (r.CapMinor != nil && *r.CapMinor < 0) {
		return ErrNegativeBound
	}
	if r.FloorMinor != nil && r.CapMinor != nil && *r.FloorMinor > *r.CapMinor {
		return ErrFloorAboveCap
	}
	return nil
}

// NormalizeCategory folds a category name for case-insensitive matching.
func NormalizeCategory(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// PickRule selects, in priority order, the product rule, the category rule
// matching the product's category, the global rule, or a synthetic rule
// carrying DefaultMarginPct.
func PickRule(p domain.Product, rules []domain.PricingRule) (domain.PricingRule, Source) {
	var category, global *domain.PricingRule
	wantCat := NormalizeCategory(p.Category)
	for i := range rules {
		r := &rules[i]
		switch r.Scope {
		case domain.ScopeProduct:
			if r.ScopeRef == p.ID {
				return *r, SourceProduct
			}
		case domain.ScopeCategory:
			if category == nil && wantCat != "" && NormalizeCategory(r.ScopeRef) == wantCat {
				category = r
			}
		case domain.ScopeGlobal:
			if global == nil {
				global = r
			}
		}
	}
	if category != nil {
		return *category, SourceCategory
	}
	if global != nil {
		return *global, SourceGlobal
	}
	return domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: DefaultMarginPct}, SourceDefault
}

// ComputePrice returns clamp(ceil(cost * (1 + margin/100)), floor, cap) in
// minor units.
func ComputePrice(costMinor int64, r domain.PricingRule) (int64, error) {
	if costMinor < 0 {
		return 0, ErrNegativeAmount
	}
	factor := decimal.NewFromInt(1).Add(r.MarginPct.Div(hundred))
	price := decimal.NewFromInt(costMinor).Mul(factor).Ceil().IntPart()

	if r.FloorMinor != nil && price < *r.FloorMinor {
		price = *r.FloorMinor
	}
	if r.CapMinor != nil && price > *r.CapMinor {
		price = *r.CapMinor
	}
	return price, nil
}

// Quote picks the rule for p and computes its price.
func Quote(p domain.Product, rules []domain.PricingRule) (int64, domain.PricingRule, Source, error) {
	rule, src := PickRule(p, rules)
	price, err := ComputePrice(p.CostMinor, rule)
	return price, rule, src, err
}
