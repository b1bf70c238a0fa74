package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

func i64(v int64) *int64 { return &v }

func rule(margin string, floor, cap *int64) domain.PricingRule {
	return domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.RequireFromString(margin), FloorMinor: floor, CapMinor: cap}
}

func TestComputePrice_Examples(t *testing.T) {
	cases := []struct {
		name string
		cost int64
		r    domain.PricingRule
		want int64
	}{
		{"plain margin", 1000, rule("8", nil, nil), 1080},
		{"floor lifts", 100, rule("8", i64(500), nil), 500},
		{"cap clamps", 10000, rule("50", nil, i64(15000)), 15000},
		{"ceiling not nearest", 999, rule("8", nil, nil), 1079},   // 1078.92
		{"ceiling on tiny fraction", 1, rule("0.1", nil, nil), 2}, // 1.001
		{"zero margin", 1234, rule("0", nil, nil), 1234},
		{"zero cost", 0, rule("8", nil, nil), 0},
		{"fractional margin", 2000, rule("12.5", nil, nil), 2250},
		{"cap below computed", 1000, rule("8", i64(100), i64(1050)), 1050},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputePrice(tc.cost, tc.r)
			if err != nil {
				t.Fatalf("ComputePrice: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ComputePrice(%d, %s%%) = %d; want %d", tc.cost, tc.r.MarginPct, got, tc.want)
			}
		})
	}
}

func TestComputePrice_NegativeCost(t *testing.T) {
	if _, err := ComputePrice(-1, rule("8", nil, nil)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestPickRule_Priority(t *testing.T) {
	p := domain.Product{ID: "p1", Category: "Steam Games", CostMinor: 1000}
	global := domain.PricingRule{ID: "g", Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(5)}
	cat := domain.PricingRule{ID: "c", Scope: domain.ScopeCategory, ScopeRef: "STEAM games", MarginPct: decimal.NewFromInt(10)}
	other := domain.PricingRule{ID: "c2", Scope: domain.ScopeCategory, ScopeRef: "software", MarginPct: decimal.NewFromInt(20)}
	prod := domain.PricingRule{ID: "p", Scope: domain.ScopeProduct, ScopeRef: "p1", MarginPct: decimal.NewFromInt(15)}

	if r, src := PickRule(p, []domain.PricingRule{global, cat, other, prod}); r.ID != "p" || src != SourceProduct {
		t.Fatalf("expected product rule, got %s/%s", r.ID, src)
	}
	if r, src := PickRule(p, []domain.PricingRule{global, other, cat}); r.ID != "c" || src != SourceCategory {
		t.Fatalf("expected case-folded category rule, got %s/%s", r.ID, src)
	}
	if r, src := PickRule(p, []domain.PricingRule{other, global}); r.ID != "g" || src != SourceGlobal {
		t.Fatalf("expected global rule, got %s/%s", r.ID, src)
	}
	r, src := PickRule(p, nil)
	if src != SourceDefault || !r.MarginPct.Equal(DefaultMarginPct) {
		t.Fatalf("expected default margin, got %s/%s", r.MarginPct, src)
	}
}

func TestPickRule_EmptyCategoryMatchesNoCategoryRule(t *testing.T) {
	p := domain.Product{ID: "p1"}
	cat := domain.PricingRule{Scope: domain.ScopeCategory, ScopeRef: "x", MarginPct: decimal.NewFromInt(10)}
	if _, src := PickRule(p, []domain.PricingRule{cat}); src != SourceDefault {
		t.Fatalf("uncategorized product picked a category rule: %s", src)
	}
}

func TestQuote(t *testing.T) {
	price, _, src, err := Quote(domain.Product{ID: "p1", CostMinor: 1000}, nil)
	if err != nil || price != 1080 || src != SourceDefault {
		t.Fatalf("Quote = %d/%s err=%v", price, src, err)
	}
}

func TestValidateRule(t *testing.T) {
	cases := []struct {
		name string
		r    domain.PricingRule
		want error
	}{
		{"ok global", domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(8)}, nil},
		{"ok floor==cap", domain.PricingRule{Scope: domain.ScopeProduct, ScopeRef: "p1", MarginPct: decimal.NewFromInt(8), FloorMinor: i64(10), CapMinor: i64(10)}, nil},
		{"bad scope", domain.PricingRule{Scope: "brand", ScopeRef: "x", MarginPct: decimal.NewFromInt(8)}, ErrInvalidScope},
		{"global with ref", domain.PricingRule{Scope: domain.ScopeGlobal, ScopeRef: "x", MarginPct: decimal.NewFromInt(8)}, ErrScopeRef},
		{"category without ref", domain.PricingRule{Scope: domain.ScopeCategory, ScopeRef: " ", MarginPct: decimal.NewFromInt(8)}, ErrScopeRef},
		{"negative margin", domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(-1)}, ErrInvalidMargin},
		{"huge margin", domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(1001)}, ErrInvalidMargin},
		{"negative floor", domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(8), FloorMinor: i64(-1)}, ErrNegativeBound},
		{"floor above cap", domain.PricingRule{Scope: domain.ScopeGlobal, MarginPct: decimal.NewFromInt(8), FloorMinor: i64(500), CapMinor: i64(100)}, ErrFloorAboveCap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateRule(tc.r); !errors.Is(err, tc.want) {
				t.Fatalf("ValidateRule = %v; want %v", err, tc.want)
			}
		})
	}
}
