package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// Visibility says which price fields a role may read.
type Visibility struct {
	Cost             bool
	Wholesale1       bool
	Wholesale2       bool
	Retail           bool
	PromoPerUnit     bool
	PromoPerFour     bool
	PromoDescription bool
}

var visibility = map[identity.Role]Visibility{
	identity.RoleAdmin:          {Cost: true, Wholesale1: true, Wholesale2: true, Retail: true, PromoPerUnit: true, PromoPerFour: true, PromoDescription: true},
	identity.RoleAccountant:     {Cost: true, Wholesale1: true, Wholesale2: true, Retail: true, PromoPerUnit: true, PromoPerFour: true, PromoDescription: true},
	identity.RoleEditor:         {Retail: true, PromoPerUnit: true, PromoPerFour: true, PromoDescription: true},
	identity.RoleWholesaleSales: {Wholesale1: true, Wholesale2: true, Retail: true, PromoPerUnit: true, PromoPerFour: true, PromoDescription: true},
	identity.RoleRetailSales:    {Retail: true, PromoPerFour: true, PromoDescription: true},
	identity.RoleViewer:         {Wholesale1: true},
}

// VisibilityFor returns the field mask for role. Unknown roles see nothing.
func VisibilityFor(role identity.Role) Visibility {
	return visibility[role]
}

// Prices is the full price sheet of one product row. Costs is keyed by the
// family-specific cost column (cost_sc, cost_dunlop, cost_online, cost).
type Prices struct {
	Costs      map[string]*decimal.Decimal
	Wholesale1 *decimal.Decimal
	Wholesale2 *decimal.Decimal
	Retail     *decimal.Decimal
	Promo      Quote
}

// Project returns a copy of p with every field the role may not read set to nil.
// It never mutates p.
func Project(p Prices, role identity.Role) Prices {
	v := VisibilityFor(role)
	out := Prices{
		Costs:      make(map[string]*decimal.Decimal, len(p.Costs)),
		Wholesale1: mask(p.Wholesale1, v.Wholesale1),
		Wholesale2: mask(p.Wholesale2, v.Wholesale2),
		Retail:     mask(p.Retail, v.Retail),
		Promo: Quote{
			PerUnit: mask(p.Promo.PerUnit, v.PromoPerUnit),
			PerFour: mask(p.Promo.PerFour, v.PromoPerFour),
		},
	}
	for k, c := range p.Costs {
		out.Costs[k] = mask(c, v.Cost)
	}
	if v.PromoDescription && p.Promo.Description != nil {
		d := *p.Promo.Description
		out.Promo.Description = &d
	}
	return out
}

func mask(d *decimal.Decimal, visible bool) *decimal.Decimal {
	if !visible || d == nil {
		return nil
	}
	c := *d
	return &c
}

// Ptr lifts a decimal into an optional field.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// NullPtr lifts a nullable decimal into an optional field.
func NullPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
