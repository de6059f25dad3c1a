// Package pricing evaluates tire promotions and the per-role price projection.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PromotionType selects the promotion formula.
type PromotionType string

const (
	PromotionBuyXGetY           PromotionType = "buy_x_get_y"
	PromotionPercentageDiscount PromotionType = "percentage_discount"
	PromotionFixedPricePerN     PromotionType = "fixed_price_per_n"
)

// Valid reports whether t is a known promotion type.
func (t PromotionType) Valid() bool {
	switch t {
	case PromotionBuyXGetY, PromotionPercentageDiscount, PromotionFixedPricePerN:
		return true
	}
	return false
}

// Rule is the numeric part of a promotion.
type Rule struct {
	Type   PromotionType       `json:"type"`
	Value1 decimal.Decimal     `json:"value1"`
	Value2 decimal.NullDecimal `json:"value2"`
}

// Quote is the derived promotional price of a tire. All three fields are nil
// when the rule is absent or its parameters are out of range.
type Quote struct {
	PerUnit     *decimal.Decimal `json:"promo_price_per_unit"`
	PerFour     *decimal.Decimal `json:"promo_price_per_four"`
	Description *string          `json:"promo_description"`
}

var (
	hundred = decimal.NewFromInt(100)
	four    = decimal.NewFromInt(4)
)

// Validate checks the parameter constraints of the rule's type.
func (r Rule) Validate() error {
	v1 := r.Value1
	switch r.Type {
	case PromotionBuyXGetY:
		if !r.Value2.Valid {
			return fmt.Errorf("buy_x_get_y requires value2")
		}
		v2 := r.Value2.Decimal
		if !v1.IsPositive() || v2.IsNegative() || !v1.Add(v2).IsPositive() {
			return fmt.Errorf("buy_x_get_y requires value1 > 0 and value2 >= 0")
		}
	case PromotionPercentageDiscount:
		if v1.IsNegative() || v1.GreaterThan(hundred) {
			return fmt.Errorf("percentage_discount requires 0 <= value1 <= 100")
		}
	case PromotionFixedPricePerN:
		if !r.Value2.Valid || !v1.IsPositive() || !r.Value2.Decimal.IsPositive() {
			return fmt.Errorf("fixed_price_per_n requires value1 > 0 and value2 > 0")
		}
	default:
		return fmt.Errorf("unknown promotion type %q", r.Type)
	}
	return nil
}

// Evaluate computes the promotional quote for a retail price. A nil rule or a
// rule failing Validate yields an empty quote.
func Evaluate(retail decimal.Decimal, rule *Rule) Quote {
	if rule == nil || rule.Validate() != nil {
		return Quote{}
	}

	var perUnit decimal.Decimal
	var desc string
	v1 := rule.Value1
	switch rule.Type {
	case PromotionBuyXGetY:
		v2 := rule.Value2.Decimal
		perUnit = retail.Mul(v1).Div(v1.Add(v2))
		desc = fmt.Sprintf("ซื้อ %s แถม %s ฟรี", v1.String(), v2.String())
	case PromotionPercentageDiscount:
		perUnit = retail.Mul(decimal.NewFromInt(1).Sub(v1.Div(hundred)))
		desc = fmt.Sprintf("ลด %s%%", v1.String())
	case PromotionFixedPricePerN:
		v2 := rule.Value2.Decimal
		perUnit = v1.Div(v2)
		desc = fmt.Sprintf("ราคา %s บาท สำหรับ %s เส้น", v1.String(), v2.String())
	}

	perUnit = perUnit.Round(2)
	perFour := perUnit.Mul(four)
	return Quote{PerUnit: &perUnit, PerFour: &perFour, Description: &desc}
}
