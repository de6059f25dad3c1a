package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ValuationLine is the stock value of one product
// มูลค่าสต็อกของสินค้าหนึ่งรายการ
type ValuationLine struct {
	Product    ProductRef      `json:"product"`
	Name       string          `json:"name"`
	Brand      string          `json:"brand"`
	Quantity   int64           `json:"quantity"`
	CostColumn string          `json:"cost_column"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Value      decimal.Decimal `json:"value"`
	// Class is the ABC class by share of total value.
	Class string `json:"class"`
}

// costPreference lists the cost columns tried in order for each family.
var costPreference = map[Family][]string{
	FamilyTire:      {"cost_sc", "cost_dunlop", "cost_online"},
	FamilyWheel:     {"cost", "cost_online"},
	FamilySparePart: {"cost", "cost_online"},
}

// UnitCost returns the first set cost column of p in preference order.
// ok is false when the product has no cost at all.
func UnitCost(p Product) (column string, cost decimal.Decimal, ok bool) {
	costs := p.Costs()
	for _, col := range costPreference[p.Family()] {
		if c, set := costs[col]; set && c.Valid {
			return col, c.Decimal, true
		}
	}
	return "", decimal.Zero, false
}

// Valuate values current stock at unit cost and classifies the lines ABC.
// Products without stock are skipped; products without a cost are valued at
// zero and reported through missing.
// คำนวณมูลค่าสต็อกคงเหลือ
func Valuate(products []Product) (lines []ValuationLine, total decimal.Decimal, missing []ProductRef) {
	total = decimal.Zero
	for _, p := range products {
		b := p.Base()
		if b.Quantity <= 0 || b.IsDeleted {
			continue
		}
		col, cost, ok := UnitCost(p)
		if !ok {
			missing = append(missing, Ref(p))
		}
		value := cost.Mul(decimal.NewFromInt(b.Quantity))
		total = total.Add(value)
		lines = append(lines, ValuationLine{
			Product:    Ref(p),
			Name:       p.DisplayName(),
			Brand:      p.GroupBrand(),
			Quantity:   b.Quantity,
			CostColumn: col,
			UnitCost:   cost,
			Value:      value,
		})
	}
	ClassifyABC(lines, total)
	return lines, total, missing
}

var (
	classA = decimal.NewFromFloat(0.8)
	classB = decimal.NewFromFloat(0.95)
)

// ClassifyABC sorts lines by value descending and assigns A to the lines
// making up the first 80% of total, B up to 95%, and C for the rest.
func ClassifyABC(lines []ValuationLine, total decimal.Decimal) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].Value.Equal(lines[j].Value) {
			return lines[i].Value.GreaterThan(lines[j].Value)
		}
		return lines[i].Name < lines[j].Name
	})
	cumulative := decimal.Zero
	for i := range lines {
		if !total.IsPositive() {
			lines[i].Class = "C"
			continue
		}
		cumulative = cumulative.Add(lines[i].Value)
		share := cumulative.Div(total)
		switch {
		case share.LessThanOrEqual(classA):
			lines[i].Class = "A"
		case share.LessThanOrEqual(classB):
			lines[i].Class = "B"
		default:
			lines[i].Class = "C"
		}
	}
}
