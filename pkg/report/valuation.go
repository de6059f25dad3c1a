package report

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// FamilyValuation is the stock value of one family.
type FamilyValuation struct {
	Family  inventory.Family          `json:"family"`
	Lines   []inventory.ValuationLine `json:"lines"`
	Total   decimal.Decimal           `json:"total"`
	Missing []inventory.ProductRef    `json:"missing_cost,omitempty"`
}

// Valuation is the value of current stock at unit cost
// มูลค่าสต็อกคงเหลือ
type Valuation struct {
	Families    []FamilyValuation `json:"families"`
	Total       decimal.Decimal   `json:"total"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Valuation values the live stock of every family with ABC classes per family.
// Only cost-seeing roles may read it.
func (s *Service) Valuation(ctx context.Context, p identity.Principal) (*Valuation, error) {
	if err := s.authorize(p, identity.OpViewCosts); err != nil {
		return nil, err
	}
	timer := prometheus.NewTimer(s.duration.WithLabelValues("valuation"))
	defer timer.ObserveDuration()

	v := &Valuation{Total: decimal.Zero, GeneratedAt: s.manager.Clock().Now()}
	for _, family := range inventory.Families {
		products, err := s.manager.Storage().ListProducts(ctx, inventory.ProductFilter{Family: family})
		if err != nil {
			return nil, inventory.NewStorageError("list_products", err)
		}
		lines, total, missing := inventory.Valuate(products)
		if lines == nil {
			lines = []inventory.ValuationLine{}
		}
		v.Families = append(v.Families, FamilyValuation{Family: family, Lines: lines, Total: total, Missing: missing})
		v.Total = v.Total.Add(total)
		if len(missing) > 0 {
			s.logger.Warn("products without cost valued at zero",
				zap.String("family", string(family)), zap.Int("count", len(missing)))
		}
	}
	s.logger.Info("valuation built", zap.String("total", v.Total.StringFixed(2)))
	return v, nil
}
