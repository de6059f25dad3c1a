package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// ProductHistory is the audit trail of one product over a date range
// ประวัติการเคลื่อนไหวและการแก้ไขของสินค้า
type ProductHistory struct {
	Product     ProductRef         `json:"product"`
	Name        string             `json:"name"`
	FromDate    time.Time          `json:"from_date"`
	ToDate      time.Time          `json:"to_date"`
	Balance     Aggregate          `json:"balance"`
	Movements   []Movement         `json:"movements"`
	Deletions   []MovementDeletion `json:"deletions"`
	CostHistory []TireCostHistory  `json:"cost_history,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ProductHistory collects the movements, deleted movements and (for tires and
// cost-seeing roles) cost changes of a product between Bangkok days from..to.
// ดึงประวัติสินค้าตามช่วงวันที่
func (m *Manager) ProductHistory(ctx context.Context, p identity.Principal, ref ProductRef, from, to time.Time) (*ProductHistory, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return nil, err
	}
	start, end, err := identity.RangeBounds(from, to)
	if err != nil {
		return nil, NewValidationError("from", err.Error(), identity.FormatDate(from))
	}
	prod, err := m.storage.GetProduct(ctx, ref)
	if err != nil {
		return nil, NewStorageError("get_product", err)
	}

	h := &ProductHistory{
		Product:     ref,
		Name:        prod.DisplayName(),
		FromDate:    start,
		ToDate:      end.AddDate(0, 0, -1),
		GeneratedAt: m.now(),
	}
	opening, err := m.storage.SumSignedBefore(ctx, ref, start, 0)
	if err != nil {
		return nil, NewStorageError("sum_before", err)
	}
	h.Movements, err = m.storage.ListMovements(ctx, MovementFilter{Family: ref.Family, ProductID: &ref.ID, From: &start, To: &end})
	if err != nil {
		return nil, NewStorageError("list_movements", err)
	}
	h.Balance = NewAggregate(opening)
	for i := range h.Movements {
		h.Movements[i].Family = ref.Family
		h.Balance.Apply(&h.Movements[i])
	}

	// the audit rows are secondary; a failure leaves them empty
	h.Deletions, err = m.storage.ListMovementDeletions(ctx, ref, start, end)
	if err != nil {
		m.logger.Warn("movement deletion audit unavailable", zap.String("product", ref.String()), zap.Error(err))
		h.Deletions = []MovementDeletion{}
	}

	if ref.Family == FamilyTire && p.Can(identity.OpViewCosts) {
		all, err := m.storage.ListCostHistory(ctx, ref.ID)
		if err != nil {
			return nil, NewStorageError("list_cost_history", err)
		}
		for _, c := range all {
			if !c.ChangedAt.Before(start) && c.ChangedAt.Before(end) {
				h.CostHistory = append(h.CostHistory, c)
			}
		}
	}

	m.logger.Debug("product history built",
		zap.String("product", ref.String()),
		zap.Int("movements", len(h.Movements)),
		zap.Int("deletions", len(h.Deletions)),
	)
	return h, nil
}
