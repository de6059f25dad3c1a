package inventory

import (
	"context"
	"time"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// Aggregate is the period balance of one product or group
// ยอดยกมา รับเข้า ขายออก รับคืน และยอดคงเหลือของช่วงเวลา
type Aggregate struct {
	Opening int64 `json:"opening"`
	In      int64 `json:"in"`
	Out     int64 `json:"out"`
	Return  int64 `json:"return"`
	Closing int64 `json:"closing"`
}

// Apply adds one movement inside the period.
func (a *Aggregate) Apply(m *Movement) {
	switch m.Type {
	case MovementIn:
		a.In += m.QuantityChange
	case MovementOut:
		a.Out += m.QuantityChange
	case MovementReturn:
		a.Return += m.QuantityChange
	}
	a.Closing = a.Opening + a.In + a.Return - a.Out
}

// Add folds b into a.
func (a *Aggregate) Add(b Aggregate) {
	a.Opening += b.Opening
	a.In += b.In
	a.Out += b.Out
	a.Return += b.Return
	a.Closing += b.Closing
}

// Balanced reports whether opening + in + return - out equals closing.
func (a Aggregate) Balanced() bool {
	return a.Opening+a.In+a.Return-a.Out == a.Closing
}

// NewAggregate starts an aggregate at the given opening balance.
func NewAggregate(opening int64) Aggregate {
	return Aggregate{Opening: opening, Closing: opening}
}

// LedgerWindow is a consistent read of one family's ledger over [From, To)
// ข้อมูลสมุดบัญชีสต็อกของช่วงเวลาหนึ่ง
type LedgerWindow struct {
	Family   Family
	From, To time.Time
	// Products holds every product of the family, deleted ones included.
	Products []Product
	// Openings is the signed sum strictly before From per product id.
	Openings map[int64]int64
	// Closings is the signed sum strictly before To per product id.
	Closings map[int64]int64
	// Movements are the rows inside the window in ledger order.
	Movements []Movement
}

// Active reports whether a product belongs in a period report: it moved in
// the window, or its opening or current stock is nonzero.
func (w *LedgerWindow) Active(p Product, moved bool) bool {
	return moved || w.Openings[p.Base().ID] != 0 || p.Base().Quantity != 0
}

// LoadWindow reads products, openings, closings and movements of family for
// [from, to) from one snapshot, so a sale committed mid-read cannot unbalance it.
func (m *Manager) LoadWindow(ctx context.Context, family Family, from, to time.Time) (*LedgerWindow, error) {
	w := &LedgerWindow{Family: family, From: from, To: to}
	err := m.storage.InReadTx(ctx, func(q Queries) error {
		var err error
		if w.Products, err = q.ListProducts(ctx, ProductFilter{Family: family, IncludeDeleted: true}); err != nil {
			return NewStorageError("list_products", err)
		}
		if w.Openings, err = q.SumSignedByProductBefore(ctx, family, from); err != nil {
			return NewStorageError("sum_openings", err)
		}
		if w.Closings, err = q.SumSignedByProductBefore(ctx, family, to); err != nil {
			return NewStorageError("sum_closings", err)
		}
		if w.Movements, err = q.ListMovements(ctx, MovementFilter{Family: family, From: &from, To: &to}); err != nil {
			return NewStorageError("list_movements", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range w.Movements {
		w.Movements[i].Family = family
	}
	return w, nil
}

// StockAt returns the balance of ref strictly before instant t
// ยอดคงเหลือ ณ เวลาที่กำหนด
func (m *Manager) StockAt(ctx context.Context, p identity.Principal, ref ProductRef, t time.Time) (int64, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return 0, err
	}
	if _, err := m.storage.GetProduct(ctx, ref); err != nil {
		return 0, NewStorageError("get_product", err)
	}
	sum, err := m.storage.SumSignedBefore(ctx, ref, t, 0)
	if err != nil {
		return 0, NewStorageError("sum_before", err)
	}
	return sum, nil
}

// PeriodAggregate returns the balance of ref over Bangkok days from..to inclusive
// สรุปยอดเคลื่อนไหวของสินค้าในช่วงวันที่
func (m *Manager) PeriodAggregate(ctx context.Context, p identity.Principal, ref ProductRef, from, to time.Time) (Aggregate, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return Aggregate{}, err
	}
	start, end, err := identity.RangeBounds(from, to)
	if err != nil {
		return Aggregate{}, NewValidationError("from", err.Error(), identity.FormatDate(from))
	}
	if _, err := m.storage.GetProduct(ctx, ref); err != nil {
		return Aggregate{}, NewStorageError("get_product", err)
	}

	var agg Aggregate
	err = m.storage.InReadTx(ctx, func(q Queries) error {
		opening, err := q.SumSignedBefore(ctx, ref, start, 0)
		if err != nil {
			return NewStorageError("sum_before", err)
		}
		rows, err := q.ListMovements(ctx, MovementFilter{Family: ref.Family, ProductID: &ref.ID, From: &start, To: &end})
		if err != nil {
			return NewStorageError("list_movements", err)
		}
		agg = NewAggregate(opening)
		for i := range rows {
			agg.Apply(&rows[i])
		}
		return nil
	})
	return agg, err
}
