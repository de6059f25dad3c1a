package report

import (
	"sort"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

type channelAcc struct {
	flow      Flow
	platforms map[string]*Flow
	customers map[string]*Flow
}

// channelBreakdown accumulates per-channel flows across families.
type channelBreakdown struct {
	names    *masterNames
	channels map[string]*channelAcc
}

func newChannelBreakdown(names *masterNames) *channelBreakdown {
	b := &channelBreakdown{names: names, channels: make(map[string]*channelAcc)}
	// every known channel appears, even without movements
	for _, name := range names.channels {
		b.channel(name)
	}
	return b
}

func (b *channelBreakdown) channel(name string) *channelAcc {
	acc, ok := b.channels[name]
	if !ok {
		acc = &channelAcc{
			flow:      Flow{Name: name, Returns: []ReturnDetail{}},
			platforms: make(map[string]*Flow),
			customers: make(map[string]*Flow),
		}
		b.channels[name] = acc
	}
	return acc
}

func sub(m map[string]*Flow, name string) *Flow {
	f, ok := m[name]
	if !ok {
		f = &Flow{Name: name, Returns: []ReturnDetail{}}
		m[name] = f
	}
	return f
}

func (f *Flow) apply(mv *inventory.Movement, detail func() ReturnDetail) {
	switch mv.Type {
	case inventory.MovementIn:
		f.In += mv.QuantityChange
	case inventory.MovementOut:
		f.Out += mv.QuantityChange
	case inventory.MovementReturn:
		f.Returns = append(f.Returns, detail())
	}
}

// add folds every movement of the window into the breakdown.
func (b *channelBreakdown) add(w *inventory.LedgerWindow) {
	names := make(map[int64]string, len(w.Products))
	for _, p := range w.Products {
		names[p.Base().ID] = p.DisplayName()
	}
	for i := range w.Movements {
		mv := &w.Movements[i]
		if mv.ChannelID == nil {
			continue
		}
		detail := func() ReturnDetail {
			d := ReturnDetail{
				Product:           mv.Ref(),
				Name:              names[mv.ProductID],
				MovementID:        mv.ID,
				Timestamp:         mv.Timestamp,
				Quantity:          mv.QuantityChange,
				OnlinePlatform:    lookup(b.names.platforms, mv.OnlinePlatformID),
				WholesaleCustomer: lookup(b.names.customers, mv.WholesaleCustomerID),
			}
			if mv.ReturnCustomerType != nil {
				d.ReturnCustomerType = *mv.ReturnCustomerType
			}
			return d
		}

		acc := b.channel(lookup(b.names.channels, mv.ChannelID))
		acc.flow.apply(mv, detail)
		if mv.OnlinePlatformID != nil {
			sub(acc.platforms, lookup(b.names.platforms, mv.OnlinePlatformID)).apply(mv, detail)
		}
		if mv.WholesaleCustomerID != nil {
			sub(acc.customers, lookup(b.names.customers, mv.WholesaleCustomerID)).apply(mv, detail)
		}
	}
}

func sortedFlows(m map[string]*Flow) []Flow {
	if len(m) == 0 {
		return nil
	}
	out := make([]Flow, 0, len(m))
	for _, f := range m {
		sortReturns(f.Returns)
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortReturns(rs []ReturnDetail) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		if rs[i].Product.Family != rs[j].Product.Family {
			return rs[i].Product.Family < rs[j].Product.Family
		}
		return rs[i].MovementID < rs[j].MovementID
	})
}

// summaries returns the channels sorted by name, sub-keys sorted likewise.
func (b *channelBreakdown) summaries() []ChannelSummary {
	out := make([]ChannelSummary, 0, len(b.channels))
	for _, acc := range b.channels {
		sortReturns(acc.flow.Returns)
		out = append(out, ChannelSummary{
			Flow:      acc.flow,
			Platforms: sortedFlows(acc.platforms),
			Customers: sortedFlows(acc.customers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
