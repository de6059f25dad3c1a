package report_test

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

var (
	admin  = identity.Principal{UserID: 1, Username: "admin", Role: identity.RoleAdmin}
	editor = identity.Principal{UserID: 2, Username: "somchai", Role: identity.RoleEditor}
	retail = identity.Principal{UserID: 3, Username: "malee", Role: identity.RoleRetailSales}
	viewer = identity.Principal{UserID: 4, Username: "guest", Role: identity.RoleViewer}
)

func bkk(month time.Month, day, hour int) time.Time {
	return time.Date(2024, month, day, hour, 0, 0, 0, identity.Bangkok)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) *decimal.NullDecimal {
	v := decimal.NewNullDecimal(d(s))
	return &v
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	ctx     context.Context
	clock   *identity.FixedClock
	mgr     *inventory.Manager
	reports *report.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		clock: identity.NewFixedClock(bkk(time.February, 1, 9)),
	}
	f.mgr = inventory.NewManager(storage.NewMemoryStorage(), zap.NewNop(), nil,
		inventory.WithClock(f.clock),
		inventory.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, f.mgr.Bootstrap(f.ctx))
	f.reports = report.NewService(f.mgr, zap.NewNop(), prometheus.NewRegistry())
	return f
}

func (f *fixture) tire(t *testing.T, brand, model, size string) inventory.ProductRef {
	t.Helper()
	v, err := f.mgr.CreateProduct(f.ctx, admin, inventory.ProductInput{
		Family: inventory.FamilyTire,
		Tire:   &inventory.TireAttributes{Brand: brand, Model: model, Size: size},
		Prices: inventory.PricePatch{RetailPrice: ptr(d("3200")), CostSC: nd("2000")},
	})
	require.NoError(t, err)
	return inventory.ProductRef{Family: v.Family, ID: v.ID}
}

func (f *fixture) part(t *testing.T, name string, brand *string, category *int64) inventory.ProductRef {
	t.Helper()
	v, err := f.mgr.CreateProduct(f.ctx, admin, inventory.ProductInput{
		Family:    inventory.FamilySparePart,
		SparePart: &inventory.SparePartAttributes{Name: name, Brand: brand, CategoryID: category},
		Prices:    inventory.PricePatch{RetailPrice: ptr(d("450")), Cost: nd("300")},
	})
	require.NoError(t, err)
	return inventory.ProductRef{Family: v.Family, ID: v.ID}
}

// record appends in at the given Bangkok time.
func (f *fixture) record(t *testing.T, when time.Time, in inventory.MovementInput) inventory.Movement {
	t.Helper()
	f.clock.Set(when)
	mv, err := f.mgr.RecordMovement(f.ctx, admin, in)
	require.NoError(t, err)
	return mv
}

func purchase(r inventory.ProductRef, qty int64) inventory.MovementInput {
	return inventory.MovementInput{Family: r.Family, ProductID: r.ID, Type: inventory.MovementIn, Quantity: qty, Channel: inventory.ChannelPurchaseIn}
}

func sale(r inventory.ProductRef, qty int64) inventory.MovementInput {
	return inventory.MovementInput{Family: r.Family, ProductID: r.ID, Type: inventory.MovementOut, Quantity: qty, Channel: inventory.ChannelStorefront}
}

func giveBack(r inventory.ProductRef, qty int64) inventory.MovementInput {
	return inventory.MovementInput{
		Family: r.Family, ProductID: r.ID, Type: inventory.MovementReturn, Quantity: qty,
		Channel: inventory.ChannelReturnIn, ReturnCustomerType: inventory.ReturnCustomerStorefront,
	}
}

func TestPeriodReportRowBalances(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Michelin", "Primacy 4", "205/55R16")

	f.record(t, bkk(time.February, 10, 9), purchase(r, 5))
	f.record(t, bkk(time.March, 10, 9), purchase(r, 3))
	f.record(t, bkk(time.March, 20, 14), sale(r, 2))
	f.record(t, bkk(time.March, 25, 11), giveBack(r, 1))

	rep, err := f.reports.Period(f.ctx, editor, bkk(time.March, 1, 0), bkk(time.March, 31, 0))
	require.NoError(t, err)
	assert.Equal(t, report.KindPeriod, rep.Kind)
	assert.Equal(t, "2024-03-01", identity.FormatDate(rep.FromDate))
	assert.Equal(t, "2024-03-31", identity.FormatDate(rep.ToDate))

	row := rep.Row(r)
	require.NotNil(t, row)
	assert.Equal(t, inventory.Aggregate{Opening: 5, In: 3, Out: 2, Return: 1, Closing: 7}, row.Aggregate)
	assert.Equal(t, "Michelin", row.Brand)
	assert.True(t, rep.GrandTotal.Balanced())
	assert.Equal(t, row.Aggregate, rep.GrandTotal)

	section := rep.Section(inventory.FamilyTire)
	require.NotNil(t, section)
	require.Len(t, section.Groups, 1)
	assert.Equal(t, row.Aggregate, section.Groups[0].Subtotal)
	assert.Empty(t, section.Movements)
}

type modelMove struct {
	ref   inventory.ProductRef
	at    time.Time
	delta int64
	typ   inventory.MovementType
}

// expect folds the moves of ref into the aggregate of [start, end).
func expect(moves []modelMove, ref inventory.ProductRef, start, end time.Time) inventory.Aggregate {
	var agg inventory.Aggregate
	for _, mv := range moves {
		if mv.ref != ref || !mv.at.Before(end) {
			continue
		}
		if mv.at.Before(start) {
			agg.Opening += mv.delta
			continue
		}
		switch mv.typ {
		case inventory.MovementIn:
			agg.In += mv.delta
		case inventory.MovementOut:
			agg.Out -= mv.delta
		case inventory.MovementReturn:
			agg.Return += mv.delta
		}
	}
	agg.Closing = agg.Opening + agg.In + agg.Return - agg.Out
	return agg
}

// coverAt is the most that can leave ref at t without any balance from t
// onward dropping below zero.
func coverAt(moves []modelMove, ref inventory.ProductRef, t time.Time) int64 {
	var own []modelMove
	for _, mv := range moves {
		if mv.ref == ref {
			own = append(own, mv)
		}
	}
	sort.Slice(own, func(i, j int) bool { return own[i].at.Before(own[j].at) })
	var bal int64
	i := 0
	for ; i < len(own) && own[i].at.Before(t); i++ {
		bal += own[i].delta
	}
	least := bal
	for ; i < len(own); i++ {
		bal += own[i].delta
		if bal < least {
			least = bal
		}
	}
	return least
}

func TestRandomPeriodsBalance(t *testing.T) {
	f := newFixture(t)
	refs := []inventory.ProductRef{
		f.tire(t, "Michelin", "Pilot Sport 4", "225/45R17"),
		f.tire(t, "Bridgestone", "Ecopia EP300", "195/65R15"),
		f.tire(t, "Toyo", "Proxes CF2", "205/55R16"),
	}
	rng := rand.New(rand.NewSource(20240301))
	base := bkk(time.February, 1, 0)
	span := int(bkk(time.May, 1, 0).Sub(base) / time.Minute)

	var moves []modelMove
	used := make(map[time.Time]bool)
	for len(moves) < 150 {
		at := base.Add(time.Duration(rng.Intn(span)) * time.Minute)
		if used[at] {
			continue
		}
		used[at] = true
		r := refs[rng.Intn(len(refs))]
		qty := int64(rng.Intn(6) + 1)

		in := purchase(r, qty)
		mv := modelMove{ref: r, at: at, delta: qty, typ: inventory.MovementIn}
		switch roll := rng.Intn(10); {
		case roll < 5 && coverAt(moves, r, at) >= qty:
			in = sale(r, qty)
			mv.delta, mv.typ = -qty, inventory.MovementOut
		case roll == 5:
			in = giveBack(r, qty)
			mv.typ = inventory.MovementReturn
		}
		f.record(t, at, in)
		moves = append(moves, mv)
	}
	f.clock.Set(bkk(time.May, 10, 9))

	for i := 0; i < 40; i++ {
		from := bkk(time.January, 25, 0).AddDate(0, 0, rng.Intn(105))
		to := from.AddDate(0, 0, rng.Intn(40))
		start, end := from, to.AddDate(0, 0, 1)

		rep, err := f.reports.Period(f.ctx, admin, from, to)
		require.NoError(t, err, "window %s..%s", identity.FormatDate(from), identity.FormatDate(to))
		require.True(t, rep.GrandTotal.Balanced())

		var total inventory.Aggregate
		for _, r := range refs {
			want := expect(moves, r, start, end)
			got, err := f.mgr.PeriodAggregate(f.ctx, admin, r, from, to)
			require.NoError(t, err)
			assert.Equal(t, want, got, "product %d window %s..%s", r.ID, identity.FormatDate(from), identity.FormatDate(to))

			row := rep.Row(r)
			if row == nil {
				assert.Equal(t, inventory.Aggregate{}, want)
				continue
			}
			assert.True(t, row.Balanced())
			assert.Equal(t, got, row.Aggregate, "product %d window %s..%s", r.ID, identity.FormatDate(from), identity.FormatDate(to))
			total.Add(row.Aggregate)
		}
		assert.Equal(t, total, rep.GrandTotal)
	}
}

func TestMovementAtEndOfDayStaysOnItsDay(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Maxxis", "Premitra HP5", "215/55R17")
	f.record(t, bkk(time.March, 19, 9), purchase(r, 5))

	lastTick := time.Date(2024, 3, 20, 23, 59, 59, int(999*time.Millisecond), identity.Bangkok)
	f.record(t, lastTick, sale(r, 2))
	f.record(t, bkk(time.March, 21, 0), sale(r, 1))
	f.clock.Set(bkk(time.March, 22, 9))

	day, err := f.reports.Daily(f.ctx, admin, bkk(time.March, 20, 0))
	require.NoError(t, err)
	require.NotNil(t, day.Row(r))
	assert.Equal(t, inventory.Aggregate{Opening: 5, Out: 2, Closing: 3}, day.Row(r).Aggregate)

	next, err := f.reports.Daily(f.ctx, admin, bkk(time.March, 21, 0))
	require.NoError(t, err)
	require.NotNil(t, next.Row(r))
	assert.Equal(t, inventory.Aggregate{Opening: 3, Out: 1, Closing: 2}, next.Row(r).Aggregate)

	agg, err := f.mgr.PeriodAggregate(f.ctx, admin, r, lastTick, lastTick)
	require.NoError(t, err)
	assert.Equal(t, day.Row(r).Aggregate, agg)
}

func TestPeriodReportBeforeAnyMovement(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Bridgestone", "Turanza T005", "215/60R16")
	f.record(t, bkk(time.March, 20, 9), purchase(r, 4))

	rep, err := f.reports.Period(f.ctx, admin, bkk(time.March, 1, 0), bkk(time.March, 10, 0))
	require.NoError(t, err)
	row := rep.Row(r)
	require.NotNil(t, row, "products holding stock today stay on the report")
	assert.Equal(t, inventory.Aggregate{}, row.Aggregate)
}

func TestPeriodReportRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.reports.Period(f.ctx, admin, bkk(time.March, 10, 0), bkk(time.March, 1, 0))
	var ve *inventory.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDailyReportListsMovements(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Yokohama", "BluEarth", "185/60R15")
	other := f.tire(t, "Dunlop", "LM705", "195/65R15")

	f.record(t, bkk(time.March, 19, 9), purchase(r, 8))
	f.record(t, bkk(time.March, 20, 10), sale(r, 1))
	f.record(t, bkk(time.March, 20, 15), sale(r, 1))
	f.record(t, bkk(time.March, 21, 9), purchase(other, 2))

	rep, err := f.reports.Daily(f.ctx, editor, bkk(time.March, 20, 0))
	require.NoError(t, err)
	assert.Equal(t, report.KindDaily, rep.Kind)
	assert.Nil(t, rep.Channels)

	row := rep.Row(r)
	require.NotNil(t, row)
	assert.Equal(t, inventory.Aggregate{Opening: 8, Out: 2, Closing: 6}, row.Aggregate)

	section := rep.Section(inventory.FamilyTire)
	require.Len(t, section.Movements, 1)
	assert.Equal(t, r, section.Movements[0].Product)
	require.Len(t, section.Movements[0].Movements, 2)
	for _, mv := range section.Movements[0].Movements {
		assert.Equal(t, inventory.MovementOut, mv.Type)
	}

	// no stock yet on the 20th, but stock today keeps the row visible
	require.NotNil(t, rep.Row(other))
	assert.Equal(t, int64(0), rep.Row(other).Closing)
	require.Len(t, section.Groups, 2)
	assert.Equal(t, "Dunlop", section.Groups[0].Brand)
	assert.Equal(t, "Yokohama", section.Groups[1].Brand)
}

func TestReportChannelBreakdown(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Goodyear", "Assurance", "205/65R15")
	shopee, err := f.mgr.CreateMaster(f.ctx, admin, inventory.MasterPlatform, "Shopee")
	require.NoError(t, err)
	dealer, err := f.mgr.CreateMaster(f.ctx, admin, inventory.MasterCustomer, "ร้านยางสมบูรณ์")
	require.NoError(t, err)

	day := bkk(time.March, 15, 0)
	f.record(t, day.Add(9*time.Hour), purchase(r, 10))
	online := sale(r, 3)
	online.Channel = inventory.ChannelOnline
	online.OnlinePlatformID = &shopee.ID
	f.record(t, day.Add(10*time.Hour), online)
	bulk := sale(r, 4)
	bulk.Channel = inventory.ChannelWholesale
	bulk.WholesaleCustomerID = &dealer.ID
	f.record(t, day.Add(11*time.Hour), bulk)
	ret := giveBack(r, 1)
	ret.ReturnCustomerType = inventory.ReturnCustomerOnline
	ret.OnlinePlatformID = &shopee.ID
	back := f.record(t, day.Add(12*time.Hour), ret)

	rep, err := f.reports.Period(f.ctx, admin, day, day)
	require.NoError(t, err)

	purchases := rep.Channel(inventory.ChannelPurchaseIn)
	require.NotNil(t, purchases)
	assert.Equal(t, int64(10), purchases.In)

	on := rep.Channel(inventory.ChannelOnline)
	require.NotNil(t, on)
	assert.Equal(t, int64(3), on.Out)
	require.Len(t, on.Platforms, 1)
	assert.Equal(t, report.Flow{Name: "Shopee", Out: 3, Returns: []report.ReturnDetail{}}, on.Platforms[0])

	ws := rep.Channel(inventory.ChannelWholesale)
	require.NotNil(t, ws)
	require.Len(t, ws.Customers, 1)
	assert.Equal(t, "ร้านยางสมบูรณ์", ws.Customers[0].Name)
	assert.Equal(t, int64(4), ws.Customers[0].Out)

	returns := rep.Channel(inventory.ChannelReturnIn)
	require.NotNil(t, returns)
	require.Len(t, returns.Returns, 1)
	got := returns.Returns[0]
	assert.Equal(t, back.ID, got.MovementID)
	assert.Equal(t, int64(1), got.Quantity)
	assert.Equal(t, inventory.ReturnCustomerOnline, got.ReturnCustomerType)
	assert.Equal(t, "Shopee", got.OnlinePlatform)
	assert.Equal(t, "Goodyear Assurance 205/65R15", got.Name)

	store := rep.Channel(inventory.ChannelStorefront)
	require.NotNil(t, store, "every channel is listed even without movements")
	assert.Zero(t, store.Out)
	assert.Empty(t, store.Returns)
}

func TestSparePartsGroupByCategoryPath(t *testing.T) {
	f := newFixture(t)
	engine, err := f.mgr.CreateCategory(f.ctx, admin, "เครื่องยนต์", nil)
	require.NoError(t, err)
	oil, err := f.mgr.CreateCategory(f.ctx, admin, "น้ำมันเครื่อง", &engine.ID)
	require.NoError(t, err)

	castrol := f.part(t, "Magnatec 10W-40", ptr("Castrol"), &oil.ID)
	loose := f.part(t, "จุกลมยาง", nil, nil)
	when := bkk(time.March, 15, 9)
	f.record(t, when, purchase(castrol, 6))
	f.record(t, when.Add(time.Hour), purchase(loose, 20))

	rep, err := f.reports.Daily(f.ctx, editor, when)
	require.NoError(t, err)
	section := rep.Section(inventory.FamilySparePart)
	require.NotNil(t, section)
	require.Len(t, section.Groups, 2)

	groups := map[string]report.Group{}
	for _, g := range section.Groups {
		groups[g.Key()] = g
	}
	oilGroup, ok := groups["เครื่องยนต์ / น้ำมันเครื่อง > Castrol"]
	require.True(t, ok, groups)
	assert.Equal(t, int64(6), oilGroup.Subtotal.In)
	require.Len(t, oilGroup.Rows, 1)
	assert.Equal(t, castrol, oilGroup.Rows[0].Product)

	looseGroup, ok := groups[inventory.NoCategory+" > "+inventory.NoBrand]
	require.True(t, ok, groups)
	assert.Equal(t, int64(20), looseGroup.Subtotal.Closing)
	assert.Equal(t, int64(26), section.Total.Closing)
}

func TestReportPermissions(t *testing.T) {
	f := newFixture(t)
	day := bkk(time.March, 15, 0)
	var pd *identity.PermissionDeniedError

	_, err := f.reports.Daily(f.ctx, retail, day)
	assert.ErrorAs(t, err, &pd)
	_, err = f.reports.Period(f.ctx, viewer, day, day)
	assert.ErrorAs(t, err, &pd)

	snap, err := f.reports.Snapshot(f.ctx, admin, day)
	require.NoError(t, err)
	assert.Equal(t, report.KindPeriod, snap.Kind)
	assert.NotEmpty(t, snap.Channels)
}

func TestValuation(t *testing.T) {
	f := newFixture(t)
	r := f.tire(t, "Michelin", "Pilot Sport 4", "225/45R17")
	f.record(t, bkk(time.March, 1, 9), purchase(r, 5))
	f.tire(t, "Michelin", "Energy XM2", "185/65R15")

	_, err := f.reports.Valuation(f.ctx, editor)
	var pd *identity.PermissionDeniedError
	require.ErrorAs(t, err, &pd)

	v, err := f.reports.Valuation(f.ctx, admin)
	require.NoError(t, err)
	require.Len(t, v.Families, len(inventory.Families))
	assert.True(t, v.Total.Equal(d("10000")), v.Total.String())

	var tires report.FamilyValuation
	for _, fv := range v.Families {
		if fv.Family == inventory.FamilyTire {
			tires = fv
		}
	}
	require.Len(t, tires.Lines, 1)
	assert.Equal(t, r, tires.Lines[0].Product)
	assert.Equal(t, "cost_sc", tires.Lines[0].CostColumn)
}
