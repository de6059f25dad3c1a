package inventory_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/blob"
	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
)

var (
	admin     = identity.Principal{UserID: 1, Username: "admin", Role: identity.RoleAdmin}
	editor    = identity.Principal{UserID: 2, Username: "somchai", Role: identity.RoleEditor}
	retail    = identity.Principal{UserID: 3, Username: "malee", Role: identity.RoleRetailSales}
	viewer    = identity.Principal{UserID: 4, Username: "guest", Role: identity.RoleViewer}
	wholesale = identity.Principal{UserID: 5, Username: "anan", Role: identity.RoleWholesaleSales}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) *decimal.NullDecimal {
	v := decimal.NewNullDecimal(d(s))
	return &v
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	ctx   context.Context
	store *storage.MemoryStorage
	clock *identity.FixedClock
	cache *cache.Cache
	blobs *blob.MemoryStore
	mgr   *inventory.Manager
}

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, identity.Bangkok)

func newFixture(t *testing.T, opts ...inventory.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: storage.NewMemoryStorage(),
		clock: identity.NewFixedClock(now),
		blobs: blob.NewMemoryStore("https://cdn.example.test/ledger"),
	}
	f.cache = cache.New(cache.NewMemoryStore(f.clock.Now), zap.NewNop(), nil)
	base := []inventory.Option{
		inventory.WithCache(f.cache),
		inventory.WithClock(f.clock),
		inventory.WithBlobStore(f.blobs),
		inventory.WithRegisterer(prometheus.NewRegistry()),
	}
	f.mgr = inventory.NewManager(f.store, zap.NewNop(), nil, append(base, opts...)...)
	require.NoError(t, f.mgr.Bootstrap(f.ctx))
	return f
}

func (f *fixture) tire(t *testing.T, brand, model, size, retailPrice string) inventory.ProductView {
	t.Helper()
	v, err := f.mgr.CreateProduct(f.ctx, admin, inventory.ProductInput{
		Family: inventory.FamilyTire,
		Tire:   &inventory.TireAttributes{Brand: brand, Model: model, Size: size},
		Prices: inventory.PricePatch{RetailPrice: ptr(d(retailPrice)), CostSC: nd("2000")},
	})
	require.NoError(t, err)
	return v
}

func ref(v inventory.ProductView) inventory.ProductRef {
	return inventory.ProductRef{Family: v.Family, ID: v.ID}
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

func with(in inventory.MovementInput, edit func(*inventory.MovementInput)) inventory.MovementInput {
	edit(&in)
	return in
}

func at(in inventory.MovementInput, ts time.Time) inventory.MovementInput {
	in.Timestamp = &ts
	return in
}

// assertLedger checks that every remaining_quantity is the prefix sum of the
// product's ledger and that the cached quantity equals the full sum.
func assertLedger(t *testing.T, f *fixture, r inventory.ProductRef) int64 {
	t.Helper()
	rows, err := f.store.ListMovements(f.ctx, inventory.MovementFilter{Family: r.Family, ProductID: &r.ID})
	require.NoError(t, err)
	var running int64
	for _, mv := range rows {
		running += mv.Signed()
		assert.Equal(t, running, mv.RemainingQuantity, "movement %d", mv.ID)
		assert.GreaterOrEqual(t, running, int64(0), "movement %d", mv.ID)
	}
	prod, err := f.store.GetProduct(f.ctx, r)
	require.NoError(t, err)
	assert.Equal(t, running, prod.Base().Quantity)
	return running
}

func TestPurchaseThenStorefrontSale(t *testing.T) {
	f := newFixture(t)
	tire := f.tire(t, "Michelin", "Primacy 4", "205/55R16", "3000")
	assert.Equal(t, int64(0), tire.Quantity)

	in, err := f.mgr.RecordMovement(f.ctx, editor, purchase(ref(tire), 10))
	require.NoError(t, err)
	assert.Equal(t, int64(10), in.RemainingQuantity)
	assert.Equal(t, inventory.MovementIn, in.Type)

	out, err := f.mgr.RecordMovement(f.ctx, retail, sale(ref(tire), 4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), out.RemainingQuantity)
	assert.True(t, out.CommissionAmount.IsZero())
	assert.Equal(t, int64(6), assertLedger(t, f, ref(tire)))

	got, err := f.mgr.GetProduct(f.ctx, viewer, ref(tire))
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Quantity)
}

func TestInsufficientStockLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Bridgestone", "Ecopia", "185/65R15", "2500"))
	_, err := f.mgr.RecordMovement(f.ctx, editor, purchase(r, 10))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, editor, sale(r, 4))
	require.NoError(t, err)

	_, err = f.mgr.RecordMovement(f.ctx, editor, sale(r, 100))
	var is *inventory.InsufficientStockError
	require.ErrorAs(t, err, &is)
	assert.Equal(t, int64(6), is.Available)
	assert.Equal(t, int64(100), is.Requested)

	rows, err := f.mgr.ListMovements(f.ctx, admin, inventory.MovementQuery{Family: r.Family, ProductID: &r.ID})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(6), assertLedger(t, f, r))
}

func TestBackdatedSaleMayNotDipBelowZero(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Yokohama", "BluEarth", "195/60R15", "2200"))
	_, err := f.mgr.RecordMovement(f.ctx, editor, purchase(r, 5))
	require.NoError(t, err)

	// stock is 5 today but was 0 yesterday
	_, err = f.mgr.RecordMovement(f.ctx, admin, at(sale(r, 3), now.Add(-24*time.Hour)))
	var is *inventory.InsufficientStockError
	require.ErrorAs(t, err, &is)
	assert.Equal(t, int64(0), is.Available)
	assert.Equal(t, int64(3), is.Requested)
	assert.Equal(t, int64(5), assertLedger(t, f, r))
}

func TestBackdatedPurchaseRecomputesLaterRows(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Dunlop", "SP Sport", "215/45R17", "3500"))
	_, err := f.mgr.RecordMovement(f.ctx, editor, purchase(r, 4))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, editor, sale(r, 2))
	require.NoError(t, err)

	back, err := f.mgr.RecordMovement(f.ctx, admin, at(purchase(r, 6), now.Add(-48*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(6), back.RemainingQuantity)

	rows, err := f.store.ListMovements(f.ctx, inventory.MovementFilter{Family: r.Family, ProductID: &r.ID})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{6, 10, 8}, []int64{rows[0].RemainingQuantity, rows[1].RemainingQuantity, rows[2].RemainingQuantity})
	assert.Equal(t, int64(8), assertLedger(t, f, r))
}

func TestRandomLedgerKeepsPrefixSums(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Goodyear", "Assurance", "225/60R18", "4100"))
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 80; i++ {
		qty := int64(rng.Intn(5) + 1)
		ts := now.Add(-time.Duration(rng.Intn(600)) * time.Minute)
		var in inventory.MovementInput
		switch rng.Intn(5) {
		case 0, 1:
			in = purchase(r, qty)
		case 2, 3:
			in = sale(r, qty)
		default:
			in = giveBack(r, qty)
		}
		_, err := f.mgr.RecordMovement(f.ctx, admin, at(in, ts))
		if err != nil {
			var is *inventory.InsufficientStockError
			require.ErrorAs(t, err, &is, "step %d", i)
		}
		assertLedger(t, f, r)
	}

	rows, err := f.store.ListMovements(f.ctx, inventory.MovementFilter{Family: r.Family, ProductID: &r.ID})
	require.NoError(t, err)
	for i := 0; i < 30 && len(rows) > 0; i++ {
		mv := rows[rng.Intn(len(rows))]
		if rng.Intn(2) == 0 {
			err = f.mgr.DeleteMovement(f.ctx, admin, r.Family, mv.ID)
		} else {
			change := changeOf(mv)
			change.Quantity = int64(rng.Intn(6) + 1)
			change.Timestamp = now.Add(-time.Duration(rng.Intn(600)) * time.Minute)
			_, err = f.mgr.EditMovement(f.ctx, admin, r.Family, mv.ID, change)
		}
		if err != nil {
			var is *inventory.InsufficientStockError
			require.ErrorAs(t, err, &is, "rewrite %d", i)
		}
		assertLedger(t, f, r)
		rows, err = f.store.ListMovements(f.ctx, inventory.MovementFilter{Family: r.Family, ProductID: &r.ID})
		require.NoError(t, err)
	}
}

func changeOf(mv inventory.Movement) inventory.MovementChange {
	channel := inventory.ChannelPurchaseIn
	rct := ""
	switch mv.Type {
	case inventory.MovementOut:
		channel = inventory.ChannelStorefront
	case inventory.MovementReturn:
		channel = inventory.ChannelReturnIn
		rct = inventory.ReturnCustomerStorefront
	}
	return inventory.MovementChange{
		Type:               mv.Type,
		Quantity:           mv.QuantityChange,
		Timestamp:          mv.Timestamp,
		Channel:            channel,
		ReturnCustomerType: rct,
	}
}

type ledgerRow struct {
	ID        int64
	Type      inventory.MovementType
	Quantity  int64
	Remaining int64
	Unix      int64
}

func ledgerRows(t *testing.T, f *fixture, r inventory.ProductRef) []ledgerRow {
	t.Helper()
	rows, err := f.store.ListMovements(f.ctx, inventory.MovementFilter{Family: r.Family, ProductID: &r.ID})
	require.NoError(t, err)
	out := make([]ledgerRow, len(rows))
	for i, mv := range rows {
		out[i] = ledgerRow{mv.ID, mv.Type, mv.QuantityChange, mv.RemainingQuantity, mv.Timestamp.Unix()}
	}
	return out
}

func TestEditThenInverseEditRestoresLedger(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Pirelli", "Cinturato", "205/60R16", "3300"))
	base := now.Add(-10 * time.Hour)
	for i, in := range []inventory.MovementInput{purchase(r, 10), sale(r, 3), purchase(r, 5), sale(r, 4)} {
		_, err := f.mgr.RecordMovement(f.ctx, admin, at(in, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	before := ledgerRows(t, f, r)
	target := before[1]

	original, err := f.mgr.GetMovement(f.ctx, admin, r.Family, target.ID)
	require.NoError(t, err)
	change := changeOf(original)
	change.Quantity = 2
	change.Timestamp = base.Add(150 * time.Minute)
	edited, err := f.mgr.EditMovement(f.ctx, admin, r.Family, target.ID, change)
	require.NoError(t, err)
	assert.Equal(t, int64(2), edited.QuantityChange)
	assert.Equal(t, int64(9), assertLedger(t, f, r))

	_, err = f.mgr.EditMovement(f.ctx, admin, r.Family, target.ID, changeOf(original))
	require.NoError(t, err)
	assert.Equal(t, before, ledgerRows(t, f, r))
	assert.Equal(t, int64(8), assertLedger(t, f, r))
}

func TestEditRejectedWhenLaterRowWouldGoNegative(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Toyo", "Proxes", "225/45R18", "4500"))
	in, err := f.mgr.RecordMovement(f.ctx, admin, at(purchase(r, 5), now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, admin, at(sale(r, 5), now.Add(-time.Hour)))
	require.NoError(t, err)
	before := ledgerRows(t, f, r)

	change := changeOf(in)
	change.Quantity = 3
	_, err = f.mgr.EditMovement(f.ctx, admin, r.Family, in.ID, change)
	var is *inventory.InsufficientStockError
	require.ErrorAs(t, err, &is)
	assert.Equal(t, before, ledgerRows(t, f, r))
}

func TestEditOutToReturnIsValidatedAsNewRow(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Maxxis", "Victra", "195/50R15", "1900"))
	_, err := f.mgr.RecordMovement(f.ctx, admin, purchase(r, 5))
	require.NoError(t, err)
	out, err := f.mgr.RecordMovement(f.ctx, admin, sale(r, 2))
	require.NoError(t, err)

	change := changeOf(out)
	change.Type = inventory.MovementReturn
	_, err = f.mgr.EditMovement(f.ctx, admin, r.Family, out.ID, change)
	var ve *inventory.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "channel", ve.Field)

	change.Channel = inventory.ChannelReturnIn
	change.ReturnCustomerType = inventory.ReturnCustomerWholesale
	edited, err := f.mgr.EditMovement(f.ctx, admin, r.Family, out.ID, change)
	require.NoError(t, err)
	assert.Equal(t, inventory.MovementReturn, edited.Type)
	assert.Equal(t, int64(7), assertLedger(t, f, r))
}

func TestDeleteMovementAuditsAndRecomputes(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Continental", "UltraContact", "215/55R17", "3900"))
	_, err := f.mgr.RecordMovement(f.ctx, admin, at(purchase(r, 8), now.Add(-3*time.Hour)))
	require.NoError(t, err)
	mid, err := f.mgr.RecordMovement(f.ctx, admin, at(sale(r, 3), now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, admin, at(sale(r, 1), now.Add(-time.Hour)))
	require.NoError(t, err)

	require.NoError(t, f.mgr.DeleteMovement(f.ctx, admin, r.Family, mid.ID))
	assert.Equal(t, int64(7), assertLedger(t, f, r))

	_, err = f.mgr.GetMovement(f.ctx, admin, r.Family, mid.ID)
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	h, err := f.mgr.ProductHistory(f.ctx, admin, r, now, now)
	require.NoError(t, err)
	require.Len(t, h.Deletions, 1)
	assert.Equal(t, mid.ID, h.Deletions[0].MovementID)
	assert.Contains(t, string(h.Deletions[0].Snapshot), `"quantity_change":3`)
	assert.Equal(t, int64(7), h.Balance.Closing)
	assert.True(t, h.Balance.Balanced())
}

func TestDeleteRejectedWhenLaterSaleLosesCover(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Falken", "Ziex", "205/55R16", "2600"))
	in, err := f.mgr.RecordMovement(f.ctx, admin, at(purchase(r, 4), now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, admin, sale(r, 4))
	require.NoError(t, err)

	err = f.mgr.DeleteMovement(f.ctx, admin, r.Family, in.ID)
	var is *inventory.InsufficientStockError
	require.ErrorAs(t, err, &is)
	assert.Equal(t, int64(0), assertLedger(t, f, r))

	h, err := f.mgr.ProductHistory(f.ctx, admin, r, now, now)
	require.NoError(t, err)
	assert.Empty(t, h.Deletions)
}

func TestMovementChannelRules(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Hankook", "Kinergy", "185/55R16", "2100"))
	_, err := f.mgr.RecordMovement(f.ctx, admin, purchase(r, 10))
	require.NoError(t, err)
	platforms, err := f.mgr.ListMasters(f.ctx, admin, inventory.MasterPlatform)
	require.NoError(t, err)
	require.NotEmpty(t, platforms)

	cases := []struct {
		name  string
		in    inventory.MovementInput
		field string
	}{
		{"in through storefront", with(purchase(r, 1), func(in *inventory.MovementInput) { in.Channel = inventory.ChannelStorefront }), "channel"},
		{"return without customer type", with(giveBack(r, 1), func(in *inventory.MovementInput) { in.ReturnCustomerType = "" }), "return_customer_type"},
		{"out through return channel", with(sale(r, 1), func(in *inventory.MovementInput) { in.Channel = inventory.ChannelReturnIn }), "channel"},
		{"storefront sale naming a platform", with(sale(r, 1), func(in *inventory.MovementInput) { in.OnlinePlatformID = &platforms[0].ID }), "online_platform_id"},
		{"online sale naming unknown platform", with(sale(r, 1), func(in *inventory.MovementInput) {
			in.Channel = inventory.ChannelOnline
			in.OnlinePlatformID = ptr(int64(999))
		}), "online_platform_id"},
		{"zero quantity", with(purchase(r, 1), func(in *inventory.MovementInput) { in.Quantity = 0 }), "quantity"},
		{"unknown channel", with(sale(r, 1), func(in *inventory.MovementInput) { in.Channel = "ตลาดนัด" }), "channel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.mgr.RecordMovement(f.ctx, admin, tc.in)
			var ve *inventory.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Equal(t, int64(10), assertLedger(t, f, r))

	online := sale(r, 2)
	online.Channel = inventory.ChannelOnline
	online.OnlinePlatformID = &platforms[0].ID
	mv, err := f.mgr.RecordMovement(f.ctx, wholesale, online)
	require.NoError(t, err)
	assert.Equal(t, platforms[0].ID, *mv.OnlinePlatformID)
}

func TestStorefrontCommission(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Michelin", "Pilot Sport 4", "225/45R17", "5200"))
	_, err := f.mgr.RecordMovement(f.ctx, admin, purchase(r, 20))
	require.NoError(t, err)

	prog, err := f.mgr.AddCommissionProgram(f.ctx, admin, inventory.CommissionInput{
		Family:        r.Family,
		ProductID:     r.ID,
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, identity.Bangkok),
		AmountPerItem: d("50"),
	})
	require.NoError(t, err)

	mv, err := f.mgr.RecordMovement(f.ctx, retail, sale(r, 2))
	require.NoError(t, err)
	assert.True(t, mv.CommissionAmount.Equal(d("100")), mv.CommissionAmount.String())

	online := sale(r, 2)
	online.Channel = inventory.ChannelOnline
	mv, err = f.mgr.RecordMovement(f.ctx, retail, online)
	require.NoError(t, err)
	assert.True(t, mv.CommissionAmount.IsZero())

	early, err := f.mgr.RecordMovement(f.ctx, admin, at(sale(r, 1), time.Date(2024, 2, 29, 23, 30, 0, 0, identity.Bangkok)))
	require.Error(t, err, "stock on 29 Feb was zero")
	assert.Zero(t, early.ID)

	_, err = f.mgr.AddCommissionProgram(f.ctx, admin, inventory.CommissionInput{
		Family:        r.Family,
		ProductID:     r.ID,
		StartDate:     time.Date(2024, 4, 1, 0, 0, 0, 0, identity.Bangkok),
		AmountPerItem: d("30"),
	})
	assert.True(t, inventory.IsConflict(err, inventory.ConflictCommissionOverlap))

	require.NoError(t, f.mgr.DeleteCommissionProgram(f.ctx, admin, prog.ID))
	mv, err = f.mgr.RecordMovement(f.ctx, retail, sale(r, 1))
	require.NoError(t, err)
	assert.True(t, mv.CommissionAmount.IsZero())

	rows, err := f.mgr.ListMovements(f.ctx, admin, inventory.MovementQuery{Family: r.Family, ProductID: &r.ID, Channel: inventory.ChannelStorefront})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].CommissionAmount.Equal(d("100")), "past commission is kept")
}

func TestCommissionFor(t *testing.T) {
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, identity.Bangkok)
	programs := []inventory.CommissionProgram{{
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, identity.Bangkok),
		EndDate:       &end,
		AmountPerItem: d("25.50"),
	}}
	cases := []struct {
		name    string
		typ     inventory.MovementType
		channel string
		ts      time.Time
		want    string
	}{
		{"covered storefront sale", inventory.MovementOut, inventory.ChannelStorefront, time.Date(2024, 3, 10, 12, 0, 0, 0, identity.Bangkok), "76.5"},
		{"last day late evening", inventory.MovementOut, inventory.ChannelStorefront, time.Date(2024, 3, 31, 23, 59, 0, 0, identity.Bangkok), "76.5"},
		{"utc instant on next bangkok day", inventory.MovementOut, inventory.ChannelStorefront, time.Date(2024, 3, 31, 17, 30, 0, 0, time.UTC), "0"},
		{"wholesale sale", inventory.MovementOut, inventory.ChannelWholesale, time.Date(2024, 3, 10, 12, 0, 0, 0, identity.Bangkok), "0"},
		{"purchase", inventory.MovementIn, inventory.ChannelPurchaseIn, time.Date(2024, 3, 10, 12, 0, 0, 0, identity.Bangkok), "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := inventory.CommissionFor(programs, tc.typ, tc.channel, tc.ts, 3)
			assert.True(t, got.Equal(d(tc.want)), got.String())
		})
	}
}

func TestBulkMovementsAreAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := ref(f.tire(t, "Michelin", "Energy XM2", "185/60R15", "2400"))
	b := ref(f.tire(t, "Michelin", "Energy XM2", "195/65R15", "2600"))

	_, err := f.mgr.RecordBulkMovements(f.ctx, editor, []inventory.MovementInput{purchase(a, 4), sale(b, 1)})
	var be *inventory.BulkItemError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
	var is *inventory.InsufficientStockError
	assert.ErrorAs(t, err, &is)
	assert.Equal(t, int64(0), assertLedger(t, f, a))

	res, err := f.mgr.RecordBulkMovements(f.ctx, editor, []inventory.MovementInput{purchase(a, 4), purchase(b, 2), sale(a, 1)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
	require.Len(t, res.Movements, 3)
	assert.Equal(t, int64(3), res.Movements[2].RemainingQuantity)
	assert.Equal(t, int64(3), assertLedger(t, f, a))
	assert.Equal(t, int64(2), assertLedger(t, f, b))
}

func TestContentionIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Nitto", "NT555", "245/40R18", "4800"))

	f.store.InjectContention(1)
	_, err := f.mgr.RecordMovement(f.ctx, editor, purchase(r, 3))
	require.NoError(t, err)

	f.store.InjectContention(2)
	_, err = f.mgr.RecordMovement(f.ctx, editor, purchase(r, 3))
	assert.ErrorIs(t, err, inventory.ErrContention)
	assert.Equal(t, int64(3), assertLedger(t, f, r))
}

func TestListingIsInvalidatedAfterLedgerWrite(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Kumho", "Ecsta", "215/50R17", "2900"))
	filter := inventory.ProductFilter{Family: inventory.FamilyTire, Query: "kumho"}

	list, err := f.mgr.ListProducts(f.ctx, viewer, filter)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(0), list[0].Quantity)

	_, err = f.mgr.RecordMovement(f.ctx, editor, purchase(r, 10))
	require.NoError(t, err)

	list, err = f.mgr.ListProducts(f.ctx, viewer, filter)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(10), list[0].Quantity)
}

func TestLowStockNotifiesAdmins(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "BFGoodrich", "All-Terrain", "265/70R16", "6200"))
	_, err := f.mgr.RecordMovement(f.ctx, editor, purchase(r, 10))
	require.NoError(t, err)

	n, err := f.mgr.UnreadCount(f.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = f.mgr.RecordMovement(f.ctx, retail, sale(r, 7))
	require.NoError(t, err)
	n, err = f.mgr.UnreadCount(f.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	notes, err := f.mgr.ListNotifications(f.ctx, admin, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "เหลือ 3 ชิ้น")

	require.NoError(t, f.mgr.MarkNotificationsRead(f.ctx, admin))
	n, err = f.mgr.UnreadCount(f.ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPermissionDeniedWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.CreateProduct(f.ctx, retail, inventory.ProductInput{
		Family: inventory.FamilyTire,
		Tire:   &inventory.TireAttributes{Brand: "A", Model: "B", Size: "C"},
		Prices: inventory.PricePatch{RetailPrice: ptr(d("1"))},
	})
	var pd *identity.PermissionDeniedError
	require.ErrorAs(t, err, &pd)

	list, err := f.mgr.ListProducts(f.ctx, admin, inventory.ProductFilter{Family: inventory.FamilyTire})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.mgr.RecordMovement(f.ctx, viewer, purchase(inventory.ProductRef{Family: inventory.FamilyTire, ID: 1}, 1))
	assert.ErrorAs(t, err, &pd)
	err = f.mgr.DeleteMovement(f.ctx, editor, inventory.FamilyTire, 1)
	assert.ErrorAs(t, err, &pd)
}

func TestSetMovementImageReplacesBlob(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Deestone", "Carreras", "195/55R15", "1500"))
	mv, err := f.mgr.RecordMovement(f.ctx, admin, purchase(r, 2))
	require.NoError(t, err)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	first, err := f.mgr.SetMovementImage(f.ctx, admin, r.Family, mv.ID, png)
	require.NoError(t, err)
	require.NotNil(t, first.ImageURL)
	assert.True(t, f.blobs.Has(*first.ImageURL))

	second, err := f.mgr.SetMovementImage(f.ctx, admin, r.Family, mv.ID, png)
	require.NoError(t, err)
	assert.NotEqual(t, *first.ImageURL, *second.ImageURL)
	assert.False(t, f.blobs.Has(*first.ImageURL))
	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, int64(2), second.RemainingQuantity)

	_, err = f.mgr.SetMovementImage(f.ctx, admin, r.Family, mv.ID, []byte("plain text"))
	var ve *inventory.ValidationError
	assert.ErrorAs(t, err, &ve)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishActivity(ctx context.Context, e inventory.ActivityEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockPublisher) PublishLowStock(ctx context.Context, e inventory.LowStockEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func TestSideEffectFailuresDoNotUndoWrite(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishActivity", mock.Anything, mock.Anything).Return(errors.New("activity table gone"))
	pub.On("PublishLowStock", mock.Anything, mock.MatchedBy(func(e inventory.LowStockEvent) bool {
		return e.Quantity == 2 && e.Threshold == 4
	})).Return(errors.New("notification table gone")).Once()

	f := newFixture(t, inventory.WithPublisher(pub))
	r := ref(f.tire(t, "Lenso", "Eagle", "205/70R15", "2300"))
	_, err := f.mgr.RecordMovement(f.ctx, admin, purchase(r, 5))
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, admin, sale(r, 3))
	require.NoError(t, err)

	assert.Equal(t, int64(2), assertLedger(t, f, r))
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "PublishLowStock", 1)
}

func TestWholesaleSummary(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Otani", "KC2000", "215/70R15", "2000"))
	shopA, err := f.mgr.CreateMaster(f.ctx, editor, inventory.MasterCustomer, "ร้านยางเจริญ")
	require.NoError(t, err)
	shopB, err := f.mgr.CreateMaster(f.ctx, editor, inventory.MasterCustomer, "อู่ช่างเอก")
	require.NoError(t, err)
	_, err = f.mgr.RecordMovement(f.ctx, admin, purchase(r, 30))
	require.NoError(t, err)

	ws := func(customer int64, qty int64) inventory.MovementInput {
		in := sale(r, qty)
		in.Channel = inventory.ChannelWholesale
		in.WholesaleCustomerID = &customer
		return in
	}
	for _, in := range []inventory.MovementInput{ws(shopA.ID, 4), ws(shopB.ID, 10), ws(shopA.ID, 2)} {
		_, err = f.mgr.RecordMovement(f.ctx, wholesale, in)
		require.NoError(t, err)
	}
	ret := giveBack(r, 1)
	ret.ReturnCustomerType = inventory.ReturnCustomerWholesale
	ret.WholesaleCustomerID = &shopA.ID
	_, err = f.mgr.RecordMovement(f.ctx, wholesale, ret)
	require.NoError(t, err)

	summary, err := f.mgr.WholesaleSummary(f.ctx, wholesale)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, shopB.ID, summary[0].CustomerID)
	assert.Equal(t, int64(10), summary[0].OutQuantity)
	assert.Equal(t, int64(6), summary[1].OutQuantity)
	assert.Equal(t, int64(1), summary[1].ReturnQuantity)
	assert.Equal(t, 3, summary[1].MovementCount)

	err = f.mgr.DeleteMaster(f.ctx, editor, inventory.MasterCustomer, shopA.ID)
	assert.True(t, inventory.IsConflict(err, inventory.ConflictMasterInUse))
}

func TestStockAtAndPeriodAggregate(t *testing.T) {
	f := newFixture(t)
	r := ref(f.tire(t, "Yokohama", "BluEarth", "195/60R15", "2600"))

	day := func(n int, hour int) time.Time {
		return time.Date(2024, 3, n, hour, 0, 0, 0, identity.Bangkok)
	}
	for _, in := range []inventory.MovementInput{
		at(purchase(r, 5), day(1, 9)),
		at(purchase(r, 3), day(10, 9)),
		at(sale(r, 2), day(12, 15)),
		at(giveBack(r, 1), day(14, 11)),
	} {
		_, err := f.mgr.RecordMovement(f.ctx, admin, in)
		require.NoError(t, err)
	}

	qty, err := f.mgr.StockAt(f.ctx, editor, r, day(10, 9))
	require.NoError(t, err)
	assert.Equal(t, int64(5), qty, "a movement at exactly t is not yet counted")
	qty, err = f.mgr.StockAt(f.ctx, editor, r, day(12, 16))
	require.NoError(t, err)
	assert.Equal(t, int64(6), qty)

	agg, err := f.mgr.PeriodAggregate(f.ctx, admin, r, day(2, 0), day(14, 0))
	require.NoError(t, err)
	assert.Equal(t, inventory.Aggregate{Opening: 5, In: 3, Out: 2, Return: 1, Closing: 7}, agg)
	assert.True(t, agg.Balanced())

	_, err = f.mgr.PeriodAggregate(f.ctx, admin, r, day(14, 0), day(2, 0))
	var ve *inventory.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = f.mgr.StockAt(f.ctx, retail, r, now)
	var pd *identity.PermissionDeniedError
	assert.ErrorAs(t, err, &pd)

	_, err = f.mgr.StockAt(f.ctx, admin, inventory.ProductRef{Family: inventory.FamilyTire, ID: 999}, now)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.GetSetting(f.ctx, retail, inventory.SettingDefaultWheel)
	require.NoError(t, err)
	assert.Equal(t, "14", s.Value)

	_, err = f.mgr.SetSetting(f.ctx, editor, inventory.SettingDefaultWheel, "21")
	var pd *identity.PermissionDeniedError
	require.ErrorAs(t, err, &pd)

	_, err = f.mgr.SetSetting(f.ctx, admin, inventory.SettingDefaultWheel, "21")
	require.NoError(t, err)
	s, err = f.mgr.GetSetting(f.ctx, admin, inventory.SettingDefaultWheel)
	require.NoError(t, err)
	assert.Equal(t, "21", s.Value)

	require.NoError(t, f.mgr.Bootstrap(f.ctx))
	s, err = f.mgr.GetSetting(f.ctx, admin, inventory.SettingDefaultWheel)
	require.NoError(t, err)
	assert.Equal(t, "21", s.Value, "bootstrap keeps existing values")

	_, err = f.mgr.GetSetting(f.ctx, admin, "missing")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}
