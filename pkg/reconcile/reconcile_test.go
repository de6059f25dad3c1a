package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
	"github.com/nemonet1337/tireshop-ledger/pkg/reconcile"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

var (
	admin      = identity.Principal{UserID: 1, Username: "admin", Role: identity.RoleAdmin}
	accountant = identity.Principal{UserID: 6, Username: "wipa", Role: identity.RoleAccountant}
	editor     = identity.Principal{UserID: 2, Username: "somchai", Role: identity.RoleEditor}
)

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, identity.Bangkok)

type fixture struct {
	ctx   context.Context
	store *storage.MemoryStorage
	clock *identity.FixedClock
	mgr   *inventory.Manager
	svc   *reconcile.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: storage.NewMemoryStorage(),
		clock: identity.NewFixedClock(now),
	}
	f.mgr = inventory.NewManager(f.store, zap.NewNop(), nil,
		inventory.WithClock(f.clock),
		inventory.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, f.mgr.Bootstrap(f.ctx))
	reports := report.NewService(f.mgr, zap.NewNop(), prometheus.NewRegistry())
	f.svc = reconcile.NewService(f.mgr, reports, zap.NewNop())
	return f
}

func (f *fixture) stock(t *testing.T, qty int64) inventory.ProductRef {
	t.Helper()
	price := decimal.NewFromInt(2800)
	v, err := f.mgr.CreateProduct(f.ctx, admin, inventory.ProductInput{
		Family: inventory.FamilyTire,
		Tire:   &inventory.TireAttributes{Brand: "Maxxis", Model: "MA-P3", Size: "185/65R14"},
		Prices: inventory.PricePatch{RetailPrice: &price},
	})
	require.NoError(t, err)
	r := inventory.ProductRef{Family: v.Family, ID: v.ID}
	_, err = f.mgr.RecordMovement(f.ctx, admin, inventory.MovementInput{
		Family: r.Family, ProductID: r.ID, Type: inventory.MovementIn, Quantity: qty,
		Channel: inventory.ChannelPurchaseIn,
	})
	require.NoError(t, err)
	return r
}

func TestReconciliationLifecycle(t *testing.T) {
	f := newFixture(t)
	f.stock(t, 4)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, identity.Bangkok)

	rec, err := f.svc.Open(f.ctx, accountant, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, inventory.ReconciliationPending, rec.Status)
	assert.True(t, rec.Date.Equal(day))
	assert.JSONEq(t, `{}`, string(rec.ManagerLedgerJSON))
	require.NotNil(t, rec.ManagerID)
	assert.Equal(t, accountant.UserID, *rec.ManagerID)

	again, err := f.svc.Open(f.ctx, admin, day)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID, "opening twice returns the same row")

	saved, err := f.svc.SaveLedger(f.ctx, accountant, rec.ID, json.RawMessage(`{"cash":1000}`))
	require.NoError(t, err)
	assert.Equal(t, inventory.ReconciliationPending, saved.Status)
	assert.JSONEq(t, `{"cash":1000}`, string(saved.ManagerLedgerJSON))

	f.clock.Advance(2 * time.Hour)
	done, err := f.svc.Complete(f.ctx, accountant, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReconciliationCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(now.Add(2*time.Hour)))

	var snap report.Report
	require.NoError(t, json.Unmarshal(done.SystemSnapshotJSON, &snap))
	assert.Equal(t, report.KindPeriod, snap.Kind)
	assert.Equal(t, int64(4), snap.GrandTotal.Closing)
	assert.NotEmpty(t, snap.Channels)

	_, err = f.svc.SaveLedger(f.ctx, accountant, rec.ID, json.RawMessage(`{"cash":2000}`))
	assert.True(t, inventory.IsConflict(err, inventory.ConflictReconciliationDone), err)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Complete(f.ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, second.CompletedAt.Equal(*done.CompletedAt), "completion happens once")
	assert.JSONEq(t, `{"cash":1000}`, string(second.ManagerLedgerJSON))

	activity, err := f.mgr.ListActivity(f.ctx, admin, day, day, 0)
	require.NoError(t, err)
	actions := map[string]bool{}
	for _, a := range activity {
		actions[a.Action] = true
	}
	assert.True(t, actions["open_reconciliation"])
	assert.True(t, actions["complete_reconciliation"])
}

func TestSaveLedgerRejectsNonObjects(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Open(f.ctx, admin, now)
	require.NoError(t, err)

	for _, body := range []string{"", "not json", "[1,2]", "null", `"cash"`} {
		_, err := f.svc.SaveLedger(f.ctx, admin, rec.ID, json.RawMessage(body))
		var ve *inventory.ValidationError
		assert.ErrorAs(t, err, &ve, "body %q", body)
	}
}

func TestReconciliationRequiresRole(t *testing.T) {
	f := newFixture(t)
	var pd *identity.PermissionDeniedError

	_, err := f.svc.Open(f.ctx, editor, now)
	require.ErrorAs(t, err, &pd)

	rows, err := f.svc.List(f.ctx, admin, now, now)
	require.NoError(t, err)
	assert.Empty(t, rows, "a denied open writes nothing")
}

func TestReconciliationUnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(f.ctx, admin, 99)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = f.svc.Get(f.ctx, admin, 99)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestListReconciliationsByRange(t *testing.T) {
	f := newFixture(t)
	for _, day := range []int{14, 15, 17} {
		_, err := f.svc.Open(f.ctx, admin, time.Date(2024, 3, day, 9, 0, 0, 0, identity.Bangkok))
		require.NoError(t, err)
	}

	rows, err := f.svc.List(f.ctx, accountant,
		time.Date(2024, 3, 15, 0, 0, 0, 0, identity.Bangkok),
		time.Date(2024, 3, 17, 0, 0, 0, 0, identity.Bangkok))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-03-15", identity.FormatDate(rows[0].Date))
	assert.Equal(t, "2024-03-17", identity.FormatDate(rows[1].Date))
}

type mockSnapshotter struct{ mock.Mock }

func (m *mockSnapshotter) Snapshot(ctx context.Context, p identity.Principal, date time.Time) (*report.Report, error) {
	args := m.Called(ctx, p, date)
	r, _ := args.Get(0).(*report.Report)
	return r, args.Error(1)
}

func TestCompleteLeavesPendingWhenSnapshotFails(t *testing.T) {
	f := newFixture(t)
	snap := &mockSnapshotter{}
	svc := reconcile.NewService(f.mgr, snap, zap.NewNop())
	boom := errors.New("report unavailable")
	snap.On("Snapshot", mock.Anything, admin, identity.DateOf(now)).Return(nil, boom).Once()

	rec, err := svc.Open(f.ctx, admin, now)
	require.NoError(t, err)
	_, err = svc.Complete(f.ctx, admin, rec.ID)
	require.ErrorIs(t, err, boom)

	got, err := svc.Get(f.ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReconciliationPending, got.Status)
	assert.Nil(t, got.CompletedAt)
	snap.AssertExpectations(t)
}
