package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

var testDay = time.Date(2024, 3, 15, 0, 0, 0, 0, identity.Bangkok)

func tire(brand, model, size string) *inventory.Tire {
	t := &inventory.Tire{TireAttributes: inventory.TireAttributes{Brand: brand, Model: model, Size: size}}
	t.RetailPrice = decimal.NewFromInt(3000)
	return t
}

func TestMemoryInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(q inventory.Queries) error {
		require.NoError(t, q.InsertProduct(ctx, tire("Michelin", "Primacy 4", "205/55R16")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.ListProducts(ctx, inventory.ProductFilter{Family: inventory.FamilyTire})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryNaturalKeyIgnoresDeletedRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	first := tire("Michelin", "Primacy 4", "205/55R16")
	require.NoError(t, s.InsertProduct(ctx, first))

	err := s.InsertProduct(ctx, tire(" michelin", "PRIMACY  4", "205/55r16"))
	require.True(t, inventory.IsConflict(err, inventory.ConflictDuplicateNaturalKey), err)
	var c *inventory.ConflictError
	require.ErrorAs(t, err, &c)
	assert.Equal(t, inventory.ProductRef{Family: inventory.FamilyTire, ID: first.ID}, c.Existing)

	first.IsDeleted = true
	require.NoError(t, s.UpdateProduct(ctx, first))
	assert.NoError(t, s.InsertProduct(ctx, tire("Michelin", "Primacy 4", "205/55R16")))
}

func TestMemoryInjectContention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	p := tire("Bridgestone", "Turanza", "195/65R15")
	require.NoError(t, s.InsertProduct(ctx, p))

	s.InjectContention(1)
	err := s.InTx(ctx, func(q inventory.Queries) error {
		_, err := q.LockProduct(ctx, inventory.Ref(p))
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrContention)

	err = s.InTx(ctx, func(q inventory.Queries) error {
		_, err := q.LockProduct(ctx, inventory.Ref(p))
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryLedgerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	p := tire("Yokohama", "BluEarth", "185/60R15")
	require.NoError(t, s.InsertProduct(ctx, p))

	at := testDay.Add(9 * time.Hour)
	for _, mv := range []inventory.Movement{
		{Type: inventory.MovementIn, QuantityChange: 10, Timestamp: at},
		{Type: inventory.MovementOut, QuantityChange: 4, Timestamp: at},
		{Type: inventory.MovementIn, QuantityChange: 2, Timestamp: at.Add(-time.Hour)},
	} {
		mv.Family = inventory.FamilyTire
		mv.ProductID = p.ID
		require.NoError(t, s.InsertMovement(ctx, &mv))
	}

	sum, err := s.SumSignedBefore(ctx, inventory.Ref(p), at, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(12), sum)

	rows, err := s.ListMovementsFrom(ctx, inventory.Ref(p), at, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)

	byProduct, err := s.SumSignedByProductBefore(ctx, inventory.FamilyTire, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{p.ID: 8}, byProduct)
}

func TestMemoryReadTxSeesOneSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	p := tire("Goodyear", "Assurance", "205/65R15")
	require.NoError(t, s.InsertProduct(ctx, p))
	at := testDay.Add(9 * time.Hour)
	first := inventory.Movement{Family: inventory.FamilyTire, ProductID: p.ID, Type: inventory.MovementIn, QuantityChange: 5, Timestamp: at}
	require.NoError(t, s.InsertMovement(ctx, &first))

	end := testDay.Add(24 * time.Hour)
	err := s.InReadTx(ctx, func(q inventory.Queries) error {
		closings, err := q.SumSignedByProductBefore(ctx, inventory.FamilyTire, end)
		require.NoError(t, err)

		// a sale committed between two statements of the read
		sale := inventory.Movement{Family: inventory.FamilyTire, ProductID: p.ID, Type: inventory.MovementOut, QuantityChange: 2, Timestamp: at.Add(time.Hour)}
		require.NoError(t, s.InsertMovement(ctx, &sale))

		rows, err := q.ListMovements(ctx, inventory.MovementFilter{Family: inventory.FamilyTire, From: &testDay, To: &end})
		require.NoError(t, err)
		var sum int64
		for _, mv := range rows {
			sum += mv.Signed()
		}
		assert.Len(t, rows, 1)
		assert.Equal(t, closings[p.ID], sum)

		return q.SetProductQuantity(ctx, inventory.Ref(p), 99)
	})
	require.NoError(t, err)

	rows, err := s.ListMovements(ctx, inventory.MovementFilter{Family: inventory.FamilyTire})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "the concurrent write is visible once the read ends")
	got, err := s.GetProduct(ctx, inventory.Ref(p))
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), got.Base().Quantity, "writes inside a read transaction are discarded")
}

func TestWrapErrMapsSQLState(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"nowait", &pq.Error{Code: pgLockNotAvailable}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, inventory.ErrContention)
		}},
		{"deadlock", &pq.Error{Code: pgDeadlockDetected}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, inventory.ErrContention)
		}},
		{"natural key", &pq.Error{Code: pgUniqueViolation, Constraint: "wheels_natural_key"}, func(t *testing.T, err error) {
			assert.True(t, inventory.IsConflict(err, inventory.ConflictDuplicateNaturalKey))
		}},
		{"barcode", &pq.Error{Code: pgUniqueViolation, Constraint: "barcodes_pkey"}, func(t *testing.T, err error) {
			assert.True(t, inventory.IsConflict(err, inventory.ConflictBarcodeCollision))
		}},
		{"promotion", &pq.Error{Code: pgUniqueViolation, Constraint: "promotions_name_key"}, func(t *testing.T, err error) {
			assert.True(t, inventory.IsConflict(err, inventory.ConflictPromotionNameTaken))
		}},
		{"master name", &pq.Error{Code: pgUniqueViolation, Constraint: "online_platforms_name_key"}, func(t *testing.T, err error) {
			assert.True(t, inventory.IsConflict(err, inventory.ConflictNameTaken))
		}},
		{"referenced", &pq.Error{Code: pgForeignKeyViolation}, func(t *testing.T, err error) {
			assert.True(t, inventory.IsConflict(err, inventory.ConflictMasterInUse))
		}},
		{"other", errors.New("connection reset"), func(t *testing.T, err error) {
			var se *inventory.StorageError
			assert.ErrorAs(t, err, &se)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, wrapErr("op", tc.err))
		})
	}
	assert.NoError(t, wrapErr("op", nil))
}

func TestProductValuesAlignWithColumns(t *testing.T) {
	products := []inventory.Product{
		&inventory.Tire{},
		&inventory.Wheel{},
		&inventory.SparePart{},
	}
	for _, p := range products {
		cols := tables[p.Family()].columns
		assert.Len(t, productValues(p), len(baseColumns)+len(cols), p.Family())
	}
}

func TestProductFilterSQL(t *testing.T) {
	cat := int64(3)
	where, args := productFilterSQL(tables[inventory.FamilySparePart], inventory.ProductFilter{
		Family:     inventory.FamilySparePart,
		Query:      " oil ",
		Brand:      "Castrol",
		CategoryID: &cat,
	})
	assert.True(t, strings.HasPrefix(where, "WHERE NOT is_deleted AND "))
	assert.Contains(t, where, "category_id = ?")
	assert.Equal(t, 3, strings.Count(where, "STRPOS"))
	assert.Equal(t, []any{"Castrol", int64(3), "oil", "oil", "oil"}, args)

	where, args = productFilterSQL(tables[inventory.FamilyTire], inventory.ProductFilter{IncludeDeleted: true})
	assert.Equal(t, ` ORDER BY natural_key COLLATE "C", id`, where)
	assert.Empty(t, args)
}

func TestMovementFilterSQL(t *testing.T) {
	from, to := identity.DayBounds(testDay)
	out := inventory.MovementOut
	where, args := movementFilterSQL(inventory.MovementFilter{
		Family: inventory.FamilyWheel,
		From:   &from,
		To:     &to,
		Type:   &out,
	})
	assert.Equal(t, `WHERE "timestamp" >= ? AND "timestamp" < ? AND type = ?`, where)
	assert.Equal(t, []any{from, to, "OUT"}, args)

	where, args = movementFilterSQL(inventory.MovementFilter{Family: inventory.FamilyWheel})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "0001_schema.sql", ms[0].Filename)
	assert.Len(t, ms[0].Checksum, 64)
	for _, table := range []string{"tire_movements", "barcodes", "daily_reconciliations", "commission_programs"} {
		assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS "+table)
	}

	assert.Equal(t, "0002_board.sql", ms[1].Filename)
	assert.NotEqual(t, ms[0].Checksum, ms[1].Checksum)
	assert.Contains(t, ms[1].SQL, "CREATE TABLE IF NOT EXISTS announcements")
	assert.Contains(t, ms[1].SQL, "CREATE TABLE IF NOT EXISTS feedback")
	assert.Contains(t, ms[1].SQL, "ON promotions (is_active, is_deleted)")
}

func TestMemoryBoard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	draft := inventory.Announcement{Title: "draft", Body: "hidden", CreatedAt: testDay, UpdatedAt: testDay}
	live := inventory.Announcement{Title: "closed sunday", Body: "shop closed", IsActive: true, CreatedAt: testDay, UpdatedAt: testDay}
	require.NoError(t, s.InsertAnnouncement(ctx, &draft))
	require.NoError(t, s.InsertAnnouncement(ctx, &live))

	active, err := s.ListAnnouncements(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	all, err := s.ListAnnouncements(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, live.ID, all[0].ID, "newest first")

	require.NoError(t, s.DeleteAnnouncement(ctx, draft.ID))
	assert.ErrorIs(t, s.DeleteAnnouncement(ctx, draft.ID), inventory.ErrNotFound)
	_, err = s.GetAnnouncement(ctx, draft.ID)
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	for i := 0; i < 3; i++ {
		f := inventory.Feedback{Username: "somchai", Message: "scanner is slow", Status: inventory.FeedbackOpen, CreatedAt: testDay}
		require.NoError(t, s.InsertFeedback(ctx, &f))
	}
	f, err := s.GetFeedback(ctx, 2)
	require.NoError(t, err)
	f.Status = inventory.FeedbackResolved
	f.ResolvedAt = &testDay
	require.NoError(t, s.UpdateFeedback(ctx, &f))

	open := inventory.FeedbackOpen
	rows, err := s.ListFeedback(ctx, &open, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []int64{3, 1}, []int64{rows[0].ID, rows[1].ID})

	rows, err = s.ListFeedback(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)

	assert.ErrorIs(t, s.UpdateFeedback(ctx, &inventory.Feedback{ID: 42}), inventory.ErrNotFound)
}

func TestDateHelpers(t *testing.T) {
	utc := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, bangkokDate(utc).Equal(testDay))
	assert.Equal(t, "2024-03-15", dateParam(testDay))
	assert.Nil(t, jsonParam(nil))
	assert.Equal(t, `{"a":1}`, jsonParam([]byte(`{"a":1}`)))
}
