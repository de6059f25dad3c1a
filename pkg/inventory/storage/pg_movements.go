package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

const movementColumns = `id, product_id, "timestamp", type, quantity_change, remaining_quantity,
	notes, image_url, user_id, channel_id, online_platform_id, wholesale_customer_id,
	return_customer_type, commission_amount`

// signedChange is the ledger sign convention in SQL.
const signedChange = "CASE WHEN type = 'OUT' THEN -quantity_change ELSE quantity_change END"

func (q *pgQueries) selectMovements(ctx context.Context, family inventory.Family, query string, args ...any) ([]inventory.Movement, error) {
	var out []inventory.Movement
	if err := sqlx.SelectContext(ctx, q.ext, &out, query, args...); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Family = family
	}
	return out, nil
}

func (q *pgQueries) InsertMovement(ctx context.Context, m *inventory.Movement) error {
	t, err := tablesOf(m.Family)
	if err != nil {
		return err
	}
	id, err := q.insertReturningID(ctx, fmt.Sprintf(`
		INSERT INTO %s (product_id, "timestamp", type, quantity_change, remaining_quantity,
			notes, image_url, user_id, channel_id, online_platform_id, wholesale_customer_id,
			return_customer_type, commission_amount)
		VALUES (:product_id, :timestamp, :type, :quantity_change, :remaining_quantity,
			:notes, :image_url, :user_id, :channel_id, :online_platform_id, :wholesale_customer_id,
			:return_customer_type, :commission_amount)
		RETURNING id`, t.movements), m)
	if err != nil {
		if code, constraint, ok := pqCode(err); ok && code == pgForeignKeyViolation && strings.HasSuffix(constraint, "_product_id_fkey") {
			return inventory.NewNotFoundError(string(m.Family), m.ProductID)
		}
		return wrapErr("insert_movement", err)
	}
	m.ID = id
	return nil
}

func (q *pgQueries) GetMovement(ctx context.Context, family inventory.Family, id int64) (inventory.Movement, error) {
	t, err := tablesOf(family)
	if err != nil {
		return inventory.Movement{}, err
	}
	rows, err := q.selectMovements(ctx, family,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", movementColumns, t.movements), id)
	if err != nil {
		return inventory.Movement{}, wrapErr("get_movement", err)
	}
	if len(rows) == 0 {
		return inventory.Movement{}, inventory.NewNotFoundError("movement", id)
	}
	return rows[0], nil
}

func (q *pgQueries) UpdateMovement(ctx context.Context, m *inventory.Movement) error {
	t, err := tablesOf(m.Family)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, fmt.Sprintf(`
		UPDATE %s SET product_id = :product_id, "timestamp" = :timestamp, type = :type,
			quantity_change = :quantity_change, remaining_quantity = :remaining_quantity,
			notes = :notes, image_url = :image_url, user_id = :user_id, channel_id = :channel_id,
			online_platform_id = :online_platform_id, wholesale_customer_id = :wholesale_customer_id,
			return_customer_type = :return_customer_type, commission_amount = :commission_amount
		WHERE id = :id`, t.movements), m)
	if err != nil {
		return wrapErr("update_movement", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("update_movement", err)
	} else if n == 0 {
		return inventory.NewNotFoundError("movement", m.ID)
	}
	return nil
}

func (q *pgQueries) DeleteMovement(ctx context.Context, family inventory.Family, id int64) error {
	t, err := tablesOf(family)
	if err != nil {
		return err
	}
	return q.execOne(ctx, "delete_movement", "movement", id,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", t.movements), id)
}

// ledgerBefore matches rows strictly before ($2, $3) in (timestamp, id) order.
const ledgerBefore = `("timestamp" < $2 OR ("timestamp" = $2 AND id < $3))`

func (q *pgQueries) SumSignedBefore(ctx context.Context, ref inventory.ProductRef, ts time.Time, id int64) (int64, error) {
	t, err := tablesOf(ref.Family)
	if err != nil {
		return 0, err
	}
	var sum int64
	query := fmt.Sprintf("SELECT COALESCE(SUM(%s), 0) FROM %s WHERE product_id = $1 AND %s",
		signedChange, t.movements, ledgerBefore)
	if err := sqlx.GetContext(ctx, q.ext, &sum, query, ref.ID, ts, id); err != nil {
		return 0, wrapErr("sum_before", err)
	}
	return sum, nil
}

func (q *pgQueries) ListMovementsFrom(ctx context.Context, ref inventory.ProductRef, ts time.Time, id int64) ([]inventory.Movement, error) {
	t, err := tablesOf(ref.Family)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE product_id = $1 AND NOT %s ORDER BY "timestamp", id`,
		movementColumns, t.movements, ledgerBefore)
	out, err := q.selectMovements(ctx, ref.Family, query, ref.ID, ts, id)
	if err != nil {
		return nil, wrapErr("list_movements_from", err)
	}
	return out, nil
}

// UpdateRemainingBatch rewrites every running balance in a single statement.
func (q *pgQueries) UpdateRemainingBatch(ctx context.Context, family inventory.Family, ids, remaining []int64) error {
	if len(ids) != len(remaining) {
		return inventory.NewValidationError("remaining", "ids and balances differ in length", fmt.Sprint(len(ids), "/", len(remaining)))
	}
	if len(ids) == 0 {
		return nil
	}
	t, err := tablesOf(family)
	if err != nil {
		return err
	}
	res, err := q.ext.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s AS m SET remaining_quantity = v.remaining
		FROM UNNEST($1::bigint[], $2::bigint[]) AS v(id, remaining)
		WHERE m.id = v.id`, t.movements), pq.Array(ids), pq.Array(remaining))
	if err != nil {
		return wrapErr("update_remaining", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update_remaining", err)
	}
	if n != int64(len(ids)) {
		return inventory.NewNotFoundError("movement", fmt.Sprintf("%d of %d rows", int64(len(ids))-n, len(ids)))
	}
	return nil
}

// movementFilterSQL renders the WHERE clause of a ledger listing.
func movementFilterSQL(f inventory.MovementFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.ProductID != nil {
		add("product_id = ?", *f.ProductID)
	}
	if f.From != nil {
		add(`"timestamp" >= ?`, *f.From)
	}
	if f.To != nil {
		add(`"timestamp" < ?`, *f.To)
	}
	if f.ChannelID != nil {
		add("channel_id = ?", *f.ChannelID)
	}
	if f.OnlinePlatformID != nil {
		add("online_platform_id = ?", *f.OnlinePlatformID)
	}
	if f.WholesaleCustomerID != nil {
		add("wholesale_customer_id = ?", *f.WholesaleCustomerID)
	}
	if f.Type != nil {
		add("type = ?", string(*f.Type))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (q *pgQueries) ListMovements(ctx context.Context, f inventory.MovementFilter) ([]inventory.Movement, error) {
	t, err := tablesOf(f.Family)
	if err != nil {
		return nil, err
	}
	where, args := movementFilterSQL(f)
	query := q.ext.Rebind(fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY "timestamp", id`, movementColumns, t.movements, where))
	out, err := q.selectMovements(ctx, f.Family, query, args...)
	if err != nil {
		return nil, wrapErr("list_movements", err)
	}
	return out, nil
}

func (q *pgQueries) SumSignedByProductBefore(ctx context.Context, family inventory.Family, ts time.Time) (map[int64]int64, error) {
	t, err := tablesOf(family)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProductID int64 `db:"product_id"`
		Sum       int64 `db:"sum"`
	}
	query := fmt.Sprintf(`SELECT product_id, SUM(%s) AS sum FROM %s WHERE "timestamp" < $1 GROUP BY product_id`,
		signedChange, t.movements)
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, ts); err != nil {
		return nil, wrapErr("sum_by_product", err)
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Sum
	}
	return out, nil
}

var masterColumn = map[inventory.MasterKind]string{
	inventory.MasterChannel:  "channel_id",
	inventory.MasterPlatform: "online_platform_id",
	inventory.MasterCustomer: "wholesale_customer_id",
}

func (q *pgQueries) CountMovementsReferencing(ctx context.Context, kind inventory.MasterKind, id int64) (int64, error) {
	col, ok := masterColumn[kind]
	if !ok {
		return 0, inventory.NewValidationError("kind", "unknown master table", string(kind))
	}
	parts := make([]string, 0, len(inventory.Families))
	for _, f := range inventory.Families {
		parts = append(parts, fmt.Sprintf("(SELECT COUNT(*) FROM %s WHERE %s = $1)", tables[f].movements, col))
	}
	var n int64
	if err := sqlx.GetContext(ctx, q.ext, &n, "SELECT "+strings.Join(parts, " + "), id); err != nil {
		return 0, wrapErr("count_references", err)
	}
	return n, nil
}

func (q *pgQueries) InsertMovementDeletion(ctx context.Context, d *inventory.MovementDeletion) error {
	var id int64
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO movement_deletions (family, movement_id, product_id, deleted_by, deleted_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(d.Family), d.MovementID, d.ProductID, d.DeletedBy, d.DeletedAt, jsonParam(d.Snapshot),
	).Scan(&id)
	if err != nil {
		return wrapErr("insert_movement_deletion", err)
	}
	d.ID = id
	return nil
}

func (q *pgQueries) ListMovementDeletions(ctx context.Context, ref inventory.ProductRef, from, to time.Time) ([]inventory.MovementDeletion, error) {
	var out []inventory.MovementDeletion
	err := sqlx.SelectContext(ctx, q.ext, &out, `
		SELECT id, family, movement_id, product_id, deleted_by, deleted_at, snapshot
		FROM movement_deletions
		WHERE family = $1 AND product_id = $2 AND deleted_at >= $3 AND deleted_at < $4
		ORDER BY id`, string(ref.Family), ref.ID, from, to)
	if err != nil {
		return nil, wrapErr("list_movement_deletions", err)
	}
	return out, nil
}
