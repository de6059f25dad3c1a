package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// ---- name masters ----

func masterTable(kind inventory.MasterKind) (string, error) {
	if _, ok := masterColumn[kind]; !ok {
		return "", inventory.NewValidationError("kind", "unknown master table", string(kind))
	}
	return string(kind), nil
}

func (q *pgQueries) ListMasters(ctx context.Context, kind inventory.MasterKind) ([]inventory.Master, error) {
	table, err := masterTable(kind)
	if err != nil {
		return nil, err
	}
	out := []inventory.Master{}
	query := fmt.Sprintf(`SELECT id, name, created_at FROM %s ORDER BY name COLLATE "C"`, table)
	if err := sqlx.SelectContext(ctx, q.ext, &out, query); err != nil {
		return nil, wrapErr("list_masters", err)
	}
	return out, nil
}

func (q *pgQueries) GetMaster(ctx context.Context, kind inventory.MasterKind, id int64) (inventory.Master, error) {
	var m inventory.Master
	table, err := masterTable(kind)
	if err != nil {
		return m, err
	}
	err = sqlx.GetContext(ctx, q.ext, &m, fmt.Sprintf("SELECT id, name, created_at FROM %s WHERE id = $1", table), id)
	if isNoRows(err) {
		return m, inventory.NewNotFoundError(string(kind), id)
	}
	return m, wrapErr("get_master", err)
}

// masterNameHolder returns the row other than except whose name equals name
// case-insensitively.
func (q *pgQueries) masterNameHolder(ctx context.Context, table, name string, except int64) (*inventory.Master, error) {
	var rows []inventory.Master
	query := fmt.Sprintf("SELECT id, name, created_at FROM %s WHERE LOWER(name) = LOWER($1) AND id <> $2 LIMIT 1", table)
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, name, except); err != nil {
		return nil, wrapErr("check_name", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (q *pgQueries) InsertMaster(ctx context.Context, kind inventory.MasterKind, m *inventory.Master) error {
	table, err := masterTable(kind)
	if err != nil {
		return err
	}
	existing, err := q.masterNameHolder(ctx, table, m.Name, 0)
	if err != nil {
		return err
	}
	if existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "name "+m.Name+" is taken", *existing)
	}
	id, err := q.insertReturningID(ctx,
		fmt.Sprintf("INSERT INTO %s (name, created_at) VALUES (:name, :created_at) RETURNING id", table), m)
	if err != nil {
		return wrapErr("insert_master", err)
	}
	m.ID = id
	return nil
}

func (q *pgQueries) RenameMaster(ctx context.Context, kind inventory.MasterKind, id int64, name string) error {
	table, err := masterTable(kind)
	if err != nil {
		return err
	}
	existing, err := q.masterNameHolder(ctx, table, name, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "name "+name+" is taken", *existing)
	}
	return q.execOne(ctx, "rename_master", string(kind), id,
		fmt.Sprintf("UPDATE %s SET name = $1 WHERE id = $2", table), name, id)
}

func (q *pgQueries) DeleteMaster(ctx context.Context, kind inventory.MasterKind, id int64) error {
	table, err := masterTable(kind)
	if err != nil {
		return err
	}
	return q.execOne(ctx, "delete_master", string(kind), id,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
}

// ---- categories ----

const categoryColumns = "id, name, parent_id, created_at"

func (q *pgQueries) ListCategories(ctx context.Context) ([]inventory.Category, error) {
	out := []inventory.Category{}
	if err := sqlx.SelectContext(ctx, q.ext, &out,
		"SELECT "+categoryColumns+` FROM categories ORDER BY name COLLATE "C"`); err != nil {
		return nil, wrapErr("list_categories", err)
	}
	return out, nil
}

func (q *pgQueries) GetCategory(ctx context.Context, id int64) (inventory.Category, error) {
	var c inventory.Category
	err := sqlx.GetContext(ctx, q.ext, &c, "SELECT "+categoryColumns+" FROM categories WHERE id = $1", id)
	if isNoRows(err) {
		return c, inventory.NewNotFoundError("category", id)
	}
	return c, wrapErr("get_category", err)
}

func (q *pgQueries) checkCategoryName(ctx context.Context, c *inventory.Category) error {
	var rows []inventory.Category
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		"SELECT "+categoryColumns+" FROM categories WHERE LOWER(name) = LOWER($1) AND id <> $2 LIMIT 1", c.Name, c.ID)
	if err != nil {
		return wrapErr("check_category_name", err)
	}
	if len(rows) > 0 {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "category "+c.Name+" exists", rows[0])
	}
	return nil
}

func (q *pgQueries) InsertCategory(ctx context.Context, c *inventory.Category) error {
	if err := q.checkCategoryName(ctx, c); err != nil {
		return err
	}
	id, err := q.insertReturningID(ctx, `
		INSERT INTO categories (name, parent_id, created_at)
		VALUES (:name, :parent_id, :created_at) RETURNING id`, c)
	if err != nil {
		return wrapErr("insert_category", err)
	}
	c.ID = id
	return nil
}

func (q *pgQueries) UpdateCategory(ctx context.Context, c *inventory.Category) error {
	if err := q.checkCategoryName(ctx, c); err != nil {
		return err
	}
	return q.execOne(ctx, "update_category", "category", c.ID,
		"UPDATE categories SET name = $1, parent_id = $2 WHERE id = $3", c.Name, c.ParentID, c.ID)
}

func (q *pgQueries) DeleteCategory(ctx context.Context, id int64) error {
	return q.execOne(ctx, "delete_category", "category", id, "DELETE FROM categories WHERE id = $1", id)
}

// ---- promotions ----

const promotionColumns = "id, name, type, value1, value2, is_active, is_deleted, created_at, updated_at"

func (q *pgQueries) ListPromotions(ctx context.Context, includeInactive bool) ([]inventory.Promotion, error) {
	out := []inventory.Promotion{}
	err := sqlx.SelectContext(ctx, q.ext, &out, "SELECT "+promotionColumns+` FROM promotions
		WHERE NOT is_deleted AND (is_active OR $1)
		ORDER BY name COLLATE "C"`, includeInactive)
	if err != nil {
		return nil, wrapErr("list_promotions", err)
	}
	return out, nil
}

func (q *pgQueries) GetPromotion(ctx context.Context, id int64) (inventory.Promotion, error) {
	var p inventory.Promotion
	err := sqlx.GetContext(ctx, q.ext, &p, "SELECT "+promotionColumns+" FROM promotions WHERE id = $1", id)
	if isNoRows(err) {
		return p, inventory.NewNotFoundError("promotion", id)
	}
	return p, wrapErr("get_promotion", err)
}

func (q *pgQueries) checkPromotionName(ctx context.Context, p *inventory.Promotion) error {
	if p.IsDeleted {
		return nil
	}
	var rows []inventory.Promotion
	err := sqlx.SelectContext(ctx, q.ext, &rows, "SELECT "+promotionColumns+` FROM promotions
		WHERE NOT is_deleted AND LOWER(name) = LOWER($1) AND id <> $2 LIMIT 1`, p.Name, p.ID)
	if err != nil {
		return wrapErr("check_promotion_name", err)
	}
	if len(rows) > 0 {
		return inventory.NewConflictError(inventory.ConflictPromotionNameTaken, "promotion "+p.Name+" exists", rows[0])
	}
	return nil
}

func (q *pgQueries) InsertPromotion(ctx context.Context, p *inventory.Promotion) error {
	if err := q.checkPromotionName(ctx, p); err != nil {
		return err
	}
	id, err := q.insertReturningID(ctx, `
		INSERT INTO promotions (name, type, value1, value2, is_active, is_deleted, created_at, updated_at)
		VALUES (:name, :type, :value1, :value2, :is_active, :is_deleted, :created_at, :updated_at)
		RETURNING id`, p)
	if err != nil {
		return wrapErr("insert_promotion", err)
	}
	p.ID = id
	return nil
}

func (q *pgQueries) UpdatePromotion(ctx context.Context, p *inventory.Promotion) error {
	if err := q.checkPromotionName(ctx, p); err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE promotions SET name = :name, type = :type, value1 = :value1, value2 = :value2,
			is_active = :is_active, is_deleted = :is_deleted, updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return wrapErr("update_promotion", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("update_promotion", err)
	} else if n == 0 {
		return inventory.NewNotFoundError("promotion", p.ID)
	}
	return nil
}

// ---- commission programs ----

const commissionColumns = "id, item_type, item_id, start_date, end_date, amount_per_item, created_at"

func normalizeProgram(c *inventory.CommissionProgram) {
	c.StartDate = bangkokDate(c.StartDate)
	if c.EndDate != nil {
		end := bangkokDate(*c.EndDate)
		c.EndDate = &end
	}
}

func (q *pgQueries) ListCommissionPrograms(ctx context.Context, ref *inventory.ProductRef) ([]inventory.CommissionProgram, error) {
	var (
		out []inventory.CommissionProgram
		err error
	)
	if ref == nil {
		err = sqlx.SelectContext(ctx, q.ext, &out,
			"SELECT "+commissionColumns+" FROM commission_programs ORDER BY start_date, id")
	} else {
		err = sqlx.SelectContext(ctx, q.ext, &out,
			"SELECT "+commissionColumns+` FROM commission_programs
			WHERE item_type = $1 AND item_id = $2 ORDER BY start_date, id`, string(ref.Family), ref.ID)
	}
	if err != nil {
		return nil, wrapErr("list_commission_programs", err)
	}
	for i := range out {
		normalizeProgram(&out[i])
	}
	return out, nil
}

func (q *pgQueries) InsertCommissionProgram(ctx context.Context, c *inventory.CommissionProgram) error {
	var end *string
	if c.EndDate != nil {
		s := dateParam(*c.EndDate)
		end = &s
	}
	var id int64
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO commission_programs (item_type, item_id, start_date, end_date, amount_per_item, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		string(c.Family), c.ProductID, dateParam(c.StartDate), end, c.AmountPerItem, c.CreatedAt,
	).Scan(&id)
	if err != nil {
		return wrapErr("insert_commission_program", err)
	}
	c.ID = id
	return nil
}

func (q *pgQueries) DeleteCommissionProgram(ctx context.Context, id int64) error {
	return q.execOne(ctx, "delete_commission_program", "commission program", id,
		"DELETE FROM commission_programs WHERE id = $1", id)
}

// ---- reconciliations ----

// reconciliationRow reads the JSON columns as text so NULL stays nil.
type reconciliationRow struct {
	inventory.Reconciliation
	Ledger   []byte `db:"ledger"`
	Snapshot []byte `db:"snapshot"`
}

const reconciliationSelect = `SELECT id, reconciliation_date, manager_id, status,
	manager_ledger_json::text AS ledger, system_snapshot_json::text AS snapshot,
	created_at, completed_at FROM daily_reconciliations`

func (r reconciliationRow) value() inventory.Reconciliation {
	out := r.Reconciliation
	out.Date = bangkokDate(out.Date)
	out.ManagerLedgerJSON = rawOrNil(r.Ledger)
	out.SystemSnapshotJSON = rawOrNil(r.Snapshot)
	return out
}

func (q *pgQueries) getReconciliation(ctx context.Context, key any, where string, arg any) (inventory.Reconciliation, error) {
	var row reconciliationRow
	err := sqlx.GetContext(ctx, q.ext, &row, reconciliationSelect+" WHERE "+where, arg)
	if isNoRows(err) {
		return inventory.Reconciliation{}, inventory.NewNotFoundError("reconciliation", key)
	}
	if err != nil {
		return inventory.Reconciliation{}, wrapErr("get_reconciliation", err)
	}
	return row.value(), nil
}

func (q *pgQueries) GetReconciliation(ctx context.Context, id int64) (inventory.Reconciliation, error) {
	return q.getReconciliation(ctx, id, "id = $1", id)
}

func (q *pgQueries) GetReconciliationByDate(ctx context.Context, date time.Time) (inventory.Reconciliation, error) {
	day := dateParam(date)
	return q.getReconciliation(ctx, day, "reconciliation_date = $1", day)
}

func (q *pgQueries) InsertReconciliation(ctx context.Context, r *inventory.Reconciliation) error {
	existing, err := q.GetReconciliationByDate(ctx, r.Date)
	if err == nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "reconciliation date exists", existing.ID)
	}
	if !errors.Is(err, inventory.ErrNotFound) {
		return err
	}
	var id int64
	err = q.ext.QueryRowxContext(ctx, `
		INSERT INTO daily_reconciliations (reconciliation_date, manager_id, status,
			manager_ledger_json, system_snapshot_json, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		dateParam(r.Date), r.ManagerID, string(r.Status),
		jsonParam(r.ManagerLedgerJSON), jsonParam(r.SystemSnapshotJSON), r.CreatedAt, r.CompletedAt,
	).Scan(&id)
	if err != nil {
		return wrapErr("insert_reconciliation", err)
	}
	r.ID = id
	return nil
}

func (q *pgQueries) UpdateReconciliation(ctx context.Context, r *inventory.Reconciliation) error {
	return q.execOne(ctx, "update_reconciliation", "reconciliation", r.ID, `
		UPDATE daily_reconciliations SET manager_id = $1, status = $2,
			manager_ledger_json = $3, system_snapshot_json = $4, completed_at = $5
		WHERE id = $6`,
		r.ManagerID, string(r.Status), jsonParam(r.ManagerLedgerJSON), jsonParam(r.SystemSnapshotJSON),
		r.CompletedAt, r.ID)
}

func (q *pgQueries) ListReconciliations(ctx context.Context, from, to time.Time) ([]inventory.Reconciliation, error) {
	var rows []reconciliationRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, reconciliationSelect+`
		WHERE reconciliation_date >= $1 AND reconciliation_date < $2
		ORDER BY reconciliation_date`, dateParam(from), dateParam(to))
	if err != nil {
		return nil, wrapErr("list_reconciliations", err)
	}
	out := make([]inventory.Reconciliation, len(rows))
	for i, r := range rows {
		out[i] = r.value()
	}
	return out, nil
}
