package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// familyTables names the catalog and ledger tables of one family.
type familyTables struct {
	products  string
	movements string
	// columns are the family-specific catalog columns in bind order.
	columns []string
	// search are the columns a listing query matches against.
	search []string
}

var tables = map[inventory.Family]familyTables{
	inventory.FamilyTire: {
		products:  "tires",
		movements: "tire_movements",
		columns:   []string{"brand", "model", "size", "year_of_manufacture", "promotion_id", "ignore_analysis", "cost_sc", "cost_dunlop"},
		search:    []string{"brand", "model", "size"},
	},
	inventory.FamilyWheel: {
		products:  "wheels",
		movements: "wheel_movements",
		columns:   []string{"brand", "model", "diameter", "pcd", "width", "et", "color", "image_url", "cost"},
		search:    []string{"brand", "model", "diameter", "pcd"},
	},
	inventory.FamilySparePart: {
		products:  "spare_parts",
		movements: "spare_part_movements",
		columns:   []string{"name", "part_number", "brand", "description", "category_id", "image_url", "cost"},
		search:    []string{"name", "part_number", "brand"},
	},
}

// baseColumns are shared by every family; id and natural_key are handled apart.
var baseColumns = []string{
	"quantity", "cost_online", "wholesale_price_1", "wholesale_price_2",
	"retail_price", "is_deleted", "created_at", "updated_at",
}

func tablesOf(f inventory.Family) (familyTables, error) {
	t, ok := tables[f]
	if !ok {
		return familyTables{}, inventory.NewValidationError("family", "unknown product family", string(f))
	}
	return t, nil
}

func (t familyTables) selectList() string {
	cols := append([]string{"id"}, baseColumns...)
	return strings.Join(append(cols, t.columns...), ", ")
}

// productValues returns the bind values of p aligned with baseColumns
// followed by the family columns.
func productValues(p inventory.Product) []any {
	b := p.Base()
	vals := []any{
		b.Quantity, b.CostOnline, b.Wholesale1, b.Wholesale2,
		b.RetailPrice, b.IsDeleted, b.CreatedAt, b.UpdatedAt,
	}
	switch v := p.(type) {
	case *inventory.Tire:
		vals = append(vals, v.Brand, v.Model, v.Size, v.YearOfManufacture, v.PromotionID, v.IgnoreAnalysis, v.CostSC, v.CostDunlop)
	case *inventory.Wheel:
		vals = append(vals, v.Brand, v.Model, v.Diameter, v.PCD, v.Width, v.ET, v.Color, v.ImageURL, v.Cost)
	case *inventory.SparePart:
		vals = append(vals, v.Name, v.PartNumber, v.Brand, v.Description, v.CategoryID, v.ImageURL, v.Cost)
	}
	return vals
}

// scanProducts selects rows of concrete type T and returns them as Products.
func scanProducts[T any, PT interface {
	*T
	inventory.Product
}](ctx context.Context, db sqlx.QueryerContext, query string, args ...any) ([]inventory.Product, error) {
	var rows []T
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]inventory.Product, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out, nil
}

func (q *pgQueries) selectProducts(ctx context.Context, f inventory.Family, where string, args ...any) ([]inventory.Product, error) {
	t, err := tablesOf(f)
	if err != nil {
		return nil, err
	}
	query := q.ext.Rebind(fmt.Sprintf("SELECT %s FROM %s %s", t.selectList(), t.products, where))
	switch f {
	case inventory.FamilyTire:
		return scanProducts[inventory.Tire](ctx, q.ext, query, args...)
	case inventory.FamilyWheel:
		return scanProducts[inventory.Wheel](ctx, q.ext, query, args...)
	default:
		return scanProducts[inventory.SparePart](ctx, q.ext, query, args...)
	}
}

func (q *pgQueries) oneProduct(ctx context.Context, ref inventory.ProductRef, suffix string) (inventory.Product, error) {
	rows, err := q.selectProducts(ctx, ref.Family, "WHERE id = ?"+suffix, ref.ID)
	if err != nil {
		return nil, wrapErr("get_product", err)
	}
	if len(rows) == 0 {
		return nil, inventory.NewNotFoundError(string(ref.Family), ref.ID)
	}
	return rows[0], nil
}

func (q *pgQueries) GetProduct(ctx context.Context, ref inventory.ProductRef) (inventory.Product, error) {
	return q.oneProduct(ctx, ref, "")
}

// LockProduct fails fast instead of queueing behind another writer.
func (q *pgQueries) LockProduct(ctx context.Context, ref inventory.ProductRef) (inventory.Product, error) {
	return q.oneProduct(ctx, ref, " FOR UPDATE NOWAIT")
}

// productFilterSQL renders the WHERE/ORDER clause of a listing.
func productFilterSQL(t familyTables, f inventory.ProductFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeDeleted {
		conds = append(conds, "NOT is_deleted")
	}
	if brand := strings.TrimSpace(f.Brand); brand != "" {
		conds = append(conds, "LOWER(BTRIM(COALESCE(brand, ''))) = LOWER(?)")
		args = append(args, brand)
	}
	if f.CategoryID != nil {
		conds = append(conds, "category_id = ?")
		args = append(args, *f.CategoryID)
	}
	if query := strings.TrimSpace(f.Query); query != "" {
		var ors []string
		for _, col := range t.search {
			ors = append(ors, fmt.Sprintf("STRPOS(LOWER(COALESCE(%s, '')), LOWER(?)) > 0", col))
			args = append(args, query)
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return where + ` ORDER BY natural_key COLLATE "C", id`, args
}

func (q *pgQueries) ListProducts(ctx context.Context, f inventory.ProductFilter) ([]inventory.Product, error) {
	t, err := tablesOf(f.Family)
	if err != nil {
		return nil, err
	}
	if f.CategoryID != nil && f.Family != inventory.FamilySparePart {
		return nil, nil
	}
	where, args := productFilterSQL(t, f)
	out, err := q.selectProducts(ctx, f.Family, where, args...)
	if err != nil {
		return nil, wrapErr("list_products", err)
	}
	return out, nil
}

// liveNaturalKeyHolder returns the live row other than p sharing its natural key.
func (q *pgQueries) liveNaturalKeyHolder(ctx context.Context, t familyTables, p inventory.Product) (int64, bool, error) {
	var ids []int64
	query := fmt.Sprintf("SELECT id FROM %s WHERE natural_key = $1 AND NOT is_deleted AND id <> $2 LIMIT 1", t.products)
	if err := sqlx.SelectContext(ctx, q.ext, &ids, query, p.NaturalKey(), p.Base().ID); err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func (q *pgQueries) checkNaturalKey(ctx context.Context, t familyTables, p inventory.Product) error {
	if p.Base().IsDeleted {
		return nil
	}
	id, taken, err := q.liveNaturalKeyHolder(ctx, t, p)
	if err != nil {
		return wrapErr("check_natural_key", err)
	}
	if taken {
		return inventory.NewConflictError(inventory.ConflictDuplicateNaturalKey,
			"a live "+string(p.Family())+" with the same identity exists",
			inventory.ProductRef{Family: p.Family(), ID: id})
	}
	return nil
}

func (q *pgQueries) InsertProduct(ctx context.Context, p inventory.Product) error {
	t, err := tablesOf(p.Family())
	if err != nil {
		return err
	}
	if err := q.checkNaturalKey(ctx, t, p); err != nil {
		return err
	}
	cols := append(append([]string{}, baseColumns...), t.columns...)
	cols = append(cols, "natural_key")
	args := append(productValues(p), p.NaturalKey())
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		t.products, strings.Join(cols, ", "), placeholders(len(cols)))

	var id int64
	if err := q.ext.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return wrapErr("insert_product", err)
	}
	p.Base().ID = id
	return nil
}

// UpdateProduct leaves quantity and created_at untouched.
func (q *pgQueries) UpdateProduct(ctx context.Context, p inventory.Product) error {
	t, err := tablesOf(p.Family())
	if err != nil {
		return err
	}
	if err := q.checkNaturalKey(ctx, t, p); err != nil {
		return err
	}
	vals := productValues(p)
	var (
		sets []string
		args []any
	)
	cols := append(append([]string{}, baseColumns...), t.columns...)
	for i, col := range cols {
		if col == "quantity" || col == "created_at" {
			continue
		}
		args = append(args, vals[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, p.NaturalKey())
	sets = append(sets, fmt.Sprintf("natural_key = $%d", len(args)))
	args = append(args, p.Base().ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", t.products, strings.Join(sets, ", "), len(args))
	return q.execOne(ctx, "update_product", string(p.Family()), p.Base().ID, query, args...)
}

func (q *pgQueries) SetProductQuantity(ctx context.Context, ref inventory.ProductRef, quantity int64) error {
	t, err := tablesOf(ref.Family)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET quantity = $1 WHERE id = $2", t.products)
	return q.execOne(ctx, "set_quantity", string(ref.Family), ref.ID, query, quantity, ref.ID)
}

func (q *pgQueries) ListBrands(ctx context.Context, family inventory.Family) ([]string, error) {
	t, err := tablesOf(family)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT DISTINCT BTRIM(brand) AS b FROM %s
		WHERE NOT is_deleted AND BTRIM(COALESCE(brand, '')) <> ''
		ORDER BY b COLLATE "C"`, t.products)
	var out []string
	if err := sqlx.SelectContext(ctx, q.ext, &out, query); err != nil {
		return nil, wrapErr("list_brands", err)
	}
	return out, nil
}

func (q *pgQueries) InsertCostHistory(ctx context.Context, h *inventory.TireCostHistory) error {
	id, err := q.insertReturningID(ctx, `
		INSERT INTO tire_cost_history (tire_id, changed_at, old_cost, new_cost, user_id, note)
		VALUES (:tire_id, :changed_at, :old_cost, :new_cost, :user_id, :note)
		RETURNING id`, h)
	if err != nil {
		return wrapErr("insert_cost_history", err)
	}
	h.ID = id
	return nil
}

func (q *pgQueries) ListCostHistory(ctx context.Context, tireID int64) ([]inventory.TireCostHistory, error) {
	var out []inventory.TireCostHistory
	err := sqlx.SelectContext(ctx, q.ext, &out, `
		SELECT id, tire_id, changed_at, old_cost, new_cost, user_id, note
		FROM tire_cost_history WHERE tire_id = $1
		ORDER BY changed_at DESC, id DESC`, tireID)
	if err != nil {
		return nil, wrapErr("list_cost_history", err)
	}
	return out, nil
}

// ---- barcodes ----

const barcodeColumns = "barcode, product_type, product_id, is_primary, created_at"

func (q *pgQueries) InsertBarcode(ctx context.Context, b *inventory.Barcode) error {
	existing, err := q.GetBarcode(ctx, b.Code)
	if err == nil {
		return inventory.NewConflictError(inventory.ConflictBarcodeCollision,
			"barcode "+b.Code+" is already assigned", existing)
	}
	if !errors.Is(err, inventory.ErrNotFound) {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO barcodes (`+barcodeColumns+`)
		VALUES (:barcode, :product_type, :product_id, :is_primary, :created_at)`, b)
	return wrapErr("insert_barcode", err)
}

func (q *pgQueries) GetBarcode(ctx context.Context, code string) (inventory.Barcode, error) {
	var b inventory.Barcode
	err := sqlx.GetContext(ctx, q.ext, &b, "SELECT "+barcodeColumns+" FROM barcodes WHERE barcode = $1", code)
	if isNoRows(err) {
		return b, inventory.NewNotFoundError("barcode", code)
	}
	return b, wrapErr("get_barcode", err)
}

func (q *pgQueries) DeleteBarcode(ctx context.Context, code string) error {
	return q.execOne(ctx, "delete_barcode", "barcode", code, "DELETE FROM barcodes WHERE barcode = $1", code)
}

func (q *pgQueries) ListBarcodes(ctx context.Context, ref inventory.ProductRef) ([]inventory.Barcode, error) {
	var out []inventory.Barcode
	err := sqlx.SelectContext(ctx, q.ext, &out, "SELECT "+barcodeColumns+` FROM barcodes
		WHERE product_type = $1 AND product_id = $2
		ORDER BY is_primary DESC, barcode COLLATE "C"`, ref.Family, ref.ID)
	if err != nil {
		return nil, wrapErr("list_barcodes", err)
	}
	return out, nil
}

func (q *pgQueries) SetPrimaryBarcode(ctx context.Context, ref inventory.ProductRef, code string) error {
	b, err := q.GetBarcode(ctx, code)
	if err != nil {
		return err
	}
	if b.Ref() != ref {
		return inventory.NewNotFoundError("barcode", code)
	}
	_, err = q.ext.ExecContext(ctx, `
		UPDATE barcodes SET is_primary = (barcode = $3)
		WHERE product_type = $1 AND product_id = $2`, ref.Family, ref.ID, code)
	return wrapErr("set_primary_barcode", err)
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}
