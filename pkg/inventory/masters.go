package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

func masterCacheKey(kind MasterKind) (key, prefix string) {
	switch kind {
	case MasterChannel:
		return cache.ChannelsKey(), cache.PrefixChannels
	case MasterPlatform:
		return cache.PlatformsKey(), cache.PrefixPlatforms
	}
	return cache.CustomersKey(), cache.PrefixCustomers
}

func validMasterKind(kind MasterKind) error {
	switch kind {
	case MasterChannel, MasterPlatform, MasterCustomer:
		return nil
	}
	return NewValidationError("kind", "unknown master table", string(kind))
}

// ListMasters returns a name master ordered by name
// ดึงรายการข้อมูลหลัก (ช่องทางขาย แพลตฟอร์ม ลูกค้าส่ง)
func (m *Manager) ListMasters(ctx context.Context, p identity.Principal, kind MasterKind) ([]Master, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	if err := validMasterKind(kind); err != nil {
		return nil, err
	}
	ttl := m.config.MasterTTL
	if kind == MasterChannel {
		ttl = m.config.StaticTTL
	}
	key, _ := masterCacheKey(kind)
	return cache.Remember(ctx, m.cache, key, ttl, func(ctx context.Context) ([]Master, error) {
		rows, err := m.storage.ListMasters(ctx, kind)
		if err != nil {
			return nil, NewStorageError("list_masters", err)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
		return rows, nil
	})
}

// CreateMaster adds an online platform or wholesale customer. Sales channels
// are fixed and cannot be added.
func (m *Manager) CreateMaster(ctx context.Context, p identity.Principal, kind MasterKind, name string) (Master, error) {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return Master{}, err
	}
	if err := m.checkEditableMaster(kind); err != nil {
		return Master{}, err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName("name", name); err != nil {
		return Master{}, err
	}

	row := Master{Name: name}
	err := m.writeTx(ctx, "create_master", func(q Queries) error {
		row.ID = 0
		row.CreatedAt = m.now()
		return NewStorageError("insert_master", q.InsertMaster(ctx, kind, &row))
	})
	if err != nil {
		return Master{}, err
	}
	m.afterMasterWrite(ctx, p, "create_master", kind, row.ID, name)
	return row, nil
}

// RenameMaster renames an online platform or wholesale customer.
func (m *Manager) RenameMaster(ctx context.Context, p identity.Principal, kind MasterKind, id int64, name string) error {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return err
	}
	if err := m.checkEditableMaster(kind); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName("name", name); err != nil {
		return err
	}
	err := m.writeTx(ctx, "rename_master", func(q Queries) error {
		if _, err := q.GetMaster(ctx, kind, id); err != nil {
			return NewStorageError("get_master", err)
		}
		return NewStorageError("rename_master", q.RenameMaster(ctx, kind, id, name))
	})
	if err != nil {
		return err
	}
	m.afterMasterWrite(ctx, p, "rename_master", kind, id, name)
	return nil
}

// DeleteMaster removes an online platform or wholesale customer that no
// movement references.
// ลบข้อมูลหลักที่ไม่มีรายการเคลื่อนไหวอ้างอิง
func (m *Manager) DeleteMaster(ctx context.Context, p identity.Principal, kind MasterKind, id int64) error {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return err
	}
	if err := m.checkEditableMaster(kind); err != nil {
		return err
	}
	var row Master
	err := m.writeTx(ctx, "delete_master", func(q Queries) error {
		var err error
		row, err = q.GetMaster(ctx, kind, id)
		if err != nil {
			return NewStorageError("get_master", err)
		}
		refs, err := q.CountMovementsReferencing(ctx, kind, id)
		if err != nil {
			return NewStorageError("count_references", err)
		}
		if refs > 0 {
			return NewConflictError(ConflictMasterInUse,
				fmt.Sprintf("%s is referenced by %d movements", row.Name, refs), refs)
		}
		return NewStorageError("delete_master", q.DeleteMaster(ctx, kind, id))
	})
	if err != nil {
		return err
	}
	m.afterMasterWrite(ctx, p, "delete_master", kind, id, row.Name)
	return nil
}

func (m *Manager) checkEditableMaster(kind MasterKind) error {
	if err := validMasterKind(kind); err != nil {
		return err
	}
	if kind == MasterChannel {
		return NewValidationError("kind", "sales channels are fixed", string(kind))
	}
	return nil
}

func (m *Manager) afterMasterWrite(ctx context.Context, p identity.Principal, op string, kind MasterKind, id int64, name string) {
	_, prefix := masterCacheKey(kind)
	prefixes := []string{prefix}
	if kind == MasterCustomer {
		prefixes = append(prefixes, cache.PrefixWholesaleSummary)
	}
	m.invalidate(ctx, prefixes...)
	m.logger.Info("master data changed",
		zap.String("operation", op),
		zap.String("kind", string(kind)),
		zap.Int64("id", id),
		zap.String("name", name),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, fmt.Sprintf("%s/%d", kind, id), map[string]string{"name": name})
}

// ---- categories ----

// CategoryTree returns the spare-part category forest ordered by name
// ดึงโครงสร้างหมวดหมู่อะไหล่
func (m *Manager) CategoryTree(ctx context.Context, p identity.Principal) ([]*CategoryNode, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, m.cache, cache.CategoryTreeKey(), m.config.MasterTTL, func(ctx context.Context) ([]*CategoryNode, error) {
		rows, err := m.storage.ListCategories(ctx)
		if err != nil {
			return nil, NewStorageError("list_categories", err)
		}
		return BuildCategoryTree(rows), nil
	})
}

// BuildCategoryTree links categories into a forest. Rows whose parent is
// missing become roots.
func BuildCategoryTree(rows []Category) []*CategoryNode {
	nodes := make(map[int64]*CategoryNode, len(rows))
	for _, c := range rows {
		nodes[c.ID] = &CategoryNode{Category: c, Children: []*CategoryNode{}}
	}
	var roots []*CategoryNode
	for _, c := range rows {
		n := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	var sortNodes func([]*CategoryNode)
	sortNodes = func(ns []*CategoryNode) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].Name < ns[j].Name })
		for _, n := range ns {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots
}

// CategoryPath returns the names from the root down to id, or nil when unknown.
func CategoryPath(rows []Category, id int64) []string {
	byID := make(map[int64]Category, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	var path []string
	seen := make(map[int64]bool)
	for cur, ok := byID[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		path = append([]string{cur.Name}, path...)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}
	return path
}

// checkCategoryParent rejects a parent that does not exist or that would put
// id inside its own subtree.
func checkCategoryParent(ctx context.Context, q Queries, id int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	rows, err := q.ListCategories(ctx)
	if err != nil {
		return NewStorageError("list_categories", err)
	}
	byID := make(map[int64]Category, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	cur, ok := byID[*parentID]
	if !ok {
		return NewValidationError("parent_id", "does not exist", fmt.Sprint(*parentID))
	}
	for steps := 0; steps <= len(rows); steps++ {
		if id != 0 && cur.ID == id {
			return NewConflictError(ConflictCategoryCycle, "category cannot be placed under its own subtree", *parentID)
		}
		if cur.ParentID == nil {
			return nil
		}
		if cur, ok = byID[*cur.ParentID]; !ok {
			return nil
		}
	}
	return NewConflictError(ConflictCategoryCycle, "category tree already contains a cycle", *parentID)
}

// CreateCategory adds a spare-part category.
func (m *Manager) CreateCategory(ctx context.Context, p identity.Principal, name string, parentID *int64) (Category, error) {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return Category{}, err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName("name", name); err != nil {
		return Category{}, err
	}
	c := Category{Name: name, ParentID: cloneInt64(parentID)}
	err := m.writeTx(ctx, "create_category", func(q Queries) error {
		if err := checkCategoryParent(ctx, q, 0, parentID); err != nil {
			return err
		}
		c.ID = 0
		c.CreatedAt = m.now()
		return NewStorageError("insert_category", q.InsertCategory(ctx, &c))
	})
	if err != nil {
		return Category{}, err
	}
	m.afterCategoryWrite(ctx, p, "create_category", c)
	return c, nil
}

// UpdateCategory renames or reparents a category
// แก้ไขหมวดหมู่ (ห้ามย้ายไปอยู่ใต้หมวดหมู่ลูกของตัวเอง)
func (m *Manager) UpdateCategory(ctx context.Context, p identity.Principal, id int64, name string, parentID *int64) (Category, error) {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return Category{}, err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName("name", name); err != nil {
		return Category{}, err
	}
	var c Category
	err := m.writeTx(ctx, "update_category", func(q Queries) error {
		var err error
		c, err = q.GetCategory(ctx, id)
		if err != nil {
			return NewStorageError("get_category", err)
		}
		if parentID != nil && *parentID == id {
			return NewConflictError(ConflictCategoryCycle, "category cannot be its own parent", id)
		}
		if err := checkCategoryParent(ctx, q, id, parentID); err != nil {
			return err
		}
		c.Name = name
		c.ParentID = cloneInt64(parentID)
		return NewStorageError("update_category", q.UpdateCategory(ctx, &c))
	})
	if err != nil {
		return Category{}, err
	}
	m.afterCategoryWrite(ctx, p, "update_category", c)
	return c, nil
}

// DeleteCategory removes a category without children or spare parts.
func (m *Manager) DeleteCategory(ctx context.Context, p identity.Principal, id int64) error {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return err
	}
	var c Category
	err := m.writeTx(ctx, "delete_category", func(q Queries) error {
		var err error
		c, err = q.GetCategory(ctx, id)
		if err != nil {
			return NewStorageError("get_category", err)
		}
		rows, err := q.ListCategories(ctx)
		if err != nil {
			return NewStorageError("list_categories", err)
		}
		for _, child := range rows {
			if child.ParentID != nil && *child.ParentID == id {
				return NewConflictError(ConflictMasterInUse, "category "+c.Name+" has sub-categories", child.ID)
			}
		}
		parts, err := q.ListProducts(ctx, ProductFilter{Family: FamilySparePart, CategoryID: &id, IncludeDeleted: true})
		if err != nil {
			return NewStorageError("list_products", err)
		}
		if len(parts) > 0 {
			return NewConflictError(ConflictMasterInUse,
				fmt.Sprintf("category %s holds %d spare parts", c.Name, len(parts)), len(parts))
		}
		return NewStorageError("delete_category", q.DeleteCategory(ctx, id))
	})
	if err != nil {
		return err
	}
	m.afterCategoryWrite(ctx, p, "delete_category", c)
	return nil
}

func (m *Manager) afterCategoryWrite(ctx context.Context, p identity.Principal, op string, c Category) {
	m.invalidate(ctx, cache.PrefixCategories, cache.ProductsPrefix(string(FamilySparePart)))
	m.logger.Info("category changed",
		zap.String("operation", op),
		zap.Int64("category_id", c.ID),
		zap.String("name", c.Name),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, fmt.Sprintf("category/%d", c.ID), c)
}

// ---- commission programs ----

// CommissionInput defines a commission program for one product.
type CommissionInput struct {
	Family        Family          `json:"item_type" validate:"required,oneof=tire wheel spare_part"`
	ProductID     int64           `json:"item_id" validate:"required,gt=0"`
	StartDate     time.Time       `json:"start_date" validate:"required"`
	EndDate       *time.Time      `json:"end_date"`
	AmountPerItem decimal.Decimal `json:"amount_per_item"`
}

// AddCommissionProgram registers a program. Ranges of one product may not
// overlap. Existing movements keep the commission they were booked with.
// เพิ่มโปรแกรมค่าคอมมิชชัน
func (m *Manager) AddCommissionProgram(ctx context.Context, p identity.Principal, in CommissionInput) (CommissionProgram, error) {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return CommissionProgram{}, err
	}
	if err := m.validateStruct(in); err != nil {
		return CommissionProgram{}, err
	}
	amount := in.AmountPerItem
	if err := ValidateMoney("amount_per_item", amount); err != nil {
		return CommissionProgram{}, err
	}
	if !amount.IsPositive() {
		return CommissionProgram{}, NewValidationError("amount_per_item", "must be greater than 0", amount.String())
	}
	prog := CommissionProgram{
		Family:        in.Family,
		ProductID:     in.ProductID,
		StartDate:     identity.DateOf(in.StartDate),
		AmountPerItem: amount,
	}
	if in.EndDate != nil {
		end := identity.DateOf(*in.EndDate)
		if end.Before(prog.StartDate) {
			return CommissionProgram{}, NewValidationError("end_date", "must not be before start_date", identity.FormatDate(end))
		}
		prog.EndDate = &end
	}

	ref := ProductRef{Family: in.Family, ID: in.ProductID}
	err := m.writeTx(ctx, "add_commission_program", func(q Queries) error {
		if _, err := q.GetProduct(ctx, ref); err != nil {
			return NewStorageError("get_product", err)
		}
		existing, err := q.ListCommissionPrograms(ctx, &ref)
		if err != nil {
			return NewStorageError("list_commission_programs", err)
		}
		for i := range existing {
			if existing[i].Overlaps(&prog) {
				return NewConflictError(ConflictCommissionOverlap, "program overlaps an existing one of "+ref.String(), existing[i])
			}
		}
		prog.ID = 0
		prog.CreatedAt = m.now()
		return NewStorageError("insert_commission_program", q.InsertCommissionProgram(ctx, &prog))
	})
	if err != nil {
		return CommissionProgram{}, err
	}

	m.logger.Info("commission program added",
		zap.String("product", ref.String()),
		zap.Int64("program_id", prog.ID),
		zap.String("amount_per_item", prog.AmountPerItem.StringFixed(2)),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "add_commission_program", ref.String(), prog)
	return prog, nil
}

// DeleteCommissionProgram removes a program without touching past movements.
func (m *Manager) DeleteCommissionProgram(ctx context.Context, p identity.Principal, id int64) error {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return err
	}
	err := m.writeTx(ctx, "delete_commission_program", func(q Queries) error {
		return NewStorageError("delete_commission_program", q.DeleteCommissionProgram(ctx, id))
	})
	if err != nil {
		return err
	}
	m.logger.Info("commission program deleted", zap.Int64("program_id", id), zap.String("user", p.Username))
	m.emitActivity(ctx, p, "delete_commission_program", fmt.Sprintf("commission/%d", id), nil)
	return nil
}

// ListCommissionPrograms lists programs, optionally of one product.
func (m *Manager) ListCommissionPrograms(ctx context.Context, p identity.Principal, ref *ProductRef) ([]CommissionProgram, error) {
	if err := m.authorize(p, identity.OpManageMasters); err != nil {
		return nil, err
	}
	rows, err := m.storage.ListCommissionPrograms(ctx, ref)
	if err != nil {
		return nil, NewStorageError("list_commission_programs", err)
	}
	return rows, nil
}

// ---- settings ----

// GetSetting reads one application setting.
func (m *Manager) GetSetting(ctx context.Context, p identity.Principal, key string) (AppSetting, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return AppSetting{}, err
	}
	s, err := m.storage.GetSetting(ctx, key)
	if err != nil {
		return AppSetting{}, NewStorageError("get_setting", err)
	}
	return s, nil
}

// SetSetting writes one application setting
// บันทึกค่าการตั้งค่าระบบ
func (m *Manager) SetSetting(ctx context.Context, p identity.Principal, key, value string) (AppSetting, error) {
	if err := m.authorize(p, identity.OpManageSettings); err != nil {
		return AppSetting{}, err
	}
	key = strings.TrimSpace(key)
	if err := ValidateName("key", key); err != nil {
		return AppSetting{}, err
	}
	s := AppSetting{Key: key, Value: value}
	err := m.writeTx(ctx, "set_setting", func(q Queries) error {
		s.UpdatedAt = m.now()
		return NewStorageError("upsert_setting", q.UpsertSetting(ctx, &s))
	})
	if err != nil {
		return AppSetting{}, err
	}
	m.logger.Info("setting changed", zap.String("key", key), zap.String("user", p.Username))
	m.emitActivity(ctx, p, "set_setting", key, map[string]string{"value": value})
	return s, nil
}
