package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/pricing"
)

// PricePatch carries price columns. A nil field is left unchanged; a non-nil
// NullDecimal with Valid=false clears the column.
// ข้อมูลราคาที่ต้องการเปลี่ยน
type PricePatch struct {
	CostSC      *decimal.NullDecimal `json:"cost_sc"`
	CostDunlop  *decimal.NullDecimal `json:"cost_dunlop"`
	Cost        *decimal.NullDecimal `json:"cost"`
	CostOnline  *decimal.NullDecimal `json:"cost_online"`
	Wholesale1  *decimal.NullDecimal `json:"wholesale_price_1"`
	Wholesale2  *decimal.NullDecimal `json:"wholesale_price_2"`
	RetailPrice *decimal.Decimal     `json:"retail_price"`
}

// ProductInput creates one product. Exactly one attribute block must match Family.
// ข้อมูลสำหรับสร้างสินค้าใหม่
type ProductInput struct {
	Family          Family               `json:"family" validate:"required,oneof=tire wheel spare_part"`
	Tire            *TireAttributes      `json:"tire"`
	Wheel           *WheelAttributes     `json:"wheel"`
	SparePart       *SparePartAttributes `json:"spare_part"`
	Prices          PricePatch           `json:"prices"`
	InitialQuantity int64                `json:"initial_quantity" validate:"gte=0"`
	Barcode         string               `json:"barcode" validate:"max=64"`
}

// ProductPatch updates a product. A non-nil attribute block replaces every
// descriptive column of the family except the attached promotion.
// ข้อมูลสำหรับแก้ไขสินค้า
type ProductPatch struct {
	Tire      *TireAttributes      `json:"tire"`
	Wheel     *WheelAttributes     `json:"wheel"`
	SparePart *SparePartAttributes `json:"spare_part"`
	Prices    PricePatch           `json:"prices"`
	// CostNote is stored with the tire cost history row.
	CostNote string `json:"cost_note" validate:"max=500"`
}

// productEnvelope is the cacheable form of a product list entry.
type productEnvelope struct {
	Tire      *Tire      `json:"tire,omitempty"`
	Wheel     *Wheel     `json:"wheel,omitempty"`
	SparePart *SparePart `json:"spare_part,omitempty"`
}

func wrapProduct(p Product) productEnvelope {
	switch v := p.(type) {
	case *Tire:
		return productEnvelope{Tire: v}
	case *Wheel:
		return productEnvelope{Wheel: v}
	case *SparePart:
		return productEnvelope{SparePart: v}
	}
	return productEnvelope{}
}

func (e productEnvelope) product() Product {
	switch {
	case e.Tire != nil:
		return e.Tire
	case e.Wheel != nil:
		return e.Wheel
	case e.SparePart != nil:
		return e.SparePart
	}
	return nil
}

func (pp PricePatch) apply(p Product) error {
	b := p.Base()
	set := func(field string, dst *decimal.NullDecimal, v *decimal.NullDecimal) error {
		if v == nil {
			return nil
		}
		if dst == nil {
			return NewValidationError(field, "not a column of "+string(p.Family()), "")
		}
		if err := ValidateOptionalMoney(field, *v); err != nil {
			return err
		}
		*dst = *v
		return nil
	}

	var costSC, costDunlop, cost *decimal.NullDecimal
	switch v := p.(type) {
	case *Tire:
		costSC, costDunlop = &v.CostSC, &v.CostDunlop
	case *Wheel:
		cost = &v.Cost
	case *SparePart:
		cost = &v.Cost
	}
	for _, f := range []struct {
		name string
		dst  *decimal.NullDecimal
		v    *decimal.NullDecimal
	}{
		{"cost_sc", costSC, pp.CostSC},
		{"cost_dunlop", costDunlop, pp.CostDunlop},
		{"cost", cost, pp.Cost},
		{"cost_online", &b.CostOnline, pp.CostOnline},
		{"wholesale_price_1", &b.Wholesale1, pp.Wholesale1},
		{"wholesale_price_2", &b.Wholesale2, pp.Wholesale2},
	} {
		if err := set(f.name, f.dst, f.v); err != nil {
			return err
		}
	}
	if pp.RetailPrice != nil {
		if err := ValidateMoney("retail_price", *pp.RetailPrice); err != nil {
			return err
		}
		b.RetailPrice = *pp.RetailPrice
	}
	return nil
}

func newProduct(in ProductInput) (Product, error) {
	switch in.Family {
	case FamilyTire:
		if in.Tire == nil {
			return nil, NewValidationError("tire", "is required for family tire", "")
		}
		return &Tire{TireAttributes: *in.Tire}, nil
	case FamilyWheel:
		if in.Wheel == nil {
			return nil, NewValidationError("wheel", "is required for family wheel", "")
		}
		return &Wheel{WheelAttributes: *in.Wheel}, nil
	case FamilySparePart:
		if in.SparePart == nil {
			return nil, NewValidationError("spare_part", "is required for family spare_part", "")
		}
		return &SparePart{SparePartAttributes: *in.SparePart}, nil
	}
	return nil, NewValidationError("family", "unknown product family", string(in.Family))
}

func (pt ProductPatch) applyAttributes(p Product) error {
	switch v := p.(type) {
	case *Tire:
		if pt.Wheel != nil || pt.SparePart != nil {
			return NewValidationError("tire", "attribute block does not match family", "")
		}
		if pt.Tire != nil {
			promo := v.PromotionID
			v.TireAttributes = *pt.Tire
			v.PromotionID = promo
		}
	case *Wheel:
		if pt.Tire != nil || pt.SparePart != nil {
			return NewValidationError("wheel", "attribute block does not match family", "")
		}
		if pt.Wheel != nil {
			v.WheelAttributes = *pt.Wheel
		}
	case *SparePart:
		if pt.Tire != nil || pt.Wheel != nil {
			return NewValidationError("spare_part", "attribute block does not match family", "")
		}
		if pt.SparePart != nil {
			v.SparePartAttributes = *pt.SparePart
		}
	}
	return nil
}

// normalizeAttributes trims text columns and checks the required ones.
func normalizeAttributes(p Product) error {
	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	trimPtr := func(s **string) {
		if *s != nil {
			*s = StringPtr(strings.TrimSpace(**s))
		}
	}
	required := func(pairs ...string) error {
		for i := 0; i < len(pairs); i += 2 {
			if err := ValidateName(pairs[i], pairs[i+1]); err != nil {
				return err
			}
		}
		return nil
	}

	switch v := p.(type) {
	case *Tire:
		trim(&v.Brand)
		trim(&v.Model)
		trim(&v.Size)
		if v.YearOfManufacture != nil && (*v.YearOfManufacture < 1900 || *v.YearOfManufacture > 2200) {
			return NewValidationError("year_of_manufacture", "is out of range", fmt.Sprint(*v.YearOfManufacture))
		}
		return required("brand", v.Brand, "model", v.Model, "size", v.Size)
	case *Wheel:
		trim(&v.Brand)
		trim(&v.Model)
		trim(&v.Diameter)
		trim(&v.PCD)
		trim(&v.Width)
		trimPtr(&v.ET)
		trimPtr(&v.Color)
		return required("brand", v.Brand, "model", v.Model, "diameter", v.Diameter, "pcd", v.PCD, "width", v.Width)
	case *SparePart:
		trim(&v.Name)
		trimPtr(&v.PartNumber)
		trimPtr(&v.Brand)
		trimPtr(&v.Description)
		return required("name", v.Name)
	}
	return nil
}

// checkReferences confirms the category and promotion a product points at exist.
func checkReferences(ctx context.Context, q Queries, p Product) error {
	switch v := p.(type) {
	case *Tire:
		if v.PromotionID != nil {
			promo, err := q.GetPromotion(ctx, *v.PromotionID)
			if err != nil {
				return asValidation("promotion_id", err, *v.PromotionID)
			}
			if promo.IsDeleted {
				return NewValidationError("promotion_id", "promotion is deleted", fmt.Sprint(promo.ID))
			}
		}
	case *SparePart:
		if v.CategoryID != nil {
			if _, err := q.GetCategory(ctx, *v.CategoryID); err != nil {
				return asValidation("category_id", err, *v.CategoryID)
			}
		}
	}
	return nil
}

// buildView turns a product into the caller's role-filtered view.
func buildView(p Product, promotions map[int64]Promotion, barcodes []string, role identity.Role) ProductView {
	b := p.Base()
	prices := pricing.Prices{
		Costs:      make(map[string]*decimal.Decimal),
		Wholesale1: pricing.NullPtr(b.Wholesale1),
		Wholesale2: pricing.NullPtr(b.Wholesale2),
		Retail:     pricing.Ptr(b.RetailPrice),
	}
	for k, c := range p.Costs() {
		prices.Costs[k] = pricing.NullPtr(c)
	}

	view := ProductView{
		Family:    p.Family(),
		ID:        b.ID,
		Name:      p.DisplayName(),
		Quantity:  b.Quantity,
		IsDeleted: b.IsDeleted,
		Barcodes:  barcodes,
		UpdatedAt: b.UpdatedAt,
	}
	switch v := p.(type) {
	case *Tire:
		attrs := v.TireAttributes
		view.Tire = &attrs
		if v.PromotionID != nil {
			if promo, ok := promotions[*v.PromotionID]; ok {
				rule := promo.Rule()
				prices.Promo = pricing.Evaluate(b.RetailPrice, &rule)
			}
		}
	case *Wheel:
		attrs := v.WheelAttributes
		view.Wheel = &attrs
	case *SparePart:
		attrs := v.SparePartAttributes
		view.SparePart = &attrs
	}
	view.Prices = pricing.Project(prices, role)
	return view
}

// ListProducts returns the role-filtered listing of one family ordered by natural key
// ดึงรายการสินค้าตามเงื่อนไข
func (m *Manager) ListProducts(ctx context.Context, p identity.Principal, filter ProductFilter) ([]ProductView, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	if !filter.Family.Valid() {
		return nil, NewValidationError("family", "unknown product family", string(filter.Family))
	}
	filter.Query = strings.TrimSpace(filter.Query)
	filter.Brand = strings.TrimSpace(filter.Brand)

	var category int64
	if filter.CategoryID != nil {
		category = *filter.CategoryID
	}
	key := cache.ProductListKey(string(filter.Family), strings.ToLower(filter.Query), strings.ToLower(filter.Brand), category, filter.IncludeDeleted)
	rows, err := cache.Remember(ctx, m.cache, key, m.config.ListingTTL, func(ctx context.Context) ([]productEnvelope, error) {
		products, err := m.storage.ListProducts(ctx, filter)
		if err != nil {
			return nil, NewStorageError("list_products", err)
		}
		out := make([]productEnvelope, len(products))
		for i, prod := range products {
			out[i] = wrapProduct(prod)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	promotions, err := m.promotionIndex(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ProductView, 0, len(rows))
	for _, row := range rows {
		if prod := row.product(); prod != nil {
			views = append(views, buildView(prod, promotions, nil, p.Role))
		}
	}
	return views, nil
}

// GetProduct returns one product with its barcodes
// ดึงข้อมูลสินค้าหนึ่งรายการ
func (m *Manager) GetProduct(ctx context.Context, p identity.Principal, ref ProductRef) (ProductView, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return ProductView{}, err
	}
	if !ref.Family.Valid() {
		return ProductView{}, NewValidationError("family", "unknown product family", string(ref.Family))
	}
	prod, err := m.storage.GetProduct(ctx, ref)
	if err != nil {
		return ProductView{}, NewStorageError("get_product", err)
	}
	return m.view(ctx, prod, p.Role)
}

func (m *Manager) view(ctx context.Context, prod Product, role identity.Role) (ProductView, error) {
	promotions, err := m.promotionIndex(ctx)
	if err != nil {
		return ProductView{}, err
	}
	codes, err := m.storage.ListBarcodes(ctx, Ref(prod))
	if err != nil {
		return ProductView{}, NewStorageError("list_barcodes", err)
	}
	barcodes := make([]string, len(codes))
	for i, c := range codes {
		barcodes[i] = c.Code
	}
	return buildView(prod, promotions, barcodes, role), nil
}

// CreateProduct adds a product; a positive initial quantity is booked as a purchase IN
// สร้างสินค้าใหม่
func (m *Manager) CreateProduct(ctx context.Context, p identity.Principal, in ProductInput) (ProductView, error) {
	if err := m.authorize(p, identity.OpEditCatalog); err != nil {
		return ProductView{}, err
	}
	if err := m.validateStruct(in); err != nil {
		m.observeRejection("create_product", err)
		return ProductView{}, err
	}
	if in.Prices.RetailPrice == nil {
		return ProductView{}, NewValidationError("retail_price", "is required", "")
	}
	if in.Barcode != "" {
		if err := ValidateBarcode(in.Barcode); err != nil {
			return ProductView{}, err
		}
	}
	prod, err := newProduct(in)
	if err != nil {
		return ProductView{}, err
	}
	if err := in.Prices.apply(prod); err != nil {
		return ProductView{}, err
	}
	if err := normalizeAttributes(prod); err != nil {
		return ProductView{}, err
	}

	now := m.now()
	prod.Base().CreatedAt = now
	prod.Base().UpdatedAt = now
	prod.Base().Quantity = 0

	err = m.writeTx(ctx, "create_product", func(q Queries) error {
		if err := checkReferences(ctx, q, prod); err != nil {
			return err
		}
		prod.Base().ID = 0
		prod.Base().Quantity = 0
		if err := q.InsertProduct(ctx, prod); err != nil {
			return NewStorageError("insert_product", err)
		}
		if in.Barcode != "" {
			if err := attachBarcode(ctx, q, Ref(prod), in.Barcode, now); err != nil {
				return err
			}
		}
		if in.InitialQuantity > 0 {
			channels, err := loadChannels(ctx, q)
			if err != nil {
				return err
			}
			_, stocked, _, err := m.appendMovement(ctx, q, p, channels, MovementInput{
				Family:    prod.Family(),
				ProductID: prod.Base().ID,
				Type:      MovementIn,
				Quantity:  in.InitialQuantity,
				Channel:   ChannelPurchaseIn,
				Notes:     "ยอดยกมาตอนสร้างสินค้า",
			})
			if err != nil {
				return err
			}
			prod.Base().Quantity = stocked.Base().Quantity
		}
		return nil
	})
	if err != nil {
		return ProductView{}, err
	}

	ref := Ref(prod)
	m.invalidate(ctx, cache.ProductsPrefix(string(ref.Family)), cache.BrandsKey(string(ref.Family)))
	m.metrics.written(ref.Family, "create_product", prod.Base().Quantity)
	m.logger.Info("product created",
		zap.String("family", string(ref.Family)),
		zap.Int64("product_id", ref.ID),
		zap.String("name", prod.DisplayName()),
		zap.Int64("quantity", prod.Base().Quantity),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "create_product", ref.String(), map[string]any{"name": prod.DisplayName(), "initial_quantity": in.InitialQuantity})
	return m.view(ctx, prod, p.Role)
}

// UpdateProduct applies a partial update. Every cost_sc change of a tire is
// recorded in the cost history.
// แก้ไขข้อมูลสินค้า
func (m *Manager) UpdateProduct(ctx context.Context, p identity.Principal, ref ProductRef, patch ProductPatch) (ProductView, error) {
	if err := m.authorize(p, identity.OpEditCatalog); err != nil {
		return ProductView{}, err
	}
	if err := m.validateStruct(patch); err != nil {
		m.observeRejection("update_product", err)
		return ProductView{}, err
	}

	var updated Product
	err := m.writeTx(ctx, "update_product", func(q Queries) error {
		cur, err := q.LockProduct(ctx, ref)
		if err != nil {
			return NewStorageError("lock_product", err)
		}
		next := cur.Clone()
		if err := patch.applyAttributes(next); err != nil {
			return err
		}
		if err := patch.Prices.apply(next); err != nil {
			return err
		}
		if err := normalizeAttributes(next); err != nil {
			return err
		}
		if err := checkReferences(ctx, q, next); err != nil {
			return err
		}
		next.Base().UpdatedAt = m.now()
		if err := q.UpdateProduct(ctx, next); err != nil {
			return NewStorageError("update_product", err)
		}
		if oldTire, ok := cur.(*Tire); ok {
			newTire := next.(*Tire)
			if !nullDecimalEqual(oldTire.CostSC, newTire.CostSC) {
				h := &TireCostHistory{
					TireID:    ref.ID,
					ChangedAt: next.Base().UpdatedAt,
					OldCost:   oldTire.CostSC,
					NewCost:   newTire.CostSC,
					UserID:    userRef(p),
					Note:      StringPtr(patch.CostNote),
				}
				if err := q.InsertCostHistory(ctx, h); err != nil {
					return NewStorageError("insert_cost_history", err)
				}
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return ProductView{}, err
	}

	m.invalidate(ctx, cache.ProductsPrefix(string(ref.Family)), cache.BrandsKey(string(ref.Family)))
	m.metrics.written(ref.Family, "update_product", updated.Base().Quantity)
	m.logger.Info("product updated",
		zap.String("family", string(ref.Family)),
		zap.Int64("product_id", ref.ID),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "update_product", ref.String(), patch)
	return m.view(ctx, updated, p.Role)
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// SoftDeleteProduct hides a product. Products with stock on hand cannot be deleted.
// ลบสินค้า (ซ่อน) โดยยังเก็บประวัติการเคลื่อนไหวไว้
func (m *Manager) SoftDeleteProduct(ctx context.Context, p identity.Principal, ref ProductRef) error {
	return m.setDeleted(ctx, p, ref, true)
}

// RestoreProduct brings back a soft-deleted product
// กู้คืนสินค้าที่ถูกลบ
func (m *Manager) RestoreProduct(ctx context.Context, p identity.Principal, ref ProductRef) error {
	return m.setDeleted(ctx, p, ref, false)
}

func (m *Manager) setDeleted(ctx context.Context, p identity.Principal, ref ProductRef, deleted bool) error {
	if err := m.authorize(p, identity.OpDeleteProduct); err != nil {
		return err
	}
	op := "restore_product"
	if deleted {
		op = "soft_delete_product"
	}

	changed := false
	err := m.writeTx(ctx, op, func(q Queries) error {
		prod, err := q.LockProduct(ctx, ref)
		if err != nil {
			return NewStorageError("lock_product", err)
		}
		if prod.Base().IsDeleted == deleted {
			return nil
		}
		if deleted && prod.Base().Quantity > 0 {
			return NewConflictError(ConflictProductHasStock,
				fmt.Sprintf("%s still has %d in stock", ref, prod.Base().Quantity), prod.Base().Quantity)
		}
		prod.Base().IsDeleted = deleted
		prod.Base().UpdatedAt = m.now()
		if err := q.UpdateProduct(ctx, prod); err != nil {
			return NewStorageError("update_product", err)
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}

	m.invalidate(ctx, cache.ProductsPrefix(string(ref.Family)), cache.BrandsKey(string(ref.Family)))
	m.logger.Info("product visibility changed",
		zap.String("operation", op),
		zap.String("family", string(ref.Family)),
		zap.Int64("product_id", ref.ID),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, ref.String(), nil)
	return nil
}

// AssignPromotion attaches a promotion to a tire, or detaches it when promotionID is nil
// ผูกโปรโมชันกับยาง
func (m *Manager) AssignPromotion(ctx context.Context, p identity.Principal, tireID int64, promotionID *int64) (ProductView, error) {
	if err := m.authorize(p, identity.OpManagePromotions); err != nil {
		return ProductView{}, err
	}
	ref := ProductRef{Family: FamilyTire, ID: tireID}
	var updated Product
	err := m.writeTx(ctx, "assign_promotion", func(q Queries) error {
		prod, err := q.LockProduct(ctx, ref)
		if err != nil {
			return NewStorageError("lock_product", err)
		}
		tire := prod.(*Tire)
		tire.PromotionID = cloneInt64(promotionID)
		if err := checkReferences(ctx, q, tire); err != nil {
			return err
		}
		tire.UpdatedAt = m.now()
		if err := q.UpdateProduct(ctx, tire); err != nil {
			return NewStorageError("update_product", err)
		}
		updated = tire
		return nil
	})
	if err != nil {
		return ProductView{}, err
	}

	m.invalidate(ctx, cache.ProductsPrefix(string(FamilyTire)))
	m.logger.Info("promotion assigned",
		zap.Int64("tire_id", tireID),
		zap.Any("promotion_id", promotionID),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "assign_promotion", ref.String(), map[string]any{"promotion_id": promotionID})
	return m.view(ctx, updated, p.Role)
}

// ListBrands returns the distinct brands of live products in a family.
func (m *Manager) ListBrands(ctx context.Context, p identity.Principal, family Family) ([]string, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	if !family.Valid() {
		return nil, NewValidationError("family", "unknown product family", string(family))
	}
	return cache.Remember(ctx, m.cache, cache.BrandsKey(string(family)), m.config.MasterTTL, func(ctx context.Context) ([]string, error) {
		brands, err := m.storage.ListBrands(ctx, family)
		if err != nil {
			return nil, NewStorageError("list_brands", err)
		}
		return brands, nil
	})
}

// ListCostHistory returns the cost_sc changes of a tire, newest first
// ดูประวัติการเปลี่ยนต้นทุนยาง
func (m *Manager) ListCostHistory(ctx context.Context, p identity.Principal, tireID int64) ([]TireCostHistory, error) {
	if err := m.authorize(p, identity.OpViewCosts); err != nil {
		return nil, err
	}
	if _, err := m.storage.GetProduct(ctx, ProductRef{Family: FamilyTire, ID: tireID}); err != nil {
		return nil, NewStorageError("get_product", err)
	}
	rows, err := m.storage.ListCostHistory(ctx, tireID)
	if err != nil {
		return nil, NewStorageError("list_cost_history", err)
	}
	return rows, nil
}
