package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/blob"
	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// MovementInput is one stock event to append
// ข้อมูลสำหรับบันทึกการเคลื่อนไหวสต็อก
type MovementInput struct {
	Family              Family       `json:"family" validate:"required,oneof=tire wheel spare_part"`
	ProductID           int64        `json:"product_id" validate:"required,gt=0"`
	Type                MovementType `json:"type" validate:"required,oneof=IN OUT RETURN"`
	Quantity            int64        `json:"quantity" validate:"required,gt=0"`
	Channel             string       `json:"channel"`
	OnlinePlatformID    *int64       `json:"online_platform_id" validate:"omitempty,gt=0"`
	WholesaleCustomerID *int64       `json:"wholesale_customer_id" validate:"omitempty,gt=0"`
	ReturnCustomerType  string       `json:"return_customer_type" validate:"max=100"`
	Notes               string       `json:"notes" validate:"max=1000"`
	// Timestamp backdates the movement; nil means now.
	Timestamp *time.Time `json:"timestamp"`
}

// MovementChange replaces every editable field of an existing movement.
// The result is validated exactly like a new row.
type MovementChange struct {
	Type                MovementType `json:"type" validate:"required,oneof=IN OUT RETURN"`
	Quantity            int64        `json:"quantity" validate:"required,gt=0"`
	Timestamp           time.Time    `json:"timestamp" validate:"required"`
	Channel             string       `json:"channel"`
	OnlinePlatformID    *int64       `json:"online_platform_id" validate:"omitempty,gt=0"`
	WholesaleCustomerID *int64       `json:"wholesale_customer_id" validate:"omitempty,gt=0"`
	ReturnCustomerType  string       `json:"return_customer_type" validate:"max=100"`
	Notes               string       `json:"notes" validate:"max=1000"`
}

// MovementQuery filters list_movements. Dates are Bangkok calendar days, inclusive.
type MovementQuery struct {
	Family              Family        `json:"family" validate:"required,oneof=tire wheel spare_part"`
	ProductID           *int64        `json:"product_id"`
	From                *time.Time    `json:"from"`
	To                  *time.Time    `json:"to"`
	Channel             string        `json:"channel"`
	OnlinePlatformID    *int64        `json:"online_platform_id"`
	WholesaleCustomerID *int64        `json:"wholesale_customer_id"`
	Type                *MovementType `json:"type"`
}

// channelIndex maps channel names to ids and back.
type channelIndex struct {
	byName map[string]int64
	byID   map[int64]string
}

func loadChannels(ctx context.Context, q Queries) (*channelIndex, error) {
	rows, err := q.ListMasters(ctx, MasterChannel)
	if err != nil {
		return nil, NewStorageError("list_channels", err)
	}
	idx := &channelIndex{byName: make(map[string]int64, len(rows)), byID: make(map[int64]string, len(rows))}
	for _, r := range rows {
		idx.byName[r.Name] = r.ID
		idx.byID[r.ID] = r.Name
	}
	return idx, nil
}

func (c *channelIndex) name(id *int64) string {
	if id == nil {
		return ""
	}
	return c.byID[*id]
}

// movementFields is the shared shape of MovementInput and MovementChange.
type movementFields struct {
	Type                MovementType
	Quantity            int64
	Timestamp           time.Time
	Channel             string
	OnlinePlatformID    *int64
	WholesaleCustomerID *int64
	ReturnCustomerType  string
	Notes               string
}

// applyFields validates f against the masters and writes it into mv.
func applyFields(ctx context.Context, q Queries, channels *channelIndex, f movementFields, mv *Movement) error {
	var rct *string
	if f.Type == MovementReturn || f.ReturnCustomerType != "" {
		v := f.ReturnCustomerType
		rct = &v
	}
	if err := validateMovementRules(f.Type, f.Channel, rct); err != nil {
		return err
	}
	if err := validateMovementRefs(f.Channel, f.OnlinePlatformID, f.WholesaleCustomerID); err != nil {
		return err
	}
	channelID, ok := channels.byName[f.Channel]
	if !ok {
		return NewValidationError("channel", "unknown sales channel", f.Channel)
	}
	if f.OnlinePlatformID != nil {
		if _, err := q.GetMaster(ctx, MasterPlatform, *f.OnlinePlatformID); err != nil {
			return asValidation("online_platform_id", err, *f.OnlinePlatformID)
		}
	}
	if f.WholesaleCustomerID != nil {
		if _, err := q.GetMaster(ctx, MasterCustomer, *f.WholesaleCustomerID); err != nil {
			return asValidation("wholesale_customer_id", err, *f.WholesaleCustomerID)
		}
	}

	mv.Type = f.Type
	mv.QuantityChange = f.Quantity
	mv.Timestamp = f.Timestamp.UTC()
	mv.ChannelID = &channelID
	mv.OnlinePlatformID = cloneInt64(f.OnlinePlatformID)
	mv.WholesaleCustomerID = cloneInt64(f.WholesaleCustomerID)
	mv.ReturnCustomerType = nil
	if f.Type == MovementReturn {
		mv.ReturnCustomerType = rct
	}
	mv.Notes = StringPtr(f.Notes)
	return nil
}

func asValidation(field string, err error, value any) error {
	if errors.Is(err, ErrNotFound) {
		return NewValidationError(field, "does not exist", fmt.Sprint(value))
	}
	return NewStorageError("resolve_"+field, err)
}

// CommissionFor computes the commission of one movement from the product's
// programs. Only storefront OUT movements on a covered Bangkok date earn one.
func CommissionFor(programs []CommissionProgram, t MovementType, channel string, ts time.Time, qty int64) decimal.Decimal {
	if t != MovementOut || channel != ChannelStorefront {
		return decimal.Zero
	}
	date := identity.DateOf(ts)
	for i := range programs {
		if programs[i].Covers(date) {
			return programs[i].AmountPerItem.Mul(decimal.NewFromInt(qty))
		}
	}
	return decimal.Zero
}

func (m *Manager) commission(ctx context.Context, q Queries, mv *Movement, channel string) error {
	if mv.Type != MovementOut || channel != ChannelStorefront {
		mv.CommissionAmount = decimal.Zero
		return nil
	}
	ref := mv.Ref()
	programs, err := q.ListCommissionPrograms(ctx, &ref)
	if err != nil {
		return NewStorageError("list_commission_programs", err)
	}
	mv.CommissionAmount = CommissionFor(programs, mv.Type, channel, mv.Timestamp, mv.QuantityChange)
	return nil
}

// rebalance rewrites remaining_quantity from the cut (ts, id) onwards and sets
// product.quantity to the final running balance. requested is reported in
// InsufficientStockError when any running balance would go negative.
func (m *Manager) rebalance(ctx context.Context, q Queries, ref ProductRef, ts time.Time, id int64, requested int64) (int64, error) {
	seed, err := q.SumSignedBefore(ctx, ref, ts, id)
	if err != nil {
		return 0, NewStorageError("sum_before", err)
	}
	if seed < 0 {
		return 0, &InvariantViolationError{Invariant: "running balance", Detail: fmt.Sprintf("%s balance before cut is %d", ref, seed)}
	}
	rows, err := q.ListMovementsFrom(ctx, ref, ts, id)
	if err != nil {
		return 0, NewStorageError("list_from", err)
	}

	running, lowest := seed, int64(math.MaxInt64)
	ids := make([]int64, 0, len(rows))
	remaining := make([]int64, 0, len(rows))
	for i := range rows {
		running += rows[i].Signed()
		if running < lowest {
			lowest = running
		}
		if rows[i].RemainingQuantity != running {
			ids = append(ids, rows[i].ID)
			remaining = append(remaining, running)
		}
	}
	if lowest < 0 {
		available := requested + lowest
		if available < 0 {
			available = 0
		}
		return 0, &InsufficientStockError{Available: available, Requested: requested}
	}
	if len(ids) > 0 {
		if err := q.UpdateRemainingBatch(ctx, ref.Family, ids, remaining); err != nil {
			return 0, NewStorageError("update_remaining", err)
		}
	}
	if err := q.SetProductQuantity(ctx, ref, running); err != nil {
		return 0, NewStorageError("set_quantity", err)
	}
	return running, nil
}

// checkQuantity confirms the recomputed balance matches the cached column
// adjusted by the write's own delta.
func checkQuantity(ref ProductRef, before, delta, after int64) error {
	if before+delta != after {
		return &InvariantViolationError{
			Invariant: "product quantity equals ledger sum",
			Detail:    fmt.Sprintf("%s cached %d%+d but ledger sums to %d", ref, before, delta, after),
		}
	}
	return nil
}

// appendMovement locks the product and appends one movement inside q.
func (m *Manager) appendMovement(ctx context.Context, q Queries, p identity.Principal, channels *channelIndex, in MovementInput) (Movement, Product, int64, error) {
	ref := ProductRef{Family: in.Family, ID: in.ProductID}
	prod, err := q.LockProduct(ctx, ref)
	if err != nil {
		return Movement{}, nil, 0, NewStorageError("lock_product", err)
	}
	if prod.Base().IsDeleted {
		return Movement{}, nil, 0, NewValidationError("product_id", "product is deleted", ref.String())
	}
	before := prod.Base().Quantity
	if in.Type == MovementOut && before < in.Quantity {
		return Movement{}, nil, 0, &InsufficientStockError{Available: before, Requested: in.Quantity}
	}

	ts := m.now()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}
	mv := Movement{Family: in.Family, ProductID: in.ProductID, UserID: userRef(p)}
	f := movementFields{
		Type:                in.Type,
		Quantity:            in.Quantity,
		Timestamp:           ts,
		Channel:             in.Channel,
		OnlinePlatformID:    in.OnlinePlatformID,
		WholesaleCustomerID: in.WholesaleCustomerID,
		ReturnCustomerType:  in.ReturnCustomerType,
		Notes:               in.Notes,
	}
	if err := applyFields(ctx, q, channels, f, &mv); err != nil {
		return Movement{}, nil, 0, err
	}
	if err := m.commission(ctx, q, &mv, in.Channel); err != nil {
		return Movement{}, nil, 0, err
	}
	if err := q.InsertMovement(ctx, &mv); err != nil {
		return Movement{}, nil, 0, NewStorageError("insert_movement", err)
	}
	after, err := m.rebalance(ctx, q, ref, mv.Timestamp, mv.ID, in.Quantity)
	if err != nil {
		return Movement{}, nil, 0, err
	}
	if err := checkQuantity(ref, before, mv.Signed(), after); err != nil {
		return Movement{}, nil, 0, err
	}
	stored, err := q.GetMovement(ctx, mv.Family, mv.ID)
	if err != nil {
		return Movement{}, nil, 0, NewStorageError("get_movement", err)
	}
	stored.Family = mv.Family
	prod.Base().Quantity = after
	return stored, prod, before, nil
}

// RecordMovement appends one stock event and returns it
// บันทึกการเคลื่อนไหวสต็อกหนึ่งรายการ
func (m *Manager) RecordMovement(ctx context.Context, p identity.Principal, in MovementInput) (Movement, error) {
	if err := m.authorize(p, identity.OpRecordMovement); err != nil {
		return Movement{}, err
	}
	if err := m.validateStruct(in); err != nil {
		m.observeRejection("record_movement", err)
		return Movement{}, err
	}

	var (
		mv     Movement
		prod   Product
		before int64
	)
	err := m.writeTx(ctx, "record_movement", func(q Queries) error {
		channels, err := loadChannels(ctx, q)
		if err != nil {
			return err
		}
		mv, prod, before, err = m.appendMovement(ctx, q, p, channels, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}

	m.afterLedgerWrite(ctx, p, "record_movement", prod, before, &mv)
	return mv, nil
}

// BulkResult is the outcome of an all-or-nothing bulk append.
type BulkResult struct {
	BatchID   string     `json:"batch_id"`
	Movements []Movement `json:"movements"`
}

// NewBatchID returns the identifier reported for one bulk append.
func NewBatchID() string {
	return uuid.NewString()
}

// RecordBulkMovements appends every input in one transaction. The first
// failure rolls back the whole batch and is reported as a BulkItemError.
// บันทึกการเคลื่อนไหวหลายรายการพร้อมกัน
func (m *Manager) RecordBulkMovements(ctx context.Context, p identity.Principal, inputs []MovementInput) (*BulkResult, error) {
	if err := m.authorize(p, identity.OpRecordMovement); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, NewValidationError("movements", "at least one movement is required", "")
	}
	for i, in := range inputs {
		if err := m.validateStruct(in); err != nil {
			m.observeRejection("record_bulk_movement", err)
			return nil, &BulkItemError{Index: i, Cause: err}
		}
	}

	type touched struct {
		prod   Product
		before int64
	}
	var (
		out      []Movement
		products map[ProductRef]*touched
	)
	err := m.writeTx(ctx, "record_bulk_movement", func(q Queries) error {
		out = make([]Movement, 0, len(inputs))
		products = make(map[ProductRef]*touched)
		channels, err := loadChannels(ctx, q)
		if err != nil {
			return err
		}
		for i, in := range inputs {
			mv, prod, before, err := m.appendMovement(ctx, q, p, channels, in)
			if err != nil {
				return &BulkItemError{Index: i, Cause: err}
			}
			ref := Ref(prod)
			if t, ok := products[ref]; ok {
				t.prod = prod
			} else {
				products[ref] = &touched{prod: prod, before: before}
			}
			out = append(out, mv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &BulkResult{BatchID: NewBatchID(), Movements: out}
	families := make(map[Family]bool)
	for _, t := range products {
		families[t.prod.Family()] = true
		m.metrics.written(t.prod.Family(), "record_bulk_movement", t.prod.Base().Quantity)
		m.checkLowStock(ctx, t.prod, t.before)
	}
	for f := range families {
		m.invalidate(ctx, cache.ProductsPrefix(string(f)))
	}
	m.invalidate(ctx, cache.PrefixWholesaleSummary)
	m.logger.Info("bulk movements recorded",
		zap.String("batch_id", result.BatchID),
		zap.Int("count", len(out)),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "record_bulk_movement", result.BatchID, map[string]any{"count": len(out)})
	return result, nil
}

// EditMovement replaces the editable fields of a movement and recomputes the
// running balance of every later movement of the same product.
// แก้ไขรายการเคลื่อนไหวสต็อก
func (m *Manager) EditMovement(ctx context.Context, p identity.Principal, family Family, id int64, change MovementChange) (Movement, error) {
	if err := m.authorize(p, identity.OpAdminMovement); err != nil {
		return Movement{}, err
	}
	if err := m.validateStruct(change); err != nil {
		m.observeRejection("edit_movement", err)
		return Movement{}, err
	}

	var (
		result Movement
		prod   Product
		before int64
	)
	err := m.writeTx(ctx, "edit_movement", func(q Queries) error {
		target, err := q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		target.Family = family
		ref := target.Ref()
		prod, err = q.LockProduct(ctx, ref)
		if err != nil {
			return NewStorageError("lock_product", err)
		}
		// re-read under the lock
		old, err := q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		old.Family = family
		before = prod.Base().Quantity

		channels, err := loadChannels(ctx, q)
		if err != nil {
			return err
		}
		next := old.Clone()
		f := movementFields{
			Type:                change.Type,
			Quantity:            change.Quantity,
			Timestamp:           change.Timestamp,
			Channel:             change.Channel,
			OnlinePlatformID:    change.OnlinePlatformID,
			WholesaleCustomerID: change.WholesaleCustomerID,
			ReturnCustomerType:  change.ReturnCustomerType,
			Notes:               change.Notes,
		}
		if err := applyFields(ctx, q, channels, f, &next); err != nil {
			return err
		}
		if err := m.commission(ctx, q, &next, change.Channel); err != nil {
			return err
		}
		if err := q.UpdateMovement(ctx, &next); err != nil {
			return NewStorageError("update_movement", err)
		}

		cutTs, cutID := old.Timestamp, old.ID
		if next.Before(old.Timestamp, old.ID) {
			cutTs, cutID = next.Timestamp, next.ID
		}
		after, err := m.rebalance(ctx, q, ref, cutTs, cutID, next.QuantityChange)
		if err != nil {
			return err
		}
		if err := checkQuantity(ref, before, next.Signed()-old.Signed(), after); err != nil {
			return err
		}
		prod.Base().Quantity = after
		result, err = q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		result.Family = family
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	m.afterLedgerWrite(ctx, p, "edit_movement", prod, before, &result)
	return result, nil
}

// DeleteMovement removes a movement after writing its audit snapshot
// ลบรายการเคลื่อนไหวสต็อก พร้อมบันทึกประวัติการลบ
func (m *Manager) DeleteMovement(ctx context.Context, p identity.Principal, family Family, id int64) error {
	if err := m.authorize(p, identity.OpAdminMovement); err != nil {
		return err
	}
	if !family.Valid() {
		return NewValidationError("family", "unknown product family", string(family))
	}

	var (
		removed Movement
		prod    Product
		before  int64
	)
	err := m.writeTx(ctx, "delete_movement", func(q Queries) error {
		target, err := q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		target.Family = family
		ref := target.Ref()
		prod, err = q.LockProduct(ctx, ref)
		if err != nil {
			return NewStorageError("lock_product", err)
		}
		removed, err = q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		removed.Family = family
		before = prod.Base().Quantity

		snapshot, err := json.Marshal(removed)
		if err != nil {
			return fmt.Errorf("encode movement snapshot: %w", err)
		}
		audit := &MovementDeletion{
			Family:     family,
			MovementID: removed.ID,
			ProductID:  removed.ProductID,
			DeletedBy:  userRef(p),
			DeletedAt:  m.now(),
			Snapshot:   snapshot,
		}
		if err := q.InsertMovementDeletion(ctx, audit); err != nil {
			return NewStorageError("insert_movement_deletion", err)
		}
		if err := q.DeleteMovement(ctx, family, id); err != nil {
			return NewStorageError("delete_movement", err)
		}
		after, err := m.rebalance(ctx, q, ref, removed.Timestamp, removed.ID, removed.QuantityChange)
		if err != nil {
			return err
		}
		if err := checkQuantity(ref, before, -removed.Signed(), after); err != nil {
			return err
		}
		prod.Base().Quantity = after
		return nil
	})
	if err != nil {
		return err
	}

	m.afterLedgerWrite(ctx, p, "delete_movement", prod, before, &removed)
	return nil
}

// afterLedgerWrite runs the post-commit side effects shared by ledger writes.
func (m *Manager) afterLedgerWrite(ctx context.Context, p identity.Principal, op string, prod Product, before int64, mv *Movement) {
	ref := Ref(prod)
	m.invalidate(ctx, cache.ProductsPrefix(string(ref.Family)), cache.PrefixWholesaleSummary)
	m.metrics.written(ref.Family, op, prod.Base().Quantity)
	m.logger.Info("ledger write committed",
		zap.String("operation", op),
		zap.String("family", string(ref.Family)),
		zap.Int64("product_id", ref.ID),
		zap.Int64("movement_id", mv.ID),
		zap.String("type", string(mv.Type)),
		zap.Int64("quantity", mv.QuantityChange),
		zap.Int64("stock", prod.Base().Quantity),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, fmt.Sprintf("%s/movement/%d", ref.Family, mv.ID), mv)
	m.checkLowStock(ctx, prod, before)
}

// GetMovement reads one movement.
func (m *Manager) GetMovement(ctx context.Context, p identity.Principal, family Family, id int64) (Movement, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return Movement{}, err
	}
	mv, err := m.storage.GetMovement(ctx, family, id)
	if err != nil {
		return Movement{}, NewStorageError("get_movement", err)
	}
	mv.Family = family
	return mv, nil
}

// ListMovements returns ledger rows in (timestamp, id) order
// ดึงรายการเคลื่อนไหวตามเงื่อนไข
func (m *Manager) ListMovements(ctx context.Context, p identity.Principal, query MovementQuery) ([]Movement, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return nil, err
	}
	if err := m.validateStruct(query); err != nil {
		return nil, err
	}
	filter := MovementFilter{
		Family:              query.Family,
		ProductID:           query.ProductID,
		OnlinePlatformID:    query.OnlinePlatformID,
		WholesaleCustomerID: query.WholesaleCustomerID,
		Type:                query.Type,
	}
	if query.From != nil {
		start := identity.DateOf(*query.From)
		filter.From = &start
	}
	if query.To != nil {
		_, end := identity.DayBounds(*query.To)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, NewValidationError("from", "must not be after to", identity.FormatDate(*query.From))
	}
	if query.Channel != "" {
		channels, err := loadChannels(ctx, m.storage)
		if err != nil {
			return nil, err
		}
		id, ok := channels.byName[query.Channel]
		if !ok {
			return nil, NewValidationError("channel", "unknown sales channel", query.Channel)
		}
		filter.ChannelID = &id
	}

	rows, err := m.storage.ListMovements(ctx, filter)
	if err != nil {
		return nil, NewStorageError("list_movements", err)
	}
	for i := range rows {
		rows[i].Family = query.Family
	}
	return rows, nil
}

// SetMovementImage uploads a photo for a movement, persists its URL and then
// removes the photo it replaced.
// อัปโหลดรูปภาพประกอบรายการเคลื่อนไหว
func (m *Manager) SetMovementImage(ctx context.Context, p identity.Principal, family Family, id int64, content []byte) (Movement, error) {
	if err := m.authorize(p, identity.OpAdminMovement); err != nil {
		return Movement{}, err
	}
	if m.blobs == nil {
		return Movement{}, &UpstreamUnavailableError{Service: "blob", Cause: errors.New("no blob store configured")}
	}
	if _, err := m.storage.GetMovement(ctx, family, id); err != nil {
		return Movement{}, NewStorageError("get_movement", err)
	}

	url, err := m.blobs.Put(ctx, fmt.Sprintf("movements/%s/%d", family, id), content)
	if err != nil {
		if errors.Is(err, blob.ErrUnsupportedType) {
			return Movement{}, NewValidationError("image", err.Error(), "")
		}
		m.logger.Error("movement image upload failed", zap.Int64("movement_id", id), zap.Error(err))
		return Movement{}, &UpstreamUnavailableError{Service: "blob", Cause: err}
	}

	var (
		updated Movement
		oldURL  *string
	)
	err = m.writeTx(ctx, "set_movement_image", func(q Queries) error {
		mv, err := q.GetMovement(ctx, family, id)
		if err != nil {
			return NewStorageError("get_movement", err)
		}
		mv.Family = family
		oldURL = mv.ImageURL
		mv.ImageURL = &url
		if err := q.UpdateMovement(ctx, &mv); err != nil {
			return NewStorageError("update_movement", err)
		}
		updated = mv
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	if oldURL != nil && *oldURL != url {
		if err := m.blobs.Delete(ctx, *oldURL); err != nil {
			m.logger.Error("old movement image not removed", zap.String("url", *oldURL), zap.Error(err))
		}
	}
	m.logger.Info("movement image replaced",
		zap.String("family", string(family)),
		zap.Int64("movement_id", id),
		zap.String("url", url),
	)
	m.emitActivity(ctx, p, "set_movement_image", fmt.Sprintf("%s/movement/%d", family, id), map[string]string{"url": url})
	return updated, nil
}
