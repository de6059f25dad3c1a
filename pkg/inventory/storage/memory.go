package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// MemoryStorage is an in-process Storage with the same all-or-nothing
// transaction contract as PostgreSQL. A single mutex serializes writers,
// which also stands in for the per-product row lock.
// ที่เก็บข้อมูลในหน่วยความจำ สำหรับการทดสอบและตัวอย่าง
type MemoryStorage struct {
	*memQueries

	mu         sync.Mutex
	st         *memState
	contention int
}

var _ inventory.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{st: newMemState()}
	s.memQueries = &memQueries{store: s}
	return s
}

// InjectContention makes the next n LockProduct calls fail with ErrContention.
func (s *MemoryStorage) InjectContention(n int) {
	s.mu.Lock()
	s.contention = n
	s.mu.Unlock()
}

// InTx runs fn against the live state and restores a snapshot when fn fails.
func (s *MemoryStorage) InTx(ctx context.Context, fn func(q inventory.Queries) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			s.st = snapshot
			panic(r)
		}
		if err != nil {
			s.st = snapshot
		}
	}()
	return fn(&memQueries{store: s, inTx: true})
}

// InReadTx runs fn against a private copy of the state taken under the lock,
// so writers are never blocked and fn cannot change the store.
func (s *MemoryStorage) InReadTx(ctx context.Context, fn func(q inventory.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()
	return fn(&memQueries{store: s, inTx: true, snap: snapshot})
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStorage) Close() error {
	return nil
}

type memState struct {
	seq             map[string]int64
	products        map[inventory.Family]map[int64]inventory.Product
	movements       map[inventory.Family]map[int64]inventory.Movement
	deletions       []inventory.MovementDeletion
	barcodes        map[string]inventory.Barcode
	masters         map[inventory.MasterKind]map[int64]inventory.Master
	categories      map[int64]inventory.Category
	promotions      map[int64]inventory.Promotion
	commissions     map[int64]inventory.CommissionProgram
	costHistory     []inventory.TireCostHistory
	reconciliations map[int64]inventory.Reconciliation
	users           map[int64]inventory.User
	settings        map[string]inventory.AppSetting
	activity        []inventory.ActivityLog
	notifications   map[int64]inventory.Notification
	announcements   map[int64]inventory.Announcement
	feedback        map[int64]inventory.Feedback
}

func newMemState() *memState {
	st := &memState{
		seq:             make(map[string]int64),
		products:        make(map[inventory.Family]map[int64]inventory.Product),
		movements:       make(map[inventory.Family]map[int64]inventory.Movement),
		barcodes:        make(map[string]inventory.Barcode),
		masters:         make(map[inventory.MasterKind]map[int64]inventory.Master),
		categories:      make(map[int64]inventory.Category),
		promotions:      make(map[int64]inventory.Promotion),
		commissions:     make(map[int64]inventory.CommissionProgram),
		reconciliations: make(map[int64]inventory.Reconciliation),
		users:           make(map[int64]inventory.User),
		settings:        make(map[string]inventory.AppSetting),
		notifications:   make(map[int64]inventory.Notification),
		announcements:   make(map[int64]inventory.Announcement),
		feedback:        make(map[int64]inventory.Feedback),
	}
	for _, f := range inventory.Families {
		st.products[f] = make(map[int64]inventory.Product)
		st.movements[f] = make(map[int64]inventory.Movement)
	}
	for _, k := range []inventory.MasterKind{inventory.MasterChannel, inventory.MasterPlatform, inventory.MasterCustomer} {
		st.masters[k] = make(map[int64]inventory.Master)
	}
	return st
}

func (st *memState) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.seq {
		c.seq[k] = v
	}
	for f, rows := range st.products {
		for id, p := range rows {
			c.products[f][id] = p.Clone()
		}
	}
	for f, rows := range st.movements {
		for id, m := range rows {
			c.movements[f][id] = m.Clone()
		}
	}
	c.deletions = append(c.deletions, st.deletions...)
	for k, v := range st.barcodes {
		c.barcodes[k] = v
	}
	for kind, rows := range st.masters {
		for id, m := range rows {
			c.masters[kind][id] = m
		}
	}
	for id, v := range st.categories {
		v.ParentID = copyInt64(v.ParentID)
		c.categories[id] = v
	}
	for id, v := range st.promotions {
		c.promotions[id] = v
	}
	for id, v := range st.commissions {
		if v.EndDate != nil {
			end := *v.EndDate
			v.EndDate = &end
		}
		c.commissions[id] = v
	}
	c.costHistory = append(c.costHistory, st.costHistory...)
	for id, v := range st.reconciliations {
		v.ManagerLedgerJSON = copyRaw(v.ManagerLedgerJSON)
		v.SystemSnapshotJSON = copyRaw(v.SystemSnapshotJSON)
		if v.CompletedAt != nil {
			at := *v.CompletedAt
			v.CompletedAt = &at
		}
		c.reconciliations[id] = v
	}
	for id, v := range st.users {
		c.users[id] = v
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	c.activity = append(c.activity, st.activity...)
	for id, v := range st.notifications {
		c.notifications[id] = v
	}
	for id, v := range st.announcements {
		v.CreatedBy = copyInt64(v.CreatedBy)
		c.announcements[id] = v
	}
	for id, v := range st.feedback {
		v.UserID = copyInt64(v.UserID)
		if v.ResolvedAt != nil {
			at := *v.ResolvedAt
			v.ResolvedAt = &at
		}
		c.feedback[id] = v
	}
	return c
}

// memQueries implements inventory.Queries over the shared state. Outside a
// transaction each call takes the store mutex; inside InTx it is already held.
type memQueries struct {
	store *MemoryStorage
	inTx  bool
	// snap pins a read transaction to its own copy of the state.
	snap *memState
}

func (q *memQueries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.store.mu.Lock()
	return q.store.mu.Unlock
}

func (q *memQueries) state() *memState {
	if q.snap != nil {
		return q.snap
	}
	return q.store.st
}

// ---- products ----

func (q *memQueries) GetProduct(_ context.Context, ref inventory.ProductRef) (inventory.Product, error) {
	defer q.lock()()
	p, ok := q.state().products[ref.Family][ref.ID]
	if !ok {
		return nil, inventory.NewNotFoundError(string(ref.Family), ref.ID)
	}
	return p.Clone(), nil
}

func (q *memQueries) LockProduct(ctx context.Context, ref inventory.ProductRef) (inventory.Product, error) {
	if q.inTx && q.store.contention > 0 {
		q.store.contention--
		return nil, inventory.ErrContention
	}
	return q.GetProduct(ctx, ref)
}

func (q *memQueries) ListProducts(_ context.Context, f inventory.ProductFilter) ([]inventory.Product, error) {
	defer q.lock()()
	var out []inventory.Product
	for _, p := range q.state().products[f.Family] {
		if !f.IncludeDeleted && p.Base().IsDeleted {
			continue
		}
		if f.Brand != "" && !strings.EqualFold(strings.TrimSpace(brandOf(p)), strings.TrimSpace(f.Brand)) {
			continue
		}
		if f.CategoryID != nil {
			sp, ok := p.(*inventory.SparePart)
			if !ok || sp.CategoryID == nil || *sp.CategoryID != *f.CategoryID {
				continue
			}
		}
		if !inventory.MatchesQuery(p, f.Query) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].NaturalKey(), out[j].NaturalKey()
		if ki != kj {
			return ki < kj
		}
		return out[i].Base().ID < out[j].Base().ID
	})
	return out, nil
}

func brandOf(p inventory.Product) string {
	switch v := p.(type) {
	case *inventory.Tire:
		return v.Brand
	case *inventory.Wheel:
		return v.Brand
	case *inventory.SparePart:
		if v.Brand != nil {
			return *v.Brand
		}
	}
	return ""
}

func (q *memQueries) checkNaturalKey(p inventory.Product) error {
	if p.Base().IsDeleted {
		return nil
	}
	key := p.NaturalKey()
	for id, other := range q.state().products[p.Family()] {
		if id == p.Base().ID || other.Base().IsDeleted {
			continue
		}
		if other.NaturalKey() == key {
			return inventory.NewConflictError(inventory.ConflictDuplicateNaturalKey,
				"a live "+string(p.Family())+" with the same identity exists", inventory.Ref(other))
		}
	}
	return nil
}

func (q *memQueries) InsertProduct(_ context.Context, p inventory.Product) error {
	defer q.lock()()
	st := q.state()
	if err := q.checkNaturalKey(p); err != nil {
		return err
	}
	p.Base().ID = st.next("product:" + string(p.Family()))
	st.products[p.Family()][p.Base().ID] = p.Clone()
	return nil
}

func (q *memQueries) UpdateProduct(_ context.Context, p inventory.Product) error {
	defer q.lock()()
	st := q.state()
	cur, ok := st.products[p.Family()][p.Base().ID]
	if !ok {
		return inventory.NewNotFoundError(string(p.Family()), p.Base().ID)
	}
	if err := q.checkNaturalKey(p); err != nil {
		return err
	}
	next := p.Clone()
	next.Base().Quantity = cur.Base().Quantity
	st.products[p.Family()][p.Base().ID] = next
	return nil
}

func (q *memQueries) SetProductQuantity(_ context.Context, ref inventory.ProductRef, quantity int64) error {
	defer q.lock()()
	p, ok := q.state().products[ref.Family][ref.ID]
	if !ok {
		return inventory.NewNotFoundError(string(ref.Family), ref.ID)
	}
	p.Base().Quantity = quantity
	return nil
}

func (q *memQueries) ListBrands(_ context.Context, family inventory.Family) ([]string, error) {
	defer q.lock()()
	seen := make(map[string]bool)
	var out []string
	for _, p := range q.state().products[family] {
		b := strings.TrimSpace(brandOf(p))
		if p.Base().IsDeleted || b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

func (q *memQueries) InsertCostHistory(_ context.Context, h *inventory.TireCostHistory) error {
	defer q.lock()()
	st := q.state()
	h.ID = st.next("tire_cost_history")
	st.costHistory = append(st.costHistory, *h)
	return nil
}

func (q *memQueries) ListCostHistory(_ context.Context, tireID int64) ([]inventory.TireCostHistory, error) {
	defer q.lock()()
	var out []inventory.TireCostHistory
	for _, h := range q.state().costHistory {
		if h.TireID == tireID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	return out, nil
}

// ---- barcodes ----

func (q *memQueries) InsertBarcode(_ context.Context, b *inventory.Barcode) error {
	defer q.lock()()
	st := q.state()
	if existing, ok := st.barcodes[b.Code]; ok {
		return inventory.NewConflictError(inventory.ConflictBarcodeCollision,
			"barcode "+b.Code+" is already assigned", existing)
	}
	st.barcodes[b.Code] = *b
	return nil
}

func (q *memQueries) GetBarcode(_ context.Context, code string) (inventory.Barcode, error) {
	defer q.lock()()
	b, ok := q.state().barcodes[code]
	if !ok {
		return inventory.Barcode{}, inventory.NewNotFoundError("barcode", code)
	}
	return b, nil
}

func (q *memQueries) DeleteBarcode(_ context.Context, code string) error {
	defer q.lock()()
	if _, ok := q.state().barcodes[code]; !ok {
		return inventory.NewNotFoundError("barcode", code)
	}
	delete(q.state().barcodes, code)
	return nil
}

func (q *memQueries) ListBarcodes(_ context.Context, ref inventory.ProductRef) ([]inventory.Barcode, error) {
	defer q.lock()()
	var out []inventory.Barcode
	for _, b := range q.state().barcodes {
		if b.Ref() == ref {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (q *memQueries) SetPrimaryBarcode(_ context.Context, ref inventory.ProductRef, code string) error {
	defer q.lock()()
	st := q.state()
	target, ok := st.barcodes[code]
	if !ok || target.Ref() != ref {
		return inventory.NewNotFoundError("barcode", code)
	}
	for k, b := range st.barcodes {
		if b.Ref() == ref {
			b.IsPrimary = k == code
			st.barcodes[k] = b
		}
	}
	return nil
}

// ---- movements ----

func (q *memQueries) InsertMovement(_ context.Context, m *inventory.Movement) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.products[m.Family][m.ProductID]; !ok {
		return inventory.NewNotFoundError(string(m.Family), m.ProductID)
	}
	m.ID = st.next("movement:" + string(m.Family))
	st.movements[m.Family][m.ID] = m.Clone()
	return nil
}

func (q *memQueries) GetMovement(_ context.Context, family inventory.Family, id int64) (inventory.Movement, error) {
	defer q.lock()()
	m, ok := q.state().movements[family][id]
	if !ok {
		return inventory.Movement{}, inventory.NewNotFoundError("movement", id)
	}
	return m.Clone(), nil
}

func (q *memQueries) UpdateMovement(_ context.Context, m *inventory.Movement) error {
	defer q.lock()()
	rows := q.state().movements[m.Family]
	if _, ok := rows[m.ID]; !ok {
		return inventory.NewNotFoundError("movement", m.ID)
	}
	rows[m.ID] = m.Clone()
	return nil
}

func (q *memQueries) DeleteMovement(_ context.Context, family inventory.Family, id int64) error {
	defer q.lock()()
	rows := q.state().movements[family]
	if _, ok := rows[id]; !ok {
		return inventory.NewNotFoundError("movement", id)
	}
	delete(rows, id)
	return nil
}

func (q *memQueries) SumSignedBefore(_ context.Context, ref inventory.ProductRef, ts time.Time, id int64) (int64, error) {
	defer q.lock()()
	var sum int64
	for _, m := range q.state().movements[ref.Family] {
		if m.ProductID == ref.ID && m.Before(ts, id) {
			sum += m.Signed()
		}
	}
	return sum, nil
}

func (q *memQueries) ListMovementsFrom(_ context.Context, ref inventory.ProductRef, ts time.Time, id int64) ([]inventory.Movement, error) {
	defer q.lock()()
	var out []inventory.Movement
	for _, m := range q.state().movements[ref.Family] {
		if m.ProductID == ref.ID && !m.Before(ts, id) {
			out = append(out, m.Clone())
		}
	}
	sortLedger(out)
	return out, nil
}

func (q *memQueries) UpdateRemainingBatch(_ context.Context, family inventory.Family, ids, remaining []int64) error {
	defer q.lock()()
	rows := q.state().movements[family]
	for i, id := range ids {
		m, ok := rows[id]
		if !ok {
			return inventory.NewNotFoundError("movement", id)
		}
		m.RemainingQuantity = remaining[i]
		rows[id] = m
	}
	return nil
}

func (q *memQueries) ListMovements(_ context.Context, f inventory.MovementFilter) ([]inventory.Movement, error) {
	defer q.lock()()
	var out []inventory.Movement
	for _, m := range q.state().movements[f.Family] {
		if f.Matches(&m) {
			out = append(out, m.Clone())
		}
	}
	sortLedger(out)
	return out, nil
}

func (q *memQueries) SumSignedByProductBefore(_ context.Context, family inventory.Family, ts time.Time) (map[int64]int64, error) {
	defer q.lock()()
	out := make(map[int64]int64)
	for _, m := range q.state().movements[family] {
		if m.Timestamp.Before(ts) {
			out[m.ProductID] += m.Signed()
		}
	}
	return out, nil
}

func (q *memQueries) CountMovementsReferencing(_ context.Context, kind inventory.MasterKind, id int64) (int64, error) {
	defer q.lock()()
	var n int64
	for _, rows := range q.state().movements {
		for _, m := range rows {
			var ref *int64
			switch kind {
			case inventory.MasterChannel:
				ref = m.ChannelID
			case inventory.MasterPlatform:
				ref = m.OnlinePlatformID
			case inventory.MasterCustomer:
				ref = m.WholesaleCustomerID
			}
			if ref != nil && *ref == id {
				n++
			}
		}
	}
	return n, nil
}

func (q *memQueries) InsertMovementDeletion(_ context.Context, d *inventory.MovementDeletion) error {
	defer q.lock()()
	st := q.state()
	d.ID = st.next("movement_deletions")
	c := *d
	c.Snapshot = copyRaw(d.Snapshot)
	st.deletions = append(st.deletions, c)
	return nil
}

func (q *memQueries) ListMovementDeletions(_ context.Context, ref inventory.ProductRef, from, to time.Time) ([]inventory.MovementDeletion, error) {
	defer q.lock()()
	var out []inventory.MovementDeletion
	for _, d := range q.state().deletions {
		if d.Family == ref.Family && d.ProductID == ref.ID && !d.DeletedAt.Before(from) && d.DeletedAt.Before(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func sortLedger(ms []inventory.Movement) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Before(ms[j].Timestamp, ms[j].ID)
	})
}

// ---- masters ----

func (q *memQueries) ListMasters(_ context.Context, kind inventory.MasterKind) ([]inventory.Master, error) {
	defer q.lock()()
	out := make([]inventory.Master, 0, len(q.state().masters[kind]))
	for _, m := range q.state().masters[kind] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (q *memQueries) GetMaster(_ context.Context, kind inventory.MasterKind, id int64) (inventory.Master, error) {
	defer q.lock()()
	m, ok := q.state().masters[kind][id]
	if !ok {
		return inventory.Master{}, inventory.NewNotFoundError(string(kind), id)
	}
	return m, nil
}

func (q *memQueries) masterNameTaken(kind inventory.MasterKind, name string, except int64) *inventory.Master {
	for id, m := range q.state().masters[kind] {
		if id != except && strings.EqualFold(m.Name, name) {
			return &m
		}
	}
	return nil
}

func (q *memQueries) InsertMaster(_ context.Context, kind inventory.MasterKind, m *inventory.Master) error {
	defer q.lock()()
	if existing := q.masterNameTaken(kind, m.Name, 0); existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "name "+m.Name+" is taken", *existing)
	}
	st := q.state()
	m.ID = st.next(string(kind))
	st.masters[kind][m.ID] = *m
	return nil
}

func (q *memQueries) RenameMaster(_ context.Context, kind inventory.MasterKind, id int64, name string) error {
	defer q.lock()()
	m, ok := q.state().masters[kind][id]
	if !ok {
		return inventory.NewNotFoundError(string(kind), id)
	}
	if existing := q.masterNameTaken(kind, name, id); existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "name "+name+" is taken", *existing)
	}
	m.Name = name
	q.state().masters[kind][id] = m
	return nil
}

func (q *memQueries) DeleteMaster(_ context.Context, kind inventory.MasterKind, id int64) error {
	defer q.lock()()
	if _, ok := q.state().masters[kind][id]; !ok {
		return inventory.NewNotFoundError(string(kind), id)
	}
	delete(q.state().masters[kind], id)
	return nil
}

func (q *memQueries) ListCategories(_ context.Context) ([]inventory.Category, error) {
	defer q.lock()()
	out := make([]inventory.Category, 0, len(q.state().categories))
	for _, c := range q.state().categories {
		c.ParentID = copyInt64(c.ParentID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (q *memQueries) GetCategory(_ context.Context, id int64) (inventory.Category, error) {
	defer q.lock()()
	c, ok := q.state().categories[id]
	if !ok {
		return inventory.Category{}, inventory.NewNotFoundError("category", id)
	}
	c.ParentID = copyInt64(c.ParentID)
	return c, nil
}

func (q *memQueries) categoryNameTaken(name string, except int64) *inventory.Category {
	for id, c := range q.state().categories {
		if id != except && strings.EqualFold(c.Name, name) {
			return &c
		}
	}
	return nil
}

func (q *memQueries) InsertCategory(_ context.Context, c *inventory.Category) error {
	defer q.lock()()
	if existing := q.categoryNameTaken(c.Name, 0); existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "category "+c.Name+" exists", *existing)
	}
	st := q.state()
	c.ID = st.next("categories")
	stored := *c
	stored.ParentID = copyInt64(c.ParentID)
	st.categories[c.ID] = stored
	return nil
}

func (q *memQueries) UpdateCategory(_ context.Context, c *inventory.Category) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.categories[c.ID]; !ok {
		return inventory.NewNotFoundError("category", c.ID)
	}
	if existing := q.categoryNameTaken(c.Name, c.ID); existing != nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "category "+c.Name+" exists", *existing)
	}
	stored := *c
	stored.ParentID = copyInt64(c.ParentID)
	st.categories[c.ID] = stored
	return nil
}

func (q *memQueries) DeleteCategory(_ context.Context, id int64) error {
	defer q.lock()()
	if _, ok := q.state().categories[id]; !ok {
		return inventory.NewNotFoundError("category", id)
	}
	delete(q.state().categories, id)
	return nil
}

func (q *memQueries) ListPromotions(_ context.Context, includeInactive bool) ([]inventory.Promotion, error) {
	defer q.lock()()
	var out []inventory.Promotion
	for _, p := range q.state().promotions {
		if p.IsDeleted || (!includeInactive && !p.IsActive) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (q *memQueries) GetPromotion(_ context.Context, id int64) (inventory.Promotion, error) {
	defer q.lock()()
	p, ok := q.state().promotions[id]
	if !ok {
		return inventory.Promotion{}, inventory.NewNotFoundError("promotion", id)
	}
	return p, nil
}

func (q *memQueries) promotionNameTaken(p *inventory.Promotion) error {
	if p.IsDeleted {
		return nil
	}
	for id, other := range q.state().promotions {
		if id != p.ID && !other.IsDeleted && strings.EqualFold(other.Name, p.Name) {
			return inventory.NewConflictError(inventory.ConflictPromotionNameTaken, "promotion "+p.Name+" exists", other)
		}
	}
	return nil
}

func (q *memQueries) InsertPromotion(_ context.Context, p *inventory.Promotion) error {
	defer q.lock()()
	if err := q.promotionNameTaken(p); err != nil {
		return err
	}
	st := q.state()
	p.ID = st.next("promotions")
	st.promotions[p.ID] = *p
	return nil
}

func (q *memQueries) UpdatePromotion(_ context.Context, p *inventory.Promotion) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.promotions[p.ID]; !ok {
		return inventory.NewNotFoundError("promotion", p.ID)
	}
	if err := q.promotionNameTaken(p); err != nil {
		return err
	}
	st.promotions[p.ID] = *p
	return nil
}

func (q *memQueries) ListCommissionPrograms(_ context.Context, ref *inventory.ProductRef) ([]inventory.CommissionProgram, error) {
	defer q.lock()()
	var out []inventory.CommissionProgram
	for _, c := range q.state().commissions {
		if ref != nil && (c.Family != ref.Family || c.ProductID != ref.ID) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *memQueries) InsertCommissionProgram(_ context.Context, c *inventory.CommissionProgram) error {
	defer q.lock()()
	st := q.state()
	c.ID = st.next("commission_programs")
	st.commissions[c.ID] = *c
	return nil
}

func (q *memQueries) DeleteCommissionProgram(_ context.Context, id int64) error {
	defer q.lock()()
	if _, ok := q.state().commissions[id]; !ok {
		return inventory.NewNotFoundError("commission program", id)
	}
	delete(q.state().commissions, id)
	return nil
}

// ---- reconciliations ----

func (q *memQueries) GetReconciliation(_ context.Context, id int64) (inventory.Reconciliation, error) {
	defer q.lock()()
	r, ok := q.state().reconciliations[id]
	if !ok {
		return inventory.Reconciliation{}, inventory.NewNotFoundError("reconciliation", id)
	}
	return r, nil
}

func (q *memQueries) GetReconciliationByDate(_ context.Context, date time.Time) (inventory.Reconciliation, error) {
	defer q.lock()()
	for _, r := range q.state().reconciliations {
		if r.Date.Equal(date) {
			return r, nil
		}
	}
	return inventory.Reconciliation{}, inventory.NewNotFoundError("reconciliation", date.Format("2006-01-02"))
}

func (q *memQueries) InsertReconciliation(_ context.Context, r *inventory.Reconciliation) error {
	defer q.lock()()
	st := q.state()
	for _, existing := range st.reconciliations {
		if existing.Date.Equal(r.Date) {
			return inventory.NewConflictError(inventory.ConflictNameTaken, "reconciliation date exists", existing.ID)
		}
	}
	r.ID = st.next("reconciliations")
	st.reconciliations[r.ID] = *r
	return nil
}

func (q *memQueries) UpdateReconciliation(_ context.Context, r *inventory.Reconciliation) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.reconciliations[r.ID]; !ok {
		return inventory.NewNotFoundError("reconciliation", r.ID)
	}
	c := *r
	c.ManagerLedgerJSON = copyRaw(r.ManagerLedgerJSON)
	c.SystemSnapshotJSON = copyRaw(r.SystemSnapshotJSON)
	st.reconciliations[r.ID] = c
	return nil
}

func (q *memQueries) ListReconciliations(_ context.Context, from, to time.Time) ([]inventory.Reconciliation, error) {
	defer q.lock()()
	var out []inventory.Reconciliation
	for _, r := range q.state().reconciliations {
		if !r.Date.Before(from) && r.Date.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ---- accounts ----

func (q *memQueries) CountUsers(_ context.Context) (int64, error) {
	defer q.lock()()
	return int64(len(q.state().users)), nil
}

func (q *memQueries) InsertUser(_ context.Context, u *inventory.User) error {
	defer q.lock()()
	st := q.state()
	for _, existing := range st.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return inventory.NewConflictError(inventory.ConflictNameTaken, "username "+u.Username+" is taken", existing.ID)
		}
	}
	u.ID = st.next("users")
	st.users[u.ID] = *u
	return nil
}

func (q *memQueries) GetUserByUsername(_ context.Context, username string) (inventory.User, error) {
	defer q.lock()()
	for _, u := range q.state().users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return inventory.User{}, inventory.NewNotFoundError("user", username)
}

func (q *memQueries) ListUsersByRole(_ context.Context, roles []string) ([]inventory.User, error) {
	defer q.lock()()
	var out []inventory.User
	for _, u := range q.state().users {
		for _, r := range roles {
			if u.Role == r {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memQueries) GetSetting(_ context.Context, key string) (inventory.AppSetting, error) {
	defer q.lock()()
	s, ok := q.state().settings[key]
	if !ok {
		return inventory.AppSetting{}, inventory.NewNotFoundError("setting", key)
	}
	return s, nil
}

func (q *memQueries) UpsertSetting(_ context.Context, s *inventory.AppSetting) error {
	defer q.lock()()
	q.state().settings[s.Key] = *s
	return nil
}

func (q *memQueries) InsertActivity(_ context.Context, a *inventory.ActivityLog) error {
	defer q.lock()()
	st := q.state()
	a.ID = st.next("activity_logs")
	c := *a
	c.Details = copyRaw(a.Details)
	st.activity = append(st.activity, c)
	return nil
}

func (q *memQueries) ListActivity(_ context.Context, from, to time.Time, limit int) ([]inventory.ActivityLog, error) {
	defer q.lock()()
	var out []inventory.ActivityLog
	for i := len(q.state().activity) - 1; i >= 0; i-- {
		a := q.state().activity[i]
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *memQueries) InsertNotification(_ context.Context, n *inventory.Notification) error {
	defer q.lock()()
	st := q.state()
	n.ID = st.next("notifications")
	st.notifications[n.ID] = *n
	return nil
}

func (q *memQueries) CountUnread(_ context.Context, userID int64) (int64, error) {
	defer q.lock()()
	var n int64
	for _, note := range q.state().notifications {
		if note.UserID == userID && !note.IsRead {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) ListNotifications(_ context.Context, userID int64, limit int) ([]inventory.Notification, error) {
	defer q.lock()()
	var out []inventory.Notification
	for _, note := range q.state().notifications {
		if note.UserID == userID {
			out = append(out, note)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) MarkNotificationsRead(_ context.Context, userID int64) error {
	defer q.lock()()
	st := q.state()
	for id, note := range st.notifications {
		if note.UserID == userID && !note.IsRead {
			note.IsRead = true
			st.notifications[id] = note
		}
	}
	return nil
}

func (q *memQueries) ListAnnouncements(_ context.Context, includeInactive bool) ([]inventory.Announcement, error) {
	defer q.lock()()
	var out []inventory.Announcement
	for _, a := range q.state().announcements {
		if a.IsActive || includeInactive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (q *memQueries) GetAnnouncement(_ context.Context, id int64) (inventory.Announcement, error) {
	defer q.lock()()
	a, ok := q.state().announcements[id]
	if !ok {
		return inventory.Announcement{}, inventory.NewNotFoundError("announcement", id)
	}
	return a, nil
}

func (q *memQueries) InsertAnnouncement(_ context.Context, a *inventory.Announcement) error {
	defer q.lock()()
	st := q.state()
	a.ID = st.next("announcements")
	st.announcements[a.ID] = *a
	return nil
}

func (q *memQueries) UpdateAnnouncement(_ context.Context, a *inventory.Announcement) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.announcements[a.ID]; !ok {
		return inventory.NewNotFoundError("announcement", a.ID)
	}
	st.announcements[a.ID] = *a
	return nil
}

func (q *memQueries) DeleteAnnouncement(_ context.Context, id int64) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.announcements[id]; !ok {
		return inventory.NewNotFoundError("announcement", id)
	}
	delete(st.announcements, id)
	return nil
}

func (q *memQueries) InsertFeedback(_ context.Context, f *inventory.Feedback) error {
	defer q.lock()()
	st := q.state()
	f.ID = st.next("feedback")
	st.feedback[f.ID] = *f
	return nil
}

func (q *memQueries) GetFeedback(_ context.Context, id int64) (inventory.Feedback, error) {
	defer q.lock()()
	f, ok := q.state().feedback[id]
	if !ok {
		return inventory.Feedback{}, inventory.NewNotFoundError("feedback", id)
	}
	return f, nil
}

func (q *memQueries) ListFeedback(_ context.Context, status *inventory.FeedbackStatus, limit int) ([]inventory.Feedback, error) {
	defer q.lock()()
	var out []inventory.Feedback
	for _, f := range q.state().feedback {
		if status == nil || f.Status == *status {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) UpdateFeedback(_ context.Context, f *inventory.Feedback) error {
	defer q.lock()()
	st := q.state()
	if _, ok := st.feedback[f.ID]; !ok {
		return inventory.NewNotFoundError("feedback", f.ID)
	}
	st.feedback[f.ID] = *f
	return nil
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
