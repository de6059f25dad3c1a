package inventory

import (
	"context"
	"time"
)

// ProductFilter narrows a product listing
// เงื่อนไขการค้นหาสินค้า
type ProductFilter struct {
	Family Family
	// Query is a case-insensitive substring over brand/model/size, or
	// name/part_number/brand for spare parts.
	Query          string
	Brand          string
	CategoryID     *int64
	IncludeDeleted bool
}

// MovementFilter narrows a ledger listing. From is inclusive, To exclusive.
type MovementFilter struct {
	Family              Family
	ProductID           *int64
	From                *time.Time
	To                  *time.Time
	ChannelID           *int64
	OnlinePlatformID    *int64
	WholesaleCustomerID *int64
	Type                *MovementType
}

// Matches reports whether m passes the filter.
func (f MovementFilter) Matches(m *Movement) bool {
	switch {
	case f.Family != "" && m.Family != f.Family:
		return false
	case f.ProductID != nil && m.ProductID != *f.ProductID:
		return false
	case f.From != nil && m.Timestamp.Before(*f.From):
		return false
	case f.To != nil && !m.Timestamp.Before(*f.To):
		return false
	case f.ChannelID != nil && (m.ChannelID == nil || *m.ChannelID != *f.ChannelID):
		return false
	case f.OnlinePlatformID != nil && (m.OnlinePlatformID == nil || *m.OnlinePlatformID != *f.OnlinePlatformID):
		return false
	case f.WholesaleCustomerID != nil && (m.WholesaleCustomerID == nil || *m.WholesaleCustomerID != *f.WholesaleCustomerID):
		return false
	case f.Type != nil && m.Type != *f.Type:
		return false
	}
	return true
}

// ProductQueries persists catalog rows.
type ProductQueries interface {
	GetProduct(ctx context.Context, ref ProductRef) (Product, error)
	// LockProduct reads the product and takes its row lock for the rest of the
	// transaction. It fails with ErrContention when another writer holds it.
	LockProduct(ctx context.Context, ref ProductRef) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	// InsertProduct stores p and assigns its ID. A live duplicate natural key
	// yields ConflictError DuplicateNaturalKey.
	InsertProduct(ctx context.Context, p Product) error
	// UpdateProduct writes every attribute except quantity.
	UpdateProduct(ctx context.Context, p Product) error
	SetProductQuantity(ctx context.Context, ref ProductRef, quantity int64) error
	ListBrands(ctx context.Context, family Family) ([]string, error)
	InsertCostHistory(ctx context.Context, h *TireCostHistory) error
	ListCostHistory(ctx context.Context, tireID int64) ([]TireCostHistory, error)
}

// BarcodeQueries persists the barcode index.
type BarcodeQueries interface {
	// InsertBarcode fails with ConflictError BarcodeCollision carrying the
	// existing Barcode when the code is taken.
	InsertBarcode(ctx context.Context, b *Barcode) error
	GetBarcode(ctx context.Context, code string) (Barcode, error)
	DeleteBarcode(ctx context.Context, code string) error
	ListBarcodes(ctx context.Context, ref ProductRef) ([]Barcode, error)
	// SetPrimaryBarcode marks code primary and clears the flag on the owner's other codes.
	SetPrimaryBarcode(ctx context.Context, ref ProductRef, code string) error
}

// MovementQueries persists the per-family ledgers.
type MovementQueries interface {
	InsertMovement(ctx context.Context, m *Movement) error
	GetMovement(ctx context.Context, family Family, id int64) (Movement, error)
	// UpdateMovement writes every column of m, including remaining_quantity.
	UpdateMovement(ctx context.Context, m *Movement) error
	DeleteMovement(ctx context.Context, family Family, id int64) error
	// SumSignedBefore sums signed changes of ref strictly before (ts, id).
	SumSignedBefore(ctx context.Context, ref ProductRef, ts time.Time, id int64) (int64, error)
	// ListMovementsFrom returns movements of ref at or after (ts, id) in ledger order.
	ListMovementsFrom(ctx context.Context, ref ProductRef, ts time.Time, id int64) ([]Movement, error)
	// UpdateRemainingBatch rewrites remaining_quantity for ids[i] to remaining[i]
	// in one statement.
	UpdateRemainingBatch(ctx context.Context, family Family, ids, remaining []int64) error
	// ListMovements returns matching movements in (timestamp, id) order.
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	// SumSignedByProductBefore returns the signed sum strictly before ts for
	// every product of family that has any movement before ts.
	SumSignedByProductBefore(ctx context.Context, family Family, ts time.Time) (map[int64]int64, error)
	// CountMovementsReferencing counts movements of all families pointing at a master row.
	CountMovementsReferencing(ctx context.Context, kind MasterKind, id int64) (int64, error)
	InsertMovementDeletion(ctx context.Context, d *MovementDeletion) error
	ListMovementDeletions(ctx context.Context, ref ProductRef, from, to time.Time) ([]MovementDeletion, error)
}

// MasterQueries persists promotions, categories, name masters and commission programs.
type MasterQueries interface {
	ListMasters(ctx context.Context, kind MasterKind) ([]Master, error)
	GetMaster(ctx context.Context, kind MasterKind, id int64) (Master, error)
	// InsertMaster fails with ConflictError NameTaken on a duplicate name.
	InsertMaster(ctx context.Context, kind MasterKind, m *Master) error
	RenameMaster(ctx context.Context, kind MasterKind, id int64, name string) error
	DeleteMaster(ctx context.Context, kind MasterKind, id int64) error

	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	InsertCategory(ctx context.Context, c *Category) error
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id int64) error

	ListPromotions(ctx context.Context, includeInactive bool) ([]Promotion, error)
	GetPromotion(ctx context.Context, id int64) (Promotion, error)
	// InsertPromotion fails with ConflictError PromotionNameTaken on a duplicate name.
	InsertPromotion(ctx context.Context, p *Promotion) error
	UpdatePromotion(ctx context.Context, p *Promotion) error

	ListCommissionPrograms(ctx context.Context, ref *ProductRef) ([]CommissionProgram, error)
	InsertCommissionProgram(ctx context.Context, c *CommissionProgram) error
	DeleteCommissionProgram(ctx context.Context, id int64) error
}

// ReconciliationQueries persists daily reconciliations.
type ReconciliationQueries interface {
	GetReconciliation(ctx context.Context, id int64) (Reconciliation, error)
	GetReconciliationByDate(ctx context.Context, date time.Time) (Reconciliation, error)
	// InsertReconciliation fails with ConflictError when the date already exists.
	InsertReconciliation(ctx context.Context, r *Reconciliation) error
	UpdateReconciliation(ctx context.Context, r *Reconciliation) error
	ListReconciliations(ctx context.Context, from, to time.Time) ([]Reconciliation, error)
}

// AccountQueries persists users, settings and the best-effort side tables.
type AccountQueries interface {
	CountUsers(ctx context.Context) (int64, error)
	InsertUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsersByRole(ctx context.Context, roles []string) ([]User, error)

	GetSetting(ctx context.Context, key string) (AppSetting, error)
	UpsertSetting(ctx context.Context, s *AppSetting) error

	InsertActivity(ctx context.Context, a *ActivityLog) error
	ListActivity(ctx context.Context, from, to time.Time, limit int) ([]ActivityLog, error)

	InsertNotification(ctx context.Context, n *Notification) error
	CountUnread(ctx context.Context, userID int64) (int64, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64) error
}

// BoardQueries persists announcements and user feedback.
type BoardQueries interface {
	// ListAnnouncements returns newest first.
	ListAnnouncements(ctx context.Context, includeInactive bool) ([]Announcement, error)
	GetAnnouncement(ctx context.Context, id int64) (Announcement, error)
	InsertAnnouncement(ctx context.Context, a *Announcement) error
	UpdateAnnouncement(ctx context.Context, a *Announcement) error
	DeleteAnnouncement(ctx context.Context, id int64) error

	InsertFeedback(ctx context.Context, f *Feedback) error
	GetFeedback(ctx context.Context, id int64) (Feedback, error)
	// ListFeedback returns newest first; a nil status means every status.
	ListFeedback(ctx context.Context, status *FeedbackStatus, limit int) ([]Feedback, error)
	UpdateFeedback(ctx context.Context, f *Feedback) error
}

// Queries is the full statement set, usable inside or outside a transaction.
type Queries interface {
	ProductQueries
	BarcodeQueries
	MovementQueries
	MasterQueries
	ReconciliationQueries
	AccountQueries
	BoardQueries
}

// Storage is the persistence boundary of the core
// ชั้นจัดเก็บข้อมูลของระบบ
type Storage interface {
	Queries
	// InTx runs fn in one read-committed transaction. Any error returned by fn
	// rolls back every statement it issued.
	InTx(ctx context.Context, fn func(q Queries) error) error
	// InReadTx runs fn against one consistent snapshot. Writes issued by fn
	// are never persisted.
	InReadTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
