// Package inventory provides the tire shop catalog, stock ledger and masters.
package inventory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/tireshop-ledger/pkg/pricing"
)

// Family discriminates the three product families
// ประเภทสินค้า: ยาง ล้อแม็ก อะไหล่
type Family string

const (
	FamilyTire      Family = "tire"       // ยาง
	FamilyWheel     Family = "wheel"      // ล้อแม็ก
	FamilySparePart Family = "spare_part" // อะไหล่
)

// Families lists every family in report order.
var Families = []Family{FamilyTire, FamilyWheel, FamilySparePart}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyTire || f == FamilyWheel || f == FamilySparePart
}

// ProductRef points at one product row of a family.
type ProductRef struct {
	Family Family `json:"family"`
	ID     int64  `json:"id"`
}

func (r ProductRef) String() string {
	return fmt.Sprintf("%s/%d", r.Family, r.ID)
}

// ProductBase holds the columns shared by every family
// ข้อมูลพื้นฐานที่สินค้าทุกประเภทมีร่วมกัน
type ProductBase struct {
	ID          int64               `json:"id" db:"id"`
	Quantity    int64               `json:"quantity" db:"quantity"`                   // จำนวนคงเหลือ
	CostOnline  decimal.NullDecimal `json:"cost_online" db:"cost_online"`             // ต้นทุนออนไลน์
	Wholesale1  decimal.NullDecimal `json:"wholesale_price_1" db:"wholesale_price_1"` // ราคาส่ง 1
	Wholesale2  decimal.NullDecimal `json:"wholesale_price_2" db:"wholesale_price_2"` // ราคาส่ง 2
	RetailPrice decimal.Decimal     `json:"retail_price" db:"retail_price"`           // ราคาขายปลีก
	IsDeleted   bool                `json:"is_deleted" db:"is_deleted"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// Base returns the shared columns.
func (b *ProductBase) Base() *ProductBase { return b }

// Product is implemented by *Tire, *Wheel and *SparePart.
type Product interface {
	Base() *ProductBase
	Family() Family
	// NaturalKey is the normalized identity that must be unique among non-deleted rows.
	NaturalKey() string
	// GroupBrand is the brand used to group report rows.
	GroupBrand() string
	// DisplayName is a human label for logs, notifications and reports.
	DisplayName() string
	// Costs returns the family's cost columns keyed by column name.
	Costs() map[string]decimal.NullDecimal
	// Clone returns a deep copy.
	Clone() Product
}

// Ref returns the reference of p.
func Ref(p Product) ProductRef {
	return ProductRef{Family: p.Family(), ID: p.Base().ID}
}

// TireAttributes are the descriptive columns of a tire, safe for every role.
type TireAttributes struct {
	Brand             string `json:"brand" db:"brand"`
	Model             string `json:"model" db:"model"`
	Size              string `json:"size" db:"size"`
	YearOfManufacture *int   `json:"year_of_manufacture" db:"year_of_manufacture"` // ปีที่ผลิต
	PromotionID       *int64 `json:"promotion_id" db:"promotion_id"`
	IgnoreAnalysis    bool   `json:"ignore_analysis" db:"ignore_analysis"` // ไม่นำไปวิเคราะห์ยอดขาย
}

// Tire is one tire SKU
// ยางหนึ่งรายการ
type Tire struct {
	ProductBase
	TireAttributes
	CostSC     decimal.NullDecimal `json:"cost_sc" db:"cost_sc"`
	CostDunlop decimal.NullDecimal `json:"cost_dunlop" db:"cost_dunlop"`
}

func (t *Tire) Family() Family { return FamilyTire }

func (t *Tire) NaturalKey() string {
	return naturalKey(t.Brand, t.Model, t.Size)
}

func (t *Tire) GroupBrand() string { return t.Brand }

func (t *Tire) DisplayName() string {
	return fmt.Sprintf("%s %s %s", t.Brand, t.Model, t.Size)
}

func (t *Tire) Costs() map[string]decimal.NullDecimal {
	return map[string]decimal.NullDecimal{
		"cost_sc":     t.CostSC,
		"cost_dunlop": t.CostDunlop,
		"cost_online": t.CostOnline,
	}
}

func (t *Tire) Clone() Product {
	c := *t
	if t.YearOfManufacture != nil {
		y := *t.YearOfManufacture
		c.YearOfManufacture = &y
	}
	c.PromotionID = cloneInt64(t.PromotionID)
	return &c
}

// WheelAttributes are the descriptive columns of a wheel.
type WheelAttributes struct {
	Brand    string  `json:"brand" db:"brand"`
	Model    string  `json:"model" db:"model"`
	Diameter string  `json:"diameter" db:"diameter"` // ขอบ
	PCD      string  `json:"pcd" db:"pcd"`
	Width    string  `json:"width" db:"width"`
	ET       *string `json:"et" db:"et"`
	Color    *string `json:"color" db:"color"`
	ImageURL *string `json:"image_url" db:"image_url"`
}

// Wheel is one wheel (rim) SKU
// ล้อแม็กหนึ่งรายการ
type Wheel struct {
	ProductBase
	WheelAttributes
	Cost decimal.NullDecimal `json:"cost" db:"cost"`
}

func (w *Wheel) Family() Family { return FamilyWheel }

func (w *Wheel) NaturalKey() string {
	return naturalKey(w.Brand, w.Model, w.Diameter, w.PCD, w.Width, deref(w.ET), deref(w.Color))
}

func (w *Wheel) GroupBrand() string { return w.Brand }

func (w *Wheel) DisplayName() string {
	return fmt.Sprintf("%s %s %s\" %s", w.Brand, w.Model, w.Diameter, w.PCD)
}

func (w *Wheel) Costs() map[string]decimal.NullDecimal {
	return map[string]decimal.NullDecimal{
		"cost":        w.Cost,
		"cost_online": w.CostOnline,
	}
}

func (w *Wheel) Clone() Product {
	c := *w
	c.ET = cloneString(w.ET)
	c.Color = cloneString(w.Color)
	c.ImageURL = cloneString(w.ImageURL)
	return &c
}

// SparePartAttributes are the descriptive columns of a spare part.
type SparePartAttributes struct {
	Name        string  `json:"name" db:"name"`
	PartNumber  *string `json:"part_number" db:"part_number"`
	Brand       *string `json:"brand" db:"brand"`
	Description *string `json:"description" db:"description"`
	CategoryID  *int64  `json:"category_id" db:"category_id"`
	ImageURL    *string `json:"image_url" db:"image_url"`
}

// SparePart is one spare part SKU
// อะไหล่หนึ่งรายการ
type SparePart struct {
	ProductBase
	SparePartAttributes
	Cost decimal.NullDecimal `json:"cost" db:"cost"`
}

func (s *SparePart) Family() Family { return FamilySparePart }

// NaturalKey is (name, part_number) when a part number exists, else (name, brand).
func (s *SparePart) NaturalKey() string {
	if pn := strings.TrimSpace(deref(s.PartNumber)); pn != "" {
		return naturalKey(s.Name, "#"+pn)
	}
	return naturalKey(s.Name, deref(s.Brand))
}

func (s *SparePart) GroupBrand() string {
	if b := strings.TrimSpace(deref(s.Brand)); b != "" {
		return b
	}
	return NoBrand
}

func (s *SparePart) DisplayName() string {
	if pn := deref(s.PartNumber); pn != "" {
		return fmt.Sprintf("%s (%s)", s.Name, pn)
	}
	return s.Name
}

func (s *SparePart) Costs() map[string]decimal.NullDecimal {
	return map[string]decimal.NullDecimal{
		"cost":        s.Cost,
		"cost_online": s.CostOnline,
	}
}

func (s *SparePart) Clone() Product {
	c := *s
	c.PartNumber = cloneString(s.PartNumber)
	c.Brand = cloneString(s.Brand)
	c.Description = cloneString(s.Description)
	c.CategoryID = cloneInt64(s.CategoryID)
	c.ImageURL = cloneString(s.ImageURL)
	return &c
}

// NoBrand groups spare parts without a brand.
const NoBrand = "ไม่ระบุยี่ห้อ"

// NoCategory groups spare parts without a category.
const NoCategory = "ไม่ระบุหมวดหมู่"

func naturalKey(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(norm, "|")
}

// ProductView is a product as returned to a caller. It never carries the
// internal record; prices are already filtered for the caller's role.
// ข้อมูลสินค้าที่กรองราคาตามบทบาทแล้ว
type ProductView struct {
	Family    Family               `json:"family"`
	ID        int64                `json:"id"`
	Name      string               `json:"name"`
	Quantity  int64                `json:"quantity"`
	IsDeleted bool                 `json:"is_deleted"`
	Tire      *TireAttributes      `json:"tire,omitempty"`
	Wheel     *WheelAttributes     `json:"wheel,omitempty"`
	SparePart *SparePartAttributes `json:"spare_part,omitempty"`
	Prices    pricing.Prices       `json:"prices"`
	Barcodes  []string             `json:"barcodes,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// MovementType is the kind of stock event.
type MovementType string

const (
	MovementIn     MovementType = "IN"     // รับเข้า
	MovementOut    MovementType = "OUT"    // ขายออก
	MovementReturn MovementType = "RETURN" // รับคืน
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	return t == MovementIn || t == MovementOut || t == MovementReturn
}

// Sign returns +1 for stock-increasing types and -1 for OUT.
func (t MovementType) Sign() int64 {
	if t == MovementOut {
		return -1
	}
	return 1
}

// Signed returns the signed quantity change of a movement.
func Signed(t MovementType, qty int64) int64 {
	return t.Sign() * qty
}

// Channel names with protocol meaning. They are seeded at init and never renamed.
const (
	ChannelStorefront = "หน้าร้าน"
	ChannelOnline     = "ออนไลน์"
	ChannelWholesale  = "ค้าส่ง"
	ChannelPurchaseIn = "ซื้อเข้า"
	ChannelReturnIn   = "รับคืน"
)

// DefaultChannels are the sales channels that must exist.
var DefaultChannels = []string{ChannelStorefront, ChannelOnline, ChannelWholesale, ChannelPurchaseIn, ChannelReturnIn}

// DefaultPlatforms are seeded online platforms.
var DefaultPlatforms = []string{"Shopee", "Lazada", "TikTok", "Facebook", "Line@"}

// Return customer types. Any non-empty value is accepted; these are the ones the shop uses.
const (
	ReturnCustomerStorefront = "ลูกค้าหน้าร้าน"
	ReturnCustomerWholesale  = "ร้านค้าส่ง"
	ReturnCustomerOnline     = "ออนไลน์"
)

// Movement is one stock event in a family's ledger
// รายการเคลื่อนไหวสต็อกหนึ่งรายการ
type Movement struct {
	ID                  int64           `json:"id" db:"id"`
	Family              Family          `json:"family" db:"-"`
	ProductID           int64           `json:"product_id" db:"product_id"`
	Timestamp           time.Time       `json:"timestamp" db:"timestamp"`
	Type                MovementType    `json:"type" db:"type"`
	QuantityChange      int64           `json:"quantity_change" db:"quantity_change"`
	RemainingQuantity   int64           `json:"remaining_quantity" db:"remaining_quantity"` // ยอดคงเหลือหลังรายการนี้
	Notes               *string         `json:"notes" db:"notes"`
	ImageURL            *string         `json:"image_url" db:"image_url"`
	UserID              *int64          `json:"user_id" db:"user_id"`
	ChannelID           *int64          `json:"channel_id" db:"channel_id"`
	OnlinePlatformID    *int64          `json:"online_platform_id" db:"online_platform_id"`
	WholesaleCustomerID *int64          `json:"wholesale_customer_id" db:"wholesale_customer_id"`
	ReturnCustomerType  *string         `json:"return_customer_type" db:"return_customer_type"`
	CommissionAmount    decimal.Decimal `json:"commission_amount" db:"commission_amount"`
}

// Ref returns the owning product.
func (m *Movement) Ref() ProductRef {
	return ProductRef{Family: m.Family, ID: m.ProductID}
}

// Signed returns the signed quantity of m.
func (m *Movement) Signed() int64 {
	return Signed(m.Type, m.QuantityChange)
}

// Before reports whether m sorts strictly before (ts, id) in ledger order.
func (m *Movement) Before(ts time.Time, id int64) bool {
	if m.Timestamp.Equal(ts) {
		return m.ID < id
	}
	return m.Timestamp.Before(ts)
}

// Clone returns a deep copy.
func (m Movement) Clone() Movement {
	m.Notes = cloneString(m.Notes)
	m.ImageURL = cloneString(m.ImageURL)
	m.UserID = cloneInt64(m.UserID)
	m.ChannelID = cloneInt64(m.ChannelID)
	m.OnlinePlatformID = cloneInt64(m.OnlinePlatformID)
	m.WholesaleCustomerID = cloneInt64(m.WholesaleCustomerID)
	m.ReturnCustomerType = cloneString(m.ReturnCustomerType)
	return m
}

// MovementDeletion is the audit record written before a movement is removed.
type MovementDeletion struct {
	ID         int64           `json:"id" db:"id"`
	Family     Family          `json:"family" db:"family"`
	MovementID int64           `json:"movement_id" db:"movement_id"`
	ProductID  int64           `json:"product_id" db:"product_id"`
	DeletedBy  *int64          `json:"deleted_by" db:"deleted_by"`
	DeletedAt  time.Time       `json:"deleted_at" db:"deleted_at"`
	Snapshot   json.RawMessage `json:"snapshot" db:"snapshot"`
}

// Barcode maps a scanned string to one product
// บาร์โค้ดที่ผูกกับสินค้าหนึ่งรายการ
type Barcode struct {
	Code      string    `json:"barcode" db:"barcode"`
	Family    Family    `json:"product_type" db:"product_type"`
	ProductID int64     `json:"product_id" db:"product_id"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Ref returns the owner of the barcode.
func (b Barcode) Ref() ProductRef {
	return ProductRef{Family: b.Family, ID: b.ProductID}
}

// Promotion is a named promotion rule attached to tires
// โปรโมชันสำหรับยาง
type Promotion struct {
	ID        int64                 `json:"id" db:"id"`
	Name      string                `json:"name" db:"name"`
	Type      pricing.PromotionType `json:"type" db:"type"`
	Value1    decimal.Decimal       `json:"value1" db:"value1"`
	Value2    decimal.NullDecimal   `json:"value2" db:"value2"`
	IsActive  bool                  `json:"is_active" db:"is_active"`
	IsDeleted bool                  `json:"is_deleted" db:"is_deleted"`
	CreatedAt time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt time.Time             `json:"updated_at" db:"updated_at"`
}

// Rule returns the numeric rule of the promotion.
func (p *Promotion) Rule() pricing.Rule {
	return pricing.Rule{Type: p.Type, Value1: p.Value1, Value2: p.Value2}
}

// Category is a spare-part category node
// หมวดหมู่อะไหล่
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ParentID  *int64    `json:"parent_id" db:"parent_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CategoryNode is a category with its children.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

// MasterKind selects one of the name-only master tables.
type MasterKind string

const (
	MasterChannel  MasterKind = "sales_channels"
	MasterPlatform MasterKind = "online_platforms"
	MasterCustomer MasterKind = "wholesale_customers"
)

// Master is a row of a name-unique master table (channel, platform, customer).
type Master struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CommissionProgram grants a fixed per-unit bonus on storefront sales of one product
// โปรแกรมค่าคอมมิชชันต่อชิ้น
type CommissionProgram struct {
	ID            int64           `json:"id" db:"id"`
	Family        Family          `json:"item_type" db:"item_type"`
	ProductID     int64           `json:"item_id" db:"item_id"`
	StartDate     time.Time       `json:"start_date" db:"start_date"`
	EndDate       *time.Time      `json:"end_date" db:"end_date"` // nil = ไม่มีกำหนดสิ้นสุด
	AmountPerItem decimal.Decimal `json:"amount_per_item" db:"amount_per_item"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Covers reports whether the program applies on date, a Bangkok midnight.
func (c *CommissionProgram) Covers(date time.Time) bool {
	if date.Before(c.StartDate) {
		return false
	}
	return c.EndDate == nil || !date.After(*c.EndDate)
}

// Overlaps reports whether the two programs share at least one day.
func (c *CommissionProgram) Overlaps(o *CommissionProgram) bool {
	if c.EndDate != nil && o.StartDate.After(*c.EndDate) {
		return false
	}
	if o.EndDate != nil && c.StartDate.After(*o.EndDate) {
		return false
	}
	return true
}

// TireCostHistory is an immutable record of a cost_sc change.
type TireCostHistory struct {
	ID        int64               `json:"id" db:"id"`
	TireID    int64               `json:"tire_id" db:"tire_id"`
	ChangedAt time.Time           `json:"changed_at" db:"changed_at"`
	OldCost   decimal.NullDecimal `json:"old_cost" db:"old_cost"`
	NewCost   decimal.NullDecimal `json:"new_cost" db:"new_cost"`
	UserID    *int64              `json:"user_id" db:"user_id"`
	Note      *string             `json:"note" db:"note"`
}

// ReconciliationStatus is the state of a daily reconciliation.
type ReconciliationStatus string

const (
	ReconciliationPending   ReconciliationStatus = "pending"
	ReconciliationCompleted ReconciliationStatus = "completed"
)

// Reconciliation pairs the manager's ledger with the system snapshot of one day
// การกระทบยอดประจำวัน
type Reconciliation struct {
	ID                 int64                `json:"id" db:"id"`
	Date               time.Time            `json:"reconciliation_date" db:"reconciliation_date"`
	ManagerID          *int64               `json:"manager_id" db:"manager_id"`
	Status             ReconciliationStatus `json:"status" db:"status"`
	ManagerLedgerJSON  json.RawMessage      `json:"manager_ledger_json" db:"manager_ledger_json"`
	SystemSnapshotJSON json.RawMessage      `json:"system_snapshot_json" db:"system_snapshot_json"`
	CreatedAt          time.Time            `json:"created_at" db:"created_at"`
	CompletedAt        *time.Time           `json:"completed_at" db:"completed_at"`
}

// User is an account of the shop system.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ActivityLog records who did what, best effort.
type ActivityLog struct {
	ID        int64           `json:"id" db:"id"`
	UserID    *int64          `json:"user_id" db:"user_id"`
	Username  string          `json:"username" db:"username"`
	Action    string          `json:"action" db:"action"`
	Target    string          `json:"target" db:"target"`
	Details   json.RawMessage `json:"details" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Notification is a message addressed to one user.
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Link      *string   `json:"link" db:"link"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Announcement is a notice shown to every user
// ประกาศถึงพนักงาน
type Announcement struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedBy *int64    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FeedbackStatus is the review state of a feedback message.
type FeedbackStatus string

const (
	FeedbackOpen     FeedbackStatus = "open"
	FeedbackResolved FeedbackStatus = "resolved"
)

// Feedback is a message from a user to the administrators
// ข้อเสนอแนะจากผู้ใช้งาน
type Feedback struct {
	ID         int64          `json:"id" db:"id"`
	UserID     *int64         `json:"user_id" db:"user_id"`
	Username   string         `json:"username" db:"username"`
	Message    string         `json:"message" db:"message"`
	Status     FeedbackStatus `json:"status" db:"status"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at" db:"resolved_at"`
}

// AppSetting is a key/value configuration row.
type AppSetting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Lead-time setting keys seeded at init (days).
const (
	SettingDefaultTire      = "default_tire"
	SettingDefaultWheel     = "default_wheel"
	SettingDefaultSparePart = "default_spare_part"
)

// DefaultSettings are inserted when missing.
var DefaultSettings = map[string]string{
	SettingDefaultTire:      "7",
	SettingDefaultWheel:     "14",
	SettingDefaultSparePart: "3",
}

// WholesaleCustomerSummary aggregates ledger activity of one wholesale customer.
type WholesaleCustomerSummary struct {
	CustomerID     int64      `json:"customer_id"`
	CustomerName   string     `json:"customer_name"`
	OutQuantity    int64      `json:"out_quantity"`
	ReturnQuantity int64      `json:"return_quantity"`
	MovementCount  int        `json:"movement_count"`
	LastMovementAt *time.Time `json:"last_movement_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// SearchFields returns the columns a listing query matches against.
func SearchFields(p Product) []string {
	switch v := p.(type) {
	case *Tire:
		return []string{v.Brand, v.Model, v.Size}
	case *Wheel:
		return []string{v.Brand, v.Model, v.Diameter, v.PCD}
	case *SparePart:
		return []string{v.Name, deref(v.PartNumber), deref(v.Brand)}
	}
	return nil
}

// MatchesQuery reports whether query is a case-insensitive substring of any
// search field of p. An empty query matches everything.
func MatchesQuery(p Product, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, f := range SearchFields(p) {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
