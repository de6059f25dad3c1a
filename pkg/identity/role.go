// Package identity resolves the acting principal and the shop clock.
package identity

import (
	"context"
	"fmt"
)

// Role is the permission tag carried by every authenticated principal
// บทบาทของผู้ใช้งานที่ผ่านการยืนยันตัวตนแล้ว
type Role string

const (
	RoleAdmin          Role = "admin"           // ผู้ดูแลระบบ
	RoleEditor         Role = "editor"          // ผู้แก้ไขข้อมูล
	RoleRetailSales    Role = "retail_sales"    // พนักงานขายหน้าร้าน
	RoleWholesaleSales Role = "wholesale_sales" // พนักงานขายส่ง
	RoleViewer         Role = "viewer"          // ผู้ดูอย่างเดียว
	RoleAccountant     Role = "accountant"      // ฝ่ายบัญชี
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleAdmin, RoleEditor, RoleRetailSales, RoleWholesaleSales, RoleViewer, RoleAccountant}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller of a core operation
// ผู้เรียกใช้งานที่ผ่านการยืนยันตัวตน
type Principal struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// System is the principal used by bootstrap and maintenance jobs.
var System = Principal{Username: "system", Role: RoleAdmin}

// Operation names a guarded core operation.
type Operation string

const (
	OpViewCatalog        Operation = "view_catalog"
	OpEditCatalog        Operation = "edit_catalog"
	OpDeleteProduct      Operation = "delete_product"
	OpRecordMovement     Operation = "record_movement"
	OpAdminMovement      Operation = "edit_movement"
	OpManagePromotions   Operation = "manage_promotions"
	OpManageMasters      Operation = "manage_masters"
	OpReconcile          Operation = "reconcile"
	OpViewReports        Operation = "view_reports"
	OpViewCosts          Operation = "view_costs"
	OpManageSettings     Operation = "manage_settings"
	OpReadNotifications  Operation = "read_notifications"
	OpManageUsers        Operation = "manage_users"
	OpViewWholesaleStats Operation = "view_wholesale_stats"
	OpManageAnnouncement Operation = "manage_announcements"
	OpSendFeedback       Operation = "send_feedback"
	OpReviewFeedback     Operation = "review_feedback"
)

var permissions = map[Operation][]Role{
	OpViewCatalog:        Roles,
	OpReadNotifications:  Roles,
	OpEditCatalog:        {RoleAdmin, RoleEditor},
	OpDeleteProduct:      {RoleAdmin},
	OpRecordMovement:     {RoleAdmin, RoleEditor, RoleRetailSales, RoleWholesaleSales},
	OpAdminMovement:      {RoleAdmin},
	OpManagePromotions:   {RoleAdmin, RoleEditor},
	OpManageMasters:      {RoleAdmin, RoleEditor},
	OpReconcile:          {RoleAdmin, RoleAccountant},
	OpViewReports:        {RoleAdmin, RoleAccountant, RoleEditor},
	OpViewCosts:          {RoleAdmin, RoleAccountant},
	OpManageSettings:     {RoleAdmin},
	OpManageUsers:        {RoleAdmin},
	OpViewWholesaleStats: {RoleAdmin, RoleAccountant, RoleWholesaleSales},
	OpManageAnnouncement: {RoleAdmin, RoleEditor},
	OpSendFeedback:       Roles,
	OpReviewFeedback:     {RoleAdmin},
}

// Can reports whether the principal may perform op.
func (p Principal) Can(op Operation) bool {
	for _, r := range permissions[op] {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Authorize returns a PermissionDeniedError when p may not perform op
// ตรวจสอบสิทธิ์ก่อนเปลี่ยนแปลงสถานะใดๆ
func Authorize(p Principal, op Operation) error {
	if !p.Role.Valid() || !p.Can(op) {
		return &PermissionDeniedError{Role: p.Role, Operation: op}
	}
	return nil
}

// PermissionDeniedError is returned when the caller's role does not allow an operation
// ข้อผิดพลาดเมื่อบทบาทไม่มีสิทธิ์ทำรายการ
type PermissionDeniedError struct {
	Role      Role      `json:"role"`
	Operation Operation `json:"operation"`
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: role %q may not %s", e.Role, e.Operation)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext extracts the principal placed by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
