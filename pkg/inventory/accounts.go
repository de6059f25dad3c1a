package inventory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// CreateUser adds an account with a bcrypt-hashed password
// สร้างบัญชีผู้ใช้
func (m *Manager) CreateUser(ctx context.Context, p identity.Principal, username, password string, role identity.Role) (User, error) {
	if err := m.authorize(p, identity.OpManageUsers); err != nil {
		return User{}, err
	}
	username = strings.TrimSpace(username)
	if err := ValidateName("username", username); err != nil {
		return User{}, err
	}
	if len(password) < 4 {
		return User{}, NewValidationError("password", "must be at least 4 characters", "")
	}
	if !role.Valid() {
		return User{}, NewValidationError("role", "unknown role", string(role))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, NewValidationError("password", err.Error(), "")
	}

	u := User{Username: username, PasswordHash: string(hash), Role: string(role)}
	err = m.writeTx(ctx, "create_user", func(q Queries) error {
		u.ID = 0
		u.CreatedAt = m.now()
		return NewStorageError("insert_user", q.InsertUser(ctx, &u))
	})
	if err != nil {
		return User{}, err
	}
	m.logger.Info("user created", zap.String("username", username), zap.String("role", string(role)), zap.String("by", p.Username))
	m.emitActivity(ctx, p, "create_user", username, map[string]string{"role": string(role)})
	return u, nil
}

// Authenticate checks a password and returns the matching principal
// ตรวจสอบชื่อผู้ใช้และรหัสผ่าน
func (m *Manager) Authenticate(ctx context.Context, username, password string) (identity.Principal, error) {
	u, err := m.storage.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return identity.Principal{}, ErrInvalidCredentials
		}
		return identity.Principal{}, NewStorageError("get_user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		m.logger.Warn("login failed", zap.String("username", username))
		return identity.Principal{}, ErrInvalidCredentials
	}
	return identity.Principal{UserID: u.ID, Username: u.Username, Role: identity.Role(u.Role)}, nil
}

// UnreadCount returns the caller's unread notification count
// จำนวนการแจ้งเตือนที่ยังไม่ได้อ่าน
func (m *Manager) UnreadCount(ctx context.Context, p identity.Principal) (int64, error) {
	if err := m.authorize(p, identity.OpReadNotifications); err != nil {
		return 0, err
	}
	return cache.Remember(ctx, m.cache, cache.UnreadKey(p.UserID), cache.TTLUnread, func(ctx context.Context) (int64, error) {
		n, err := m.storage.CountUnread(ctx, p.UserID)
		if err != nil {
			return 0, NewStorageError("count_unread", err)
		}
		return n, nil
	})
}

// ListNotifications returns the caller's latest notifications.
func (m *Manager) ListNotifications(ctx context.Context, p identity.Principal, limit int) ([]Notification, error) {
	if err := m.authorize(p, identity.OpReadNotifications); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := m.storage.ListNotifications(ctx, p.UserID, limit)
	if err != nil {
		return nil, NewStorageError("list_notifications", err)
	}
	return rows, nil
}

// MarkNotificationsRead marks every notification of the caller read.
func (m *Manager) MarkNotificationsRead(ctx context.Context, p identity.Principal) error {
	if err := m.authorize(p, identity.OpReadNotifications); err != nil {
		return err
	}
	err := m.writeTx(ctx, "mark_notifications_read", func(q Queries) error {
		return NewStorageError("mark_notifications_read", q.MarkNotificationsRead(ctx, p.UserID))
	})
	if err != nil {
		return err
	}
	m.invalidate(ctx, cache.UnreadKey(p.UserID))
	return nil
}

// ListActivity returns activity log rows between from and to, newest first.
func (m *Manager) ListActivity(ctx context.Context, p identity.Principal, from, to time.Time, limit int) ([]ActivityLog, error) {
	if err := m.authorize(p, identity.OpViewReports); err != nil {
		return nil, err
	}
	start, end, err := identity.RangeBounds(from, to)
	if err != nil {
		return nil, NewValidationError("from", err.Error(), identity.FormatDate(from))
	}
	rows, err := m.storage.ListActivity(ctx, start, end, limit)
	if err != nil {
		return nil, NewStorageError("list_activity", err)
	}
	return rows, nil
}

// WholesaleSummary aggregates OUT and RETURN quantities per wholesale customer
// across every family
// สรุปยอดขายส่งรายลูกค้า
func (m *Manager) WholesaleSummary(ctx context.Context, p identity.Principal) ([]WholesaleCustomerSummary, error) {
	if err := m.authorize(p, identity.OpViewWholesaleStats); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, m.cache, cache.WholesaleSummaryKey(), cache.TTLStatistics, m.buildWholesaleSummary)
}

func (m *Manager) buildWholesaleSummary(ctx context.Context) ([]WholesaleCustomerSummary, error) {
	customers, err := m.storage.ListMasters(ctx, MasterCustomer)
	if err != nil {
		return nil, NewStorageError("list_customers", err)
	}
	byID := make(map[int64]*WholesaleCustomerSummary, len(customers))
	out := make([]*WholesaleCustomerSummary, 0, len(customers))
	for _, c := range customers {
		s := &WholesaleCustomerSummary{CustomerID: c.ID, CustomerName: c.Name}
		byID[c.ID] = s
		out = append(out, s)
	}

	for _, family := range Families {
		rows, err := m.storage.ListMovements(ctx, MovementFilter{Family: family})
		if err != nil {
			return nil, NewStorageError("list_movements", err)
		}
		for i := range rows {
			mv := &rows[i]
			if mv.WholesaleCustomerID == nil {
				continue
			}
			s, ok := byID[*mv.WholesaleCustomerID]
			if !ok {
				continue
			}
			switch mv.Type {
			case MovementOut:
				s.OutQuantity += mv.QuantityChange
			case MovementReturn:
				s.ReturnQuantity += mv.QuantityChange
			default:
				continue
			}
			s.MovementCount++
			if s.LastMovementAt == nil || mv.Timestamp.After(*s.LastMovementAt) {
				ts := mv.Timestamp
				s.LastMovementAt = &ts
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OutQuantity != out[j].OutQuantity {
			return out[i].OutQuantity > out[j].OutQuantity
		}
		return out[i].CustomerName < out[j].CustomerName
	})
	result := make([]WholesaleCustomerSummary, len(out))
	for i, s := range out {
		result[i] = *s
	}
	return result, nil
}
