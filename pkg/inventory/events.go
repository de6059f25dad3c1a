package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// EventPublisher receives events after their write has committed. Failures
// are logged by the caller and never undo the write.
// ผู้รับเหตุการณ์หลังจากบันทึกข้อมูลสำเร็จ
type EventPublisher interface {
	PublishActivity(ctx context.Context, event ActivityEvent) error
	PublishLowStock(ctx context.Context, event LowStockEvent) error
}

// ActivityEvent describes one committed mutating operation
// เหตุการณ์การเปลี่ยนแปลงข้อมูล
type ActivityEvent struct {
	Principal identity.Principal `json:"principal"`
	Action    string             `json:"action"`
	Target    string             `json:"target"`
	Details   any                `json:"details,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// LowStockEvent is raised when an OUT leaves a product at or below the threshold
// เหตุการณ์สต็อกต่ำ
type LowStockEvent struct {
	Product   ProductRef `json:"product"`
	Name      string     `json:"name"`
	Quantity  int64      `json:"quantity"`
	Threshold int64      `json:"threshold"`
	Timestamp time.Time  `json:"timestamp"`
}

// storePublisher writes events to the activity log and notification tables.
type storePublisher struct {
	storage Storage
	logger  *zap.Logger
	config  *Config
	manager *Manager
}

func (s *storePublisher) PublishActivity(ctx context.Context, e ActivityEvent) error {
	var details json.RawMessage
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode activity details: %w", err)
		}
		details = raw
	}
	return s.storage.InsertActivity(ctx, &ActivityLog{
		UserID:    userRef(e.Principal),
		Username:  e.Principal.Username,
		Action:    e.Action,
		Target:    e.Target,
		Details:   details,
		CreatedAt: e.Timestamp,
	})
}

func (s *storePublisher) PublishLowStock(ctx context.Context, e LowStockEvent) error {
	users, err := s.storage.ListUsersByRole(ctx, s.config.NotifyRoles)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("/%s/%d", e.Product.Family, e.Product.ID)
	for _, u := range users {
		n := &Notification{
			UserID:    u.ID,
			Title:     "สต็อกใกล้หมด",
			Message:   fmt.Sprintf("%s เหลือ %d ชิ้น", e.Name, e.Quantity),
			Link:      &link,
			CreatedAt: e.Timestamp,
		}
		if err := s.storage.InsertNotification(ctx, n); err != nil {
			return err
		}
	}
	s.manager.invalidate(ctx, cache.PrefixUnread)
	return nil
}

// emitActivity publishes an activity event, logging any failure.
func (m *Manager) emitActivity(ctx context.Context, p identity.Principal, action, target string, details any) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishActivity(ctx, ActivityEvent{
		Principal: p,
		Action:    action,
		Target:    target,
		Details:   details,
		Timestamp: m.now(),
	})
	if err != nil {
		m.logger.Error("activity log write failed",
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

// checkLowStock raises a LowStockEvent when quantity fell to the threshold or below.
func (m *Manager) checkLowStock(ctx context.Context, p Product, before int64) {
	if m.publisher == nil {
		return
	}
	qty := p.Base().Quantity
	if qty >= before || qty > m.config.LowStockThreshold {
		return
	}
	err := m.publisher.PublishLowStock(ctx, LowStockEvent{
		Product:   Ref(p),
		Name:      p.DisplayName(),
		Quantity:  qty,
		Threshold: m.config.LowStockThreshold,
		Timestamp: m.now(),
	})
	if err != nil {
		m.logger.Error("low stock notification failed",
			zap.String("product", Ref(p).String()),
			zap.Int64("quantity", qty),
			zap.Error(err),
		)
	}
}

// RecordActivity publishes an activity event for a workflow built on top of
// the manager. Failures are logged, never returned.
func (m *Manager) RecordActivity(ctx context.Context, p identity.Principal, action, target string, details any) {
	m.emitActivity(ctx, p, action, target, details)
}
