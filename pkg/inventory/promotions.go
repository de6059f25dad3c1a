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

// PromotionInput creates a promotion, or updates it when ID is set
// ข้อมูลโปรโมชัน
type PromotionInput struct {
	ID       *int64                `json:"id"`
	Name     string                `json:"name" validate:"required,max=200"`
	Type     pricing.PromotionType `json:"type" validate:"required,oneof=buy_x_get_y percentage_discount fixed_price_per_n"`
	Value1   decimal.Decimal       `json:"value1"`
	Value2   decimal.NullDecimal   `json:"value2"`
	IsActive bool                  `json:"is_active"`
}

// SetPromotion creates or updates a promotion after checking its parameters
// บันทึกโปรโมชัน
func (m *Manager) SetPromotion(ctx context.Context, p identity.Principal, in PromotionInput) (Promotion, error) {
	if err := m.authorize(p, identity.OpManagePromotions); err != nil {
		return Promotion{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := m.validateStruct(in); err != nil {
		m.observeRejection("set_promotion", err)
		return Promotion{}, err
	}
	rule := pricing.Rule{Type: in.Type, Value1: in.Value1, Value2: in.Value2}
	if err := rule.Validate(); err != nil {
		return Promotion{}, NewValidationError("value1", err.Error(), in.Value1.String())
	}

	var promo Promotion
	err := m.writeTx(ctx, "set_promotion", func(q Queries) error {
		now := m.now()
		if in.ID == nil {
			promo = Promotion{
				Name:      in.Name,
				Type:      in.Type,
				Value1:    in.Value1,
				Value2:    in.Value2,
				IsActive:  in.IsActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return NewStorageError("insert_promotion", q.InsertPromotion(ctx, &promo))
		}

		var err error
		promo, err = q.GetPromotion(ctx, *in.ID)
		if err != nil {
			return NewStorageError("get_promotion", err)
		}
		if promo.IsDeleted {
			return NewNotFoundError("promotion", *in.ID)
		}
		promo.Name = in.Name
		promo.Type = in.Type
		promo.Value1 = in.Value1
		promo.Value2 = in.Value2
		promo.IsActive = in.IsActive
		promo.UpdatedAt = now
		return NewStorageError("update_promotion", q.UpdatePromotion(ctx, &promo))
	})
	if err != nil {
		return Promotion{}, err
	}

	m.afterPromotionWrite(ctx, p, "set_promotion", promo)
	return promo, nil
}

// DeletePromotion soft-deletes a promotion. Tires that point at it stop
// showing a promotional price.
func (m *Manager) DeletePromotion(ctx context.Context, p identity.Principal, id int64) error {
	if err := m.authorize(p, identity.OpManagePromotions); err != nil {
		return err
	}
	var promo Promotion
	err := m.writeTx(ctx, "delete_promotion", func(q Queries) error {
		var err error
		promo, err = q.GetPromotion(ctx, id)
		if err != nil {
			return NewStorageError("get_promotion", err)
		}
		if promo.IsDeleted {
			return NewNotFoundError("promotion", id)
		}
		promo.IsDeleted = true
		promo.IsActive = false
		promo.UpdatedAt = m.now()
		return NewStorageError("update_promotion", q.UpdatePromotion(ctx, &promo))
	})
	if err != nil {
		return err
	}
	m.afterPromotionWrite(ctx, p, "delete_promotion", promo)
	return nil
}

func (m *Manager) afterPromotionWrite(ctx context.Context, p identity.Principal, op string, promo Promotion) {
	m.invalidate(ctx, cache.PrefixPromotions, cache.ProductsPrefix(string(FamilyTire)))
	m.logger.Info("promotion changed",
		zap.String("operation", op),
		zap.Int64("promotion_id", promo.ID),
		zap.String("name", promo.Name),
		zap.String("type", string(promo.Type)),
		zap.Bool("active", promo.IsActive),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, fmt.Sprintf("promotion/%d", promo.ID), promo)
}

// ListPromotions returns live promotions; inactive ones only when asked
// ดึงรายการโปรโมชัน
func (m *Manager) ListPromotions(ctx context.Context, p identity.Principal, includeInactive bool) ([]Promotion, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	return m.promotions(ctx, includeInactive)
}

func (m *Manager) promotions(ctx context.Context, includeInactive bool) ([]Promotion, error) {
	return cache.Remember(ctx, m.cache, cache.PromotionsKey(includeInactive), m.config.MasterTTL, func(ctx context.Context) ([]Promotion, error) {
		rows, err := m.storage.ListPromotions(ctx, includeInactive)
		if err != nil {
			return nil, NewStorageError("list_promotions", err)
		}
		return rows, nil
	})
}

// promotionIndex maps the ids of active promotions to their rows.
func (m *Manager) promotionIndex(ctx context.Context) (map[int64]Promotion, error) {
	rows, err := m.promotions(ctx, false)
	if err != nil {
		return nil, err
	}
	idx := make(map[int64]Promotion, len(rows))
	for _, p := range rows {
		idx[p.ID] = p
	}
	return idx, nil
}
