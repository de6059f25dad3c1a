package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// Bootstrap seeds the master data the ledger depends on. It is safe to run on
// every start: it inserts the missing sales channels, the default online
// platforms when none exist, the lead-time settings, and an admin account
// when the users table is empty.
// เตรียมข้อมูลตั้งต้นของระบบ
func (m *Manager) Bootstrap(ctx context.Context) error {
	var seeded []string
	err := m.writeTx(ctx, "bootstrap", func(q Queries) error {
		seeded = seeded[:0]
		now := m.now()

		channels, err := q.ListMasters(ctx, MasterChannel)
		if err != nil {
			return NewStorageError("list_channels", err)
		}
		have := make(map[string]bool, len(channels))
		for _, c := range channels {
			have[c.Name] = true
		}
		for _, name := range DefaultChannels {
			if have[name] {
				continue
			}
			if err := q.InsertMaster(ctx, MasterChannel, &Master{Name: name, CreatedAt: now}); err != nil {
				return NewStorageError("insert_channel", err)
			}
			seeded = append(seeded, "channel:"+name)
		}

		platforms, err := q.ListMasters(ctx, MasterPlatform)
		if err != nil {
			return NewStorageError("list_platforms", err)
		}
		if len(platforms) == 0 {
			for _, name := range DefaultPlatforms {
				if err := q.InsertMaster(ctx, MasterPlatform, &Master{Name: name, CreatedAt: now}); err != nil {
					return NewStorageError("insert_platform", err)
				}
				seeded = append(seeded, "platform:"+name)
			}
		}

		for key, value := range DefaultSettings {
			_, err := q.GetSetting(ctx, key)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return NewStorageError("get_setting", err)
			}
			if err := q.UpsertSetting(ctx, &AppSetting{Key: key, Value: value, UpdatedAt: now}); err != nil {
				return NewStorageError("upsert_setting", err)
			}
			seeded = append(seeded, "setting:"+key)
		}

		users, err := q.CountUsers(ctx)
		if err != nil {
			return NewStorageError("count_users", err)
		}
		if users == 0 {
			hash, err := bcrypt.GenerateFromPassword([]byte(m.config.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			admin := &User{
				Username:     m.config.AdminUsername,
				PasswordHash: string(hash),
				Role:         string(identity.RoleAdmin),
				CreatedAt:    now,
			}
			if err := q.InsertUser(ctx, admin); err != nil {
				return NewStorageError("insert_admin", err)
			}
			seeded = append(seeded, "user:"+admin.Username)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(seeded) > 0 {
		m.cache.Invalidate(ctx, "")
		m.logger.Info("bootstrap seeded master data", zap.Strings("rows", seeded))
	} else {
		m.logger.Debug("bootstrap found nothing to seed")
	}
	return nil
}
