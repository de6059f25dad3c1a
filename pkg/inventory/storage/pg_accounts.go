package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

const userColumns = "id, username, password_hash, role, created_at"

func (q *pgQueries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, q.ext, &n, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, wrapErr("count_users", err)
	}
	return n, nil
}

func (q *pgQueries) InsertUser(ctx context.Context, u *inventory.User) error {
	existing, err := q.GetUserByUsername(ctx, u.Username)
	if err == nil {
		return inventory.NewConflictError(inventory.ConflictNameTaken, "username "+u.Username+" is taken", existing.ID)
	}
	if !errors.Is(err, inventory.ErrNotFound) {
		return err
	}
	id, err := q.insertReturningID(ctx, `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (:username, :password_hash, :role, :created_at) RETURNING id`, u)
	if err != nil {
		return wrapErr("insert_user", err)
	}
	u.ID = id
	return nil
}

func (q *pgQueries) GetUserByUsername(ctx context.Context, username string) (inventory.User, error) {
	var u inventory.User
	err := sqlx.GetContext(ctx, q.ext, &u, "SELECT "+userColumns+" FROM users WHERE LOWER(username) = LOWER($1)", username)
	if isNoRows(err) {
		return u, inventory.NewNotFoundError("user", username)
	}
	return u, wrapErr("get_user", err)
}

func (q *pgQueries) ListUsersByRole(ctx context.Context, roles []string) ([]inventory.User, error) {
	var out []inventory.User
	err := sqlx.SelectContext(ctx, q.ext, &out,
		"SELECT "+userColumns+" FROM users WHERE role = ANY($1) ORDER BY id", pq.Array(roles))
	if err != nil {
		return nil, wrapErr("list_users", err)
	}
	return out, nil
}

func (q *pgQueries) GetSetting(ctx context.Context, key string) (inventory.AppSetting, error) {
	var s inventory.AppSetting
	err := sqlx.GetContext(ctx, q.ext, &s, "SELECT key, value, updated_at FROM app_settings WHERE key = $1", key)
	if isNoRows(err) {
		return s, inventory.NewNotFoundError("setting", key)
	}
	return s, wrapErr("get_setting", err)
}

func (q *pgQueries) UpsertSetting(ctx context.Context, s *inventory.AppSetting) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO app_settings (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s)
	return wrapErr("upsert_setting", err)
}

func (q *pgQueries) InsertActivity(ctx context.Context, a *inventory.ActivityLog) error {
	var id int64
	err := q.ext.QueryRowxContext(ctx, `
		INSERT INTO activity_logs (user_id, username, action, target, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.UserID, a.Username, a.Action, a.Target, jsonParam(a.Details), a.CreatedAt,
	).Scan(&id)
	if err != nil {
		return wrapErr("insert_activity", err)
	}
	a.ID = id
	return nil
}

type activityRow struct {
	inventory.ActivityLog
	Raw []byte `db:"details_text"`
}

// ListActivity returns newest first; limit 0 means no limit.
func (q *pgQueries) ListActivity(ctx context.Context, from, to time.Time, limit int) ([]inventory.ActivityLog, error) {
	var rows []activityRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, user_id, username, action, target, details::text AS details_text, created_at
		FROM activity_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY id DESC
		LIMIT NULLIF($3::int, 0)`, from, to, limit)
	if err != nil {
		return nil, wrapErr("list_activity", err)
	}
	out := make([]inventory.ActivityLog, len(rows))
	for i, r := range rows {
		out[i] = r.ActivityLog
		out[i].Details = rawOrNil(r.Raw)
	}
	return out, nil
}

func (q *pgQueries) InsertNotification(ctx context.Context, n *inventory.Notification) error {
	id, err := q.insertReturningID(ctx, `
		INSERT INTO notifications (user_id, title, message, link, is_read, created_at)
		VALUES (:user_id, :title, :message, :link, :is_read, :created_at) RETURNING id`, n)
	if err != nil {
		return wrapErr("insert_notification", err)
	}
	n.ID = id
	return nil
}

func (q *pgQueries) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, q.ext, &n, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read", userID)
	if err != nil {
		return 0, wrapErr("count_unread", err)
	}
	return n, nil
}

func (q *pgQueries) ListNotifications(ctx context.Context, userID int64, limit int) ([]inventory.Notification, error) {
	var out []inventory.Notification
	err := sqlx.SelectContext(ctx, q.ext, &out, `
		SELECT id, user_id, title, message, link, is_read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2::int, 0)`, userID, limit)
	if err != nil {
		return nil, wrapErr("list_notifications", err)
	}
	return out, nil
}

func (q *pgQueries) MarkNotificationsRead(ctx context.Context, userID int64) error {
	_, err := q.ext.ExecContext(ctx, "UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read", userID)
	return wrapErr("mark_read", err)
}
