package storage

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

const (
	announcementColumns = "id, title, body, is_active, created_by, created_at, updated_at"
	feedbackColumns     = "id, user_id, username, message, status, created_at, resolved_at"
)

func (q *pgQueries) ListAnnouncements(ctx context.Context, includeInactive bool) ([]inventory.Announcement, error) {
	var out []inventory.Announcement
	err := sqlx.SelectContext(ctx, q.ext, &out, `
		SELECT `+announcementColumns+` FROM announcements
		WHERE is_active OR $1
		ORDER BY id DESC`, includeInactive)
	if err != nil {
		return nil, wrapErr("list_announcements", err)
	}
	return out, nil
}

func (q *pgQueries) GetAnnouncement(ctx context.Context, id int64) (inventory.Announcement, error) {
	var a inventory.Announcement
	err := sqlx.GetContext(ctx, q.ext, &a, "SELECT "+announcementColumns+" FROM announcements WHERE id = $1", id)
	if isNoRows(err) {
		return a, inventory.NewNotFoundError("announcement", id)
	}
	return a, wrapErr("get_announcement", err)
}

func (q *pgQueries) InsertAnnouncement(ctx context.Context, a *inventory.Announcement) error {
	id, err := q.insertReturningID(ctx, `
		INSERT INTO announcements (title, body, is_active, created_by, created_at, updated_at)
		VALUES (:title, :body, :is_active, :created_by, :created_at, :updated_at) RETURNING id`, a)
	if err != nil {
		return wrapErr("insert_announcement", err)
	}
	a.ID = id
	return nil
}

func (q *pgQueries) UpdateAnnouncement(ctx context.Context, a *inventory.Announcement) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE announcements SET title = :title, body = :body, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, a)
	if err != nil {
		return wrapErr("update_announcement", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("update_announcement", err)
	} else if n == 0 {
		return inventory.NewNotFoundError("announcement", a.ID)
	}
	return nil
}

func (q *pgQueries) DeleteAnnouncement(ctx context.Context, id int64) error {
	res, err := q.ext.ExecContext(ctx, "DELETE FROM announcements WHERE id = $1", id)
	if err != nil {
		return wrapErr("delete_announcement", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("delete_announcement", err)
	} else if n == 0 {
		return inventory.NewNotFoundError("announcement", id)
	}
	return nil
}

func (q *pgQueries) InsertFeedback(ctx context.Context, f *inventory.Feedback) error {
	id, err := q.insertReturningID(ctx, `
		INSERT INTO feedback (user_id, username, message, status, created_at, resolved_at)
		VALUES (:user_id, :username, :message, :status, :created_at, :resolved_at) RETURNING id`, f)
	if err != nil {
		return wrapErr("insert_feedback", err)
	}
	f.ID = id
	return nil
}

func (q *pgQueries) GetFeedback(ctx context.Context, id int64) (inventory.Feedback, error) {
	var f inventory.Feedback
	err := sqlx.GetContext(ctx, q.ext, &f, "SELECT "+feedbackColumns+" FROM feedback WHERE id = $1", id)
	if isNoRows(err) {
		return f, inventory.NewNotFoundError("feedback", id)
	}
	return f, wrapErr("get_feedback", err)
}

// ListFeedback returns newest first; a nil status lists every status.
func (q *pgQueries) ListFeedback(ctx context.Context, status *inventory.FeedbackStatus, limit int) ([]inventory.Feedback, error) {
	var out []inventory.Feedback
	err := sqlx.SelectContext(ctx, q.ext, &out, `
		SELECT `+feedbackColumns+` FROM feedback
		WHERE $1::text IS NULL OR status = $1
		ORDER BY id DESC
		LIMIT NULLIF($2::int, 0)`, status, limit)
	if err != nil {
		return nil, wrapErr("list_feedback", err)
	}
	return out, nil
}

func (q *pgQueries) UpdateFeedback(ctx context.Context, f *inventory.Feedback) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE feedback SET status = :status, resolved_at = :resolved_at WHERE id = :id`, f)
	if err != nil {
		return wrapErr("update_feedback", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrapErr("update_feedback", err)
	} else if n == 0 {
		return inventory.NewNotFoundError("feedback", f.ID)
	}
	return nil
}
