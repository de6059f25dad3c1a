package inventory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// AnnouncementInput creates an announcement, or replaces it when ID is set
// ข้อมูลประกาศ
type AnnouncementInput struct {
	ID       *int64 `json:"id"`
	Title    string `json:"title" validate:"required,max=200"`
	Body     string `json:"body" validate:"required,max=5000"`
	IsActive bool   `json:"is_active"`
}

type feedbackInput struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// ListAnnouncements returns the board, newest first. Inactive notices are
// only listed for roles that manage them.
func (m *Manager) ListAnnouncements(ctx context.Context, p identity.Principal, includeInactive bool) ([]Announcement, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return nil, err
	}
	if includeInactive {
		if err := m.authorize(p, identity.OpManageAnnouncement); err != nil {
			return nil, err
		}
	}
	return cache.Remember(ctx, m.cache, cache.AnnouncementsKey(includeInactive), m.config.MasterTTL, func(ctx context.Context) ([]Announcement, error) {
		rows, err := m.storage.ListAnnouncements(ctx, includeInactive)
		if err != nil {
			return nil, NewStorageError("list_announcements", err)
		}
		if rows == nil {
			rows = []Announcement{}
		}
		return rows, nil
	})
}

// SetAnnouncement creates or updates an announcement
// บันทึกประกาศ
func (m *Manager) SetAnnouncement(ctx context.Context, p identity.Principal, in AnnouncementInput) (Announcement, error) {
	if err := m.authorize(p, identity.OpManageAnnouncement); err != nil {
		return Announcement{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	if err := m.validateStruct(in); err != nil {
		m.observeRejection("set_announcement", err)
		return Announcement{}, err
	}

	var a Announcement
	err := m.writeTx(ctx, "set_announcement", func(q Queries) error {
		now := m.now()
		if in.ID == nil {
			a = Announcement{
				Title:     in.Title,
				Body:      in.Body,
				IsActive:  in.IsActive,
				CreatedBy: userRef(p),
				CreatedAt: now,
				UpdatedAt: now,
			}
			return NewStorageError("insert_announcement", q.InsertAnnouncement(ctx, &a))
		}
		var err error
		if a, err = q.GetAnnouncement(ctx, *in.ID); err != nil {
			return NewStorageError("get_announcement", err)
		}
		a.Title = in.Title
		a.Body = in.Body
		a.IsActive = in.IsActive
		a.UpdatedAt = now
		return NewStorageError("update_announcement", q.UpdateAnnouncement(ctx, &a))
	})
	if err != nil {
		return Announcement{}, err
	}
	op := "create_announcement"
	if in.ID != nil {
		op = "update_announcement"
	}
	m.afterAnnouncementWrite(ctx, p, op, a)
	return a, nil
}

// DeleteAnnouncement removes an announcement.
func (m *Manager) DeleteAnnouncement(ctx context.Context, p identity.Principal, id int64) error {
	if err := m.authorize(p, identity.OpManageAnnouncement); err != nil {
		return err
	}
	var a Announcement
	err := m.writeTx(ctx, "delete_announcement", func(q Queries) error {
		var err error
		if a, err = q.GetAnnouncement(ctx, id); err != nil {
			return NewStorageError("get_announcement", err)
		}
		return NewStorageError("delete_announcement", q.DeleteAnnouncement(ctx, id))
	})
	if err != nil {
		return err
	}
	m.afterAnnouncementWrite(ctx, p, "delete_announcement", a)
	return nil
}

func (m *Manager) afterAnnouncementWrite(ctx context.Context, p identity.Principal, op string, a Announcement) {
	m.invalidate(ctx, cache.PrefixAnnouncements)
	m.logger.Info("announcement changed",
		zap.String("operation", op),
		zap.Int64("announcement_id", a.ID),
		zap.Bool("active", a.IsActive),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, op, fmt.Sprintf("announcement/%d", a.ID), a)
}

// SubmitFeedback stores a message from the caller for the administrators
// ส่งข้อเสนอแนะ
func (m *Manager) SubmitFeedback(ctx context.Context, p identity.Principal, message string) (Feedback, error) {
	if err := m.authorize(p, identity.OpSendFeedback); err != nil {
		return Feedback{}, err
	}
	in := feedbackInput{Message: strings.TrimSpace(message)}
	if err := m.validateStruct(in); err != nil {
		m.observeRejection("submit_feedback", err)
		return Feedback{}, err
	}
	f := Feedback{
		UserID:   userRef(p),
		Username: p.Username,
		Message:  in.Message,
		Status:   FeedbackOpen,
	}
	err := m.writeTx(ctx, "submit_feedback", func(q Queries) error {
		f.CreatedAt = m.now()
		return NewStorageError("insert_feedback", q.InsertFeedback(ctx, &f))
	})
	if err != nil {
		return Feedback{}, err
	}
	m.logger.Info("feedback submitted", zap.Int64("feedback_id", f.ID), zap.String("user", p.Username))
	m.emitActivity(ctx, p, "submit_feedback", fmt.Sprintf("feedback/%d", f.ID), nil)
	return f, nil
}

// ListFeedback returns feedback newest first, optionally of one status.
func (m *Manager) ListFeedback(ctx context.Context, p identity.Principal, status *FeedbackStatus, limit int) ([]Feedback, error) {
	if err := m.authorize(p, identity.OpReviewFeedback); err != nil {
		return nil, err
	}
	if status != nil && *status != FeedbackOpen && *status != FeedbackResolved {
		return nil, NewValidationError("status", "must be one of open resolved", string(*status))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := m.storage.ListFeedback(ctx, status, limit)
	if err != nil {
		return nil, NewStorageError("list_feedback", err)
	}
	if rows == nil {
		rows = []Feedback{}
	}
	return rows, nil
}

// ResolveFeedback marks a feedback message handled. Resolving twice keeps
// the first resolution time.
func (m *Manager) ResolveFeedback(ctx context.Context, p identity.Principal, id int64) (Feedback, error) {
	if err := m.authorize(p, identity.OpReviewFeedback); err != nil {
		return Feedback{}, err
	}
	var f Feedback
	err := m.writeTx(ctx, "resolve_feedback", func(q Queries) error {
		var err error
		if f, err = q.GetFeedback(ctx, id); err != nil {
			return NewStorageError("get_feedback", err)
		}
		if f.Status == FeedbackResolved {
			return nil
		}
		now := m.now()
		f.Status = FeedbackResolved
		f.ResolvedAt = &now
		return NewStorageError("update_feedback", q.UpdateFeedback(ctx, &f))
	})
	if err != nil {
		return Feedback{}, err
	}
	m.logger.Info("feedback resolved", zap.Int64("feedback_id", f.ID), zap.String("user", p.Username))
	m.emitActivity(ctx, p, "resolve_feedback", fmt.Sprintf("feedback/%d", f.ID), nil)
	return f, nil
}
