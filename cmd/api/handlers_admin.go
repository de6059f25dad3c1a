package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// masters

type nameRequest struct {
	Name string `json:"name"`
}

func masterKind(r *http.Request) inventory.MasterKind {
	return inventory.MasterKind(mux.Vars(r)["kind"])
}

func (h *Handlers) ListMasters(w http.ResponseWriter, r *http.Request) {
	rows, err := h.manager.ListMasters(r.Context(), principalFrom(r.Context()), masterKind(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) CreateMaster(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.manager.CreateMaster(r.Context(), principalFrom(r.Context()), masterKind(r), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, m)
}

func (h *Handlers) RenameMaster(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req nameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.manager.RenameMaster(r.Context(), principalFrom(r.Context()), masterKind(r), id, req.Name); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"id": id, "name": req.Name})
}

func (h *Handlers) DeleteMaster(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteMaster(r.Context(), principalFrom(r.Context()), masterKind(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"deleted": id})
}

// categories

type categoryRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

func (h *Handlers) CategoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.manager.CategoryTree(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, tree)
}

func (h *Handlers) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.manager.CreateCategory(r.Context(), principalFrom(r.Context()), req.Name, req.ParentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, c)
}

func (h *Handlers) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.manager.UpdateCategory(r.Context(), principalFrom(r.Context()), id, req.Name, req.ParentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, c)
}

func (h *Handlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteCategory(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"deleted": id})
}

// promotions

func (h *Handlers) ListPromotions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.manager.ListPromotions(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("include_inactive") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

// SetPromotion creates a promotion, or updates the one named by id.
func (h *Handlers) SetPromotion(w http.ResponseWriter, r *http.Request) {
	var in inventory.PromotionInput
	if !h.decode(w, r, &in) {
		return
	}
	if raw, ok := mux.Vars(r)["id"]; ok && raw != "" {
		id, err := pathInt64(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.ID = &id
	}
	p, err := h.manager.SetPromotion(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, p)
}

func (h *Handlers) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeletePromotion(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"deleted": id})
}

// commission programs

func (h *Handlers) ListCommissionPrograms(w http.ResponseWriter, r *http.Request) {
	var ref *inventory.ProductRef
	if family := r.URL.Query().Get("family"); family != "" {
		id, err := queryInt64(r, "product_id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if id == nil {
			h.fail(w, r, inventory.NewValidationError("product_id", "required with family", ""))
			return
		}
		ref = &inventory.ProductRef{Family: inventory.Family(family), ID: *id}
	}
	rows, err := h.manager.ListCommissionPrograms(r.Context(), principalFrom(r.Context()), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) AddCommissionProgram(w http.ResponseWriter, r *http.Request) {
	var in inventory.CommissionInput
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.manager.AddCommissionProgram(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, c)
}

func (h *Handlers) DeleteCommissionProgram(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteCommissionProgram(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"deleted": id})
}

// settings

type settingRequest struct {
	Value string `json:"value"`
}

func (h *Handlers) GetSetting(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.GetSetting(r.Context(), principalFrom(r.Context()), mux.Vars(r)["key"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, s)
}

func (h *Handlers) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.manager.SetSetting(r.Context(), principalFrom(r.Context()), mux.Vars(r)["key"], req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, s)
}

// notifications and activity

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.manager.ListNotifications(r.Context(), principalFrom(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.UnreadCount(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"unread": n})
}

func (h *Handlers) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.MarkNotificationsRead(r.Context(), principalFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"unread": 0})
}

// announcements and feedback

func (h *Handlers) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	rows, err := h.manager.ListAnnouncements(r.Context(), principalFrom(r.Context()), all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) SetAnnouncement(w http.ResponseWriter, r *http.Request) {
	var in inventory.AnnouncementInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ID = nil
	if raw, ok := mux.Vars(r)["id"]; ok && raw != "" {
		id, err := pathInt64(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.ID = &id
	}
	a, err := h.manager.SetAnnouncement(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if in.ID == nil {
		h.sendCreated(w, a)
		return
	}
	h.sendSuccess(w, a)
}

func (h *Handlers) DeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteAnnouncement(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]int64{"deleted": id})
}

type feedbackRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	f, err := h.manager.SubmitFeedback(r.Context(), principalFrom(r.Context()), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, f)
}

func (h *Handlers) ListFeedback(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var status *inventory.FeedbackStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := inventory.FeedbackStatus(raw)
		status = &s
	}
	rows, err := h.manager.ListFeedback(r.Context(), principalFrom(r.Context()), status, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) ResolveFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.manager.ResolveFeedback(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, f)
}

func (h *Handlers) ListActivity(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 200)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.manager.ListActivity(r.Context(), principalFrom(r.Context()), from, to, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) WholesaleSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.manager.WholesaleSummary(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}
