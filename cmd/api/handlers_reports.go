package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// dateRange reads ?from=&to= as Bangkok dates, both defaulting to today.
func (h *Handlers) dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	today := identity.DateOf(h.manager.Clock().Now())
	from, err := queryDate(r, "from", today)
	if err != nil {
		h.fail(w, r, err)
		return time.Time{}, time.Time{}, false
	}
	to, err := queryDate(r, "to", from)
	if err != nil {
		h.fail(w, r, err)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// DailyReport handles GET /reports/daily?date=YYYY-MM-DD
// รายงานประจำวัน
func (h *Handlers) DailyReport(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date", identity.DateOf(h.manager.Clock().Now()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.reports.Daily(r.Context(), principalFrom(r.Context()), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rep)
}

// PeriodReport handles GET /reports/period?from=&to=
func (h *Handlers) PeriodReport(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.Period(r.Context(), principalFrom(r.Context()), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rep)
}

func (h *Handlers) Valuation(w http.ResponseWriter, r *http.Request) {
	v, err := h.reports.Valuation(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, v)
}

// reconciliations

type openReconciliationRequest struct {
	Date string `json:"date"`
}

// OpenReconciliation returns the reconciliation of a date, creating it on first access.
// เปิดการกระทบยอด
func (h *Handlers) OpenReconciliation(w http.ResponseWriter, r *http.Request) {
	var req openReconciliationRequest
	if !h.decode(w, r, &req) {
		return
	}
	date := identity.DateOf(h.manager.Clock().Now())
	if req.Date != "" {
		d, err := identity.ParseDate(req.Date)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "Validation", "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	rec, err := h.reconcile.Open(r.Context(), principalFrom(r.Context()), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rec)
}

func (h *Handlers) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	rows, err := h.reconcile.List(r.Context(), principalFrom(r.Context()), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.reconcile.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rec)
}

// SaveLedger stores the request body, a JSON object, as the manager ledger.
func (h *Handlers) SaveLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var ledger json.RawMessage
	if !h.decode(w, r, &ledger) {
		return
	}
	rec, err := h.reconcile.SaveLedger(r.Context(), principalFrom(r.Context()), id, ledger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rec)
}

func (h *Handlers) CompleteReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.reconcile.Complete(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rec)
}
