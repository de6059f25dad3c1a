package main

import (
	"io"
	"net/http"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// RecordMovement appends one ledger row
// บันทึกการเคลื่อนไหวสต็อก
func (h *Handlers) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var in inventory.MovementInput
	if !h.decode(w, r, &in) {
		return
	}
	mv, err := h.manager.RecordMovement(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, mv)
}

// RecordBulkMovements appends every entry or none.
func (h *Handlers) RecordBulkMovements(w http.ResponseWriter, r *http.Request) {
	var inputs []inventory.MovementInput
	if !h.decode(w, r, &inputs) {
		return
	}
	res, err := h.manager.RecordBulkMovements(r.Context(), principalFrom(r.Context()), inputs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, res)
}

func (h *Handlers) ListMovements(w http.ResponseWriter, r *http.Request) {
	family, err := pathFamily(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := inventory.MovementQuery{Family: family, Channel: r.URL.Query().Get("channel")}
	for name, dst := range map[string]**int64{
		"product_id":            &q.ProductID,
		"online_platform_id":    &q.OnlinePlatformID,
		"wholesale_customer_id": &q.WholesaleCustomerID,
	} {
		if *dst, err = queryInt64(r, name); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if q.From, err = queryTime(r, "from"); err != nil {
		h.fail(w, r, err)
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		h.fail(w, r, err)
		return
	}
	if t := r.URL.Query().Get("type"); t != "" {
		mt := inventory.MovementType(t)
		q.Type = &mt
	}
	rows, err := h.manager.ListMovements(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) GetMovement(w http.ResponseWriter, r *http.Request) {
	family, id, err := movementPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.manager.GetMovement(r.Context(), principalFrom(r.Context()), family, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, mv)
}

func (h *Handlers) EditMovement(w http.ResponseWriter, r *http.Request) {
	family, id, err := movementPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var change inventory.MovementChange
	if !h.decode(w, r, &change) {
		return
	}
	mv, err := h.manager.EditMovement(r.Context(), principalFrom(r.Context()), family, id, change)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, mv)
}

func (h *Handlers) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	family, id, err := movementPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteMovement(r.Context(), principalFrom(r.Context()), family, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"deleted": id, "family": family})
}

// SetMovementImage stores the raw request body as the movement photo.
func (h *Handlers) SetMovementImage(w http.ResponseWriter, r *http.Request) {
	family, id, err := movementPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.sendError(w, http.StatusRequestEntityTooLarge, "Validation", "image too large")
		return
	}
	mv, err := h.manager.SetMovementImage(r.Context(), principalFrom(r.Context()), family, id, content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, mv)
}

func movementPath(r *http.Request) (inventory.Family, int64, error) {
	family, err := pathFamily(r)
	if err != nil {
		return "", 0, err
	}
	id, err := pathInt64(r, "id")
	return family, id, err
}

// stock projections

func (h *Handlers) StockAt(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := queryTime(r, "at")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t := h.manager.Clock().Now()
	if at != nil {
		t = *at
	}
	qty, err := h.manager.StockAt(r.Context(), principalFrom(r.Context()), ref, t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"product": ref, "at": t, "quantity": qty})
}

func (h *Handlers) PeriodAggregate(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	agg, err := h.manager.PeriodAggregate(r.Context(), principalFrom(r.Context()), ref, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, agg)
}

func (h *Handlers) ProductHistory(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	hist, err := h.manager.ProductHistory(r.Context(), principalFrom(r.Context()), ref, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, hist)
}
