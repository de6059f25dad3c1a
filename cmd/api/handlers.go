package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/reconcile"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

// Handlers holds HTTP handlers for the shop API
// ตัวจัดการ HTTP ของ API ร้าน
type Handlers struct {
	manager   *inventory.Manager
	reports   *report.Service
	reconcile *reconcile.Service
	tokens    *identity.TokenResolver
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(manager *inventory.Manager, reports *report.Service, rec *reconcile.Service,
	tokens *identity.TokenResolver, tokenTTL time.Duration, logger *zap.Logger) *Handlers {
	return &Handlers{
		manager:   manager,
		reports:   reports,
		reconcile: rec,
		tokens:    tokens,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// HealthCheck reports liveness and database reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.manager.Storage().Ping(r.Context()); err != nil {
		h.logger.Warn("health check: database unreachable", zap.Error(err))
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	cacheState := "ok"
	if c := h.manager.Cache(); c != nil && c.Degraded() {
		cacheState = "degraded"
	}
	h.sendJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"cache":     cacheState,
			"timestamp": h.manager.Clock().Now(),
			"service":   "tireshop-ledger",
		},
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a bearer token
// เข้าสู่ระบบ
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.manager.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.tokens.Issue(p, h.tokenTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"token":      token,
		"expires_in": int64(h.tokenTTL.Seconds()),
		"user":       p,
	})
}

type createUserRequest struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	Role     identity.Role `json:"role"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.manager.CreateUser(r.Context(), principalFrom(r.Context()), req.Username, req.Password, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, u)
}

// products

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	family, err := pathFamily(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	category, err := queryInt64(r, "category_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	rows, err := h.manager.ListProducts(r.Context(), principalFrom(r.Context()), inventory.ProductFilter{
		Family:         family,
		Query:          q.Get("q"),
		Brand:          q.Get("brand"),
		CategoryID:     category,
		IncludeDeleted: q.Get("include_deleted") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.manager.GetProduct(r.Context(), principalFrom(r.Context()), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, v)
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in inventory.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	v, err := h.manager.CreateProduct(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, v)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch inventory.ProductPatch
	if !h.decode(w, r, &patch) {
		return
	}
	v, err := h.manager.UpdateProduct(r.Context(), principalFrom(r.Context()), ref, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, v)
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.SoftDeleteProduct(r.Context(), principalFrom(r.Context()), ref); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"deleted": ref})
}

func (h *Handlers) RestoreProduct(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.RestoreProduct(r.Context(), principalFrom(r.Context()), ref); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{"restored": ref})
}

func (h *Handlers) ListBrands(w http.ResponseWriter, r *http.Request) {
	family, err := pathFamily(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	brands, err := h.manager.ListBrands(r.Context(), principalFrom(r.Context()), family)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, brands)
}

func (h *Handlers) ListCostHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.manager.ListCostHistory(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, rows)
}

type assignPromotionRequest struct {
	PromotionID *int64 `json:"promotion_id"`
}

func (h *Handlers) AssignPromotion(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req assignPromotionRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.manager.AssignPromotion(r.Context(), principalFrom(r.Context()), id, req.PromotionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, v)
}

// barcodes

type barcodeRequest struct {
	Barcode string `json:"barcode"`
}

func (h *Handlers) AttachBarcode(w http.ResponseWriter, r *http.Request) {
	ref, err := pathRef(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req barcodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.manager.AttachBarcode(r.Context(), principalFrom(r.Context()), ref, req.Barcode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendCreated(w, b)
}

func (h *Handlers) LookupBarcode(w http.ResponseWriter, r *http.Request) {
	v, err := h.manager.LookupBarcode(r.Context(), principalFrom(r.Context()), mux.Vars(r)["code"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, v)
}

func (h *Handlers) DetachBarcode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.manager.DetachBarcode(r.Context(), principalFrom(r.Context()), code); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"detached": code})
}

func (h *Handlers) SetPrimaryBarcode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.manager.SetPrimaryBarcode(r.Context(), principalFrom(r.Context()), code); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"primary": code})
}
