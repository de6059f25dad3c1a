package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// APIResponse represents standard API response format
// รูปแบบการตอบกลับมาตรฐานของ API
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the error body. Kind is the conflict kind or error class.
type APIError struct {
	Kind     string      `json:"kind"`
	Message  string      `json:"message"`
	Field    string      `json:"field,omitempty"`
	Existing interface{} `json:"existing,omitempty"`
	Index    *int        `json:"index,omitempty"`
}

func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

func (h *Handlers) sendError(w http.ResponseWriter, status int, kind, message string) {
	h.sendJSON(w, status, APIResponse{Error: &APIError{Kind: kind, Message: message}})
}

func (h *Handlers) sendJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write response failed", zap.Error(err))
	}
}

// fail maps a core error onto an HTTP status and body.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.sendJSON(w, status, APIResponse{Error: body})
}

func classify(err error) (int, *APIError) {
	body := &APIError{Message: err.Error()}
	var bulk *inventory.BulkItemError
	if errors.As(err, &bulk) {
		idx := bulk.Index
		body.Index = &idx
	}

	var (
		pd  *identity.PermissionDeniedError
		ve  *inventory.ValidationError
		nf  *inventory.NotFoundError
		ce  *inventory.ConflictError
		ise *inventory.InsufficientStockError
		up  *inventory.UpstreamUnavailableError
		iv  *inventory.InvariantViolationError
	)
	switch {
	case errors.Is(err, inventory.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidToken):
		body.Kind = "Unauthorized"
		return http.StatusUnauthorized, body
	case errors.As(err, &pd):
		body.Kind = "PermissionDenied"
		return http.StatusForbidden, body
	case errors.As(err, &ve):
		body.Kind = "Validation"
		body.Field = ve.Field
		return http.StatusBadRequest, body
	case errors.As(err, &nf):
		body.Kind = "NotFound"
		return http.StatusNotFound, body
	case errors.As(err, &ce):
		body.Kind = string(ce.Kind)
		body.Existing = ce.Existing
		return http.StatusConflict, body
	case errors.As(err, &ise):
		body.Kind = "InsufficientStock"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, inventory.ErrContention):
		body.Kind = "Contention"
		return http.StatusServiceUnavailable, body
	case errors.As(err, &up):
		body.Kind = "UpstreamUnavailable"
		return http.StatusBadGateway, body
	case errors.As(err, &iv):
		body.Kind = "InvariantViolation"
		return http.StatusInternalServerError, body
	}
	body.Kind = "Internal"
	body.Message = "internal error"
	return http.StatusInternalServerError, body
}

// decode reads a JSON body into dst.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "Validation", "invalid request body: "+err.Error())
		return false
	}
	return true
}

const maxBodyBytes = 8 << 20

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, inventory.NewValidationError(name, "must be a positive integer", raw)
	}
	return id, nil
}

func pathFamily(r *http.Request) (inventory.Family, error) {
	f := inventory.Family(mux.Vars(r)["family"])
	if !f.Valid() {
		return "", inventory.NewValidationError("family", "unknown product family", string(f))
	}
	return f, nil
}

func pathRef(r *http.Request) (inventory.ProductRef, error) {
	family, err := pathFamily(r)
	if err != nil {
		return inventory.ProductRef{}, err
	}
	id, err := pathInt64(r, "id")
	if err != nil {
		return inventory.ProductRef{}, err
	}
	return inventory.ProductRef{Family: family, ID: id}, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, inventory.NewValidationError(name, "must be an integer", raw)
	}
	return &v, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	v, err := queryInt64(r, "limit")
	if err != nil || v == nil {
		return def, err
	}
	if *v < 0 {
		return 0, inventory.NewValidationError("limit", "must not be negative", strconv.FormatInt(*v, 10))
	}
	return int(*v), nil
}

// queryDate parses a YYYY-MM-DD Bangkok date. def is used when absent.
func queryDate(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	d, err := identity.ParseDate(raw)
	if err != nil {
		return time.Time{}, inventory.NewValidationError(name, "expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// queryTime parses an RFC 3339 instant or a Bangkok date.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	d, err := identity.ParseDate(raw)
	if err != nil {
		return nil, inventory.NewValidationError(name, "expected RFC 3339 time or YYYY-MM-DD", raw)
	}
	return &d, nil
}
