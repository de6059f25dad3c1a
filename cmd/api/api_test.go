package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/blob"
	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
	"github.com/nemonet1337/tireshop-ledger/pkg/reconcile"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, identity.Bangkok)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *identity.TokenResolver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := identity.NewFixedClock(now)
	reg := prometheus.NewRegistry()
	logger := zap.NewNop()
	mgr := inventory.NewManager(storage.NewMemoryStorage(), logger, nil,
		inventory.WithClock(clock),
		inventory.WithCache(cache.New(cache.NewMemoryStore(clock.Now), logger, nil)),
		inventory.WithBlobStore(blob.NewMemoryStore("https://cdn.example.test/ledger")),
		inventory.WithRegisterer(reg),
	)
	require.NoError(t, mgr.Bootstrap(context.Background()))

	reports := report.NewService(mgr, logger, reg)
	tokens := identity.NewTokenResolver("test-secret", clock)
	h := NewHandlers(mgr, reports, reconcile.NewService(mgr, reports, logger), tokens, time.Hour, logger)
	srv := httptest.NewServer(setupRouter(h, reg, true, true))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, tokens: tokens}
}

func (s *testServer) token(p identity.Principal) string {
	tok, err := s.tokens.Issue(p, time.Hour)
	require.NoError(s.t, err)
	return tok
}

// do sends body as JSON and decodes the response envelope.
func (s *testServer) do(method, path, token string, body interface{}) (int, APIResponse, json.RawMessage) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()

	var envelope struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(s.t, json.NewDecoder(res.Body).Decode(&envelope))
	return res.StatusCode, envelope.APIResponse, envelope.Data
}

var (
	admin  = identity.Principal{UserID: 1, Username: "admin", Role: identity.RoleAdmin}
	retail = identity.Principal{UserID: 3, Username: "malee", Role: identity.RoleRetailSales}
)

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t)

	code, resp, _ := s.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, resp, _ = s.do("GET", "/api/v1/products/tire", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Unauthorized", resp.Error.Kind)

	code, _, _ = s.do("GET", "/api/v1/products/tire", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp, _ = s.do("POST", "/api/v1/login", "", loginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp, data := s.do("POST", "/api/v1/login", "", loginRequest{Username: "admin", Password: "admin"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var login struct {
		Token string             `json:"token"`
		User  identity.Principal `json:"user"`
	}
	require.NoError(t, json.Unmarshal(data, &login))
	assert.Equal(t, identity.RoleAdmin, login.User.Role)

	code, _, _ = s.do("GET", "/api/v1/products/tire", login.Token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStockFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(admin)

	code, resp, data := s.do("POST", "/api/v1/products", tok, map[string]interface{}{
		"family": "tire",
		"tire":   map[string]string{"brand": "Michelin", "model": "Primacy 4", "size": "205/55R16"},
		"prices": map[string]string{"retail_price": "3200"},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var product struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &product))

	move := func(typ, channel string, qty int64) (int, APIResponse) {
		code, resp, _ := s.do("POST", "/api/v1/movements", tok, map[string]interface{}{
			"family": "tire", "product_id": product.ID, "type": typ, "quantity": qty, "channel": channel,
		})
		return code, resp
	}
	code, resp = move("IN", inventory.ChannelPurchaseIn, 5)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	code, resp = move("OUT", inventory.ChannelStorefront, 2)
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = move("OUT", inventory.ChannelStorefront, 10)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "InsufficientStock", resp.Error.Kind)

	code, resp, _ = s.do("POST", "/api/v1/products", tok, map[string]interface{}{
		"family": "tire",
		"tire":   map[string]string{"brand": "michelin", "model": "PRIMACY 4", "size": "205/55r16"},
		"prices": map[string]string{"retail_price": "3200"},
	})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(inventory.ConflictDuplicateNaturalKey), resp.Error.Kind)

	code, _, data = s.do("GET", fmt.Sprintf("/api/v1/products/tire/%d/stock", product.ID), tok, nil)
	require.Equal(t, http.StatusOK, code)
	var stock struct {
		Quantity int64 `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal(data, &stock))
	assert.Equal(t, int64(3), stock.Quantity)

	code, resp, data = s.do("GET", "/api/v1/reports/period?from=2024-03-01&to=2024-03-31", tok, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, inventory.Aggregate{In: 5, Out: 2, Closing: 3}, rep.GrandTotal)

	code, resp, _ = s.do("GET", "/api/v1/reports/daily", s.token(retail), nil)
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PermissionDenied", resp.Error.Kind)

	code, resp, _ = s.do("GET", "/api/v1/reports/period?from=2024-13-01", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "from", resp.Error.Field)
}

func TestReconciliationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(admin)

	code, resp, data := s.do("POST", "/api/v1/reconciliations", tok, openReconciliationRequest{Date: "2024-03-15"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var rec inventory.Reconciliation
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, inventory.ReconciliationPending, rec.Status)

	path := fmt.Sprintf("/api/v1/reconciliations/%d", rec.ID)
	code, resp, _ = s.do("PUT", path+"/ledger", tok, map[string]int{"cash": 1000})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp, data = s.do("POST", path+"/complete", tok, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, inventory.ReconciliationCompleted, rec.Status)

	code, resp, _ = s.do("PUT", path+"/ledger", tok, map[string]int{"cash": 2000})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(inventory.ConflictReconciliationDone), resp.Error.Kind)
}

func TestBoardOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(admin)

	code, resp, _ := s.do("POST", "/api/v1/announcements", s.token(retail), map[string]interface{}{
		"title": "stocktake", "body": "count on friday", "is_active": true,
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp, data := s.do("POST", "/api/v1/announcements", tok, map[string]interface{}{
		"title": "stocktake", "body": "count on friday", "is_active": true,
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var a inventory.Announcement
	require.NoError(t, json.Unmarshal(data, &a))

	code, _, data = s.do("GET", "/api/v1/announcements", s.token(retail), nil)
	require.Equal(t, http.StatusOK, code)
	var board []inventory.Announcement
	require.NoError(t, json.Unmarshal(data, &board))
	require.Len(t, board, 1)

	code, resp, _ = s.do("PUT", fmt.Sprintf("/api/v1/announcements/%d", a.ID), tok, map[string]interface{}{
		"title": "stocktake", "body": "count on friday", "is_active": false,
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	_, _, data = s.do("GET", "/api/v1/announcements", s.token(retail), nil)
	require.NoError(t, json.Unmarshal(data, &board))
	assert.Empty(t, board)

	code, resp, data = s.do("POST", "/api/v1/feedback", s.token(retail), feedbackRequest{Message: "barcode gun needs batteries"})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var f inventory.Feedback
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, inventory.FeedbackOpen, f.Status)

	code, _, _ = s.do("GET", "/api/v1/feedback", s.token(retail), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp, data = s.do("POST", fmt.Sprintf("/api/v1/feedback/%d/resolve", f.ID), tok, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, inventory.FeedbackResolved, f.Status)

	code, resp, _ = s.do("GET", "/api/v1/feedback?status=pending", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "status", resp.Error.Field)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do("GET", "/health", "", nil)

	res, err := s.srv.Client().Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, buf.String(), "tireshop_http_requests_total")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{&identity.PermissionDeniedError{Role: identity.RoleViewer, Operation: identity.OpEditCatalog}, http.StatusForbidden, "PermissionDenied"},
		{inventory.NewValidationError("quantity", "must be positive", "0"), http.StatusBadRequest, "Validation"},
		{inventory.NewNotFoundError("tire", 9), http.StatusNotFound, "NotFound"},
		{inventory.NewConflictError(inventory.ConflictBarcodeCollision, "taken", nil), http.StatusConflict, "BarcodeCollision"},
		{&inventory.InsufficientStockError{Available: 1, Requested: 2}, http.StatusUnprocessableEntity, "InsufficientStock"},
		{fmt.Errorf("lock: %w", inventory.ErrContention), http.StatusServiceUnavailable, "Contention"},
		{&inventory.InvariantViolationError{Invariant: "period_balance"}, http.StatusInternalServerError, "InvariantViolation"},
		{inventory.ErrInvalidCredentials, http.StatusUnauthorized, "Unauthorized"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal"},
	}
	for _, tc := range cases {
		status, body := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, body.Kind, tc.err.Error())
	}

	status, body := classify(&inventory.BulkItemError{Index: 2, Cause: inventory.NewValidationError("channel", "unknown", "x")})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, body.Index)
	assert.Equal(t, 2, *body.Index)
}
