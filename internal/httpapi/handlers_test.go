package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/feed"
	"posledger/internal/metrics"
	"posledger/internal/service"
	"posledger/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	hub := feed.NewHub(zerolog.Nop())
	svc := service.New(repo, service.Options{Feed: hub, Location: time.UTC})
	auth := NewAuthManager("test-secret-key", time.Hour, repo, cache.NewMemoryRevocations())

	return New(svc, auth, hub, metrics.New(), "*")
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func (c *client) do(method string, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func loginAs(t *testing.T, api *API, handler http.Handler, email string, password string) *client {
	t.Helper()
	c := &client{t: t, handler: handler}
	rec := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", email, rec.Code, rec.Body.String())
	}
	c.token = decodeBody[domain.LoginResponse](t, rec).AccessToken
	c.csrf = fetchCSRFToken(t, api)
	return c
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentialsAreGeneric(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, handler: api.Handler()}

	for _, req := range []domain.LoginRequest{
		{Email: "master@posledger.local", Password: "wrongpassword"},
		{Email: "ghost@posledger.local", Password: "master123"},
	} {
		rec := c.do(http.MethodPost, "/api/v1/auth/login", req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
		}
		assert.Equal(t, "login failed", decodeBody[map[string]any](t, rec)["error"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoleGatingPerRoute(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	casher := loginAs(t, api, handler, "casher@posledger.local", "casher123")
	manager := loginAs(t, api, handler, "manager@posledger.local", "manager123")

	assert.Equal(t, http.StatusForbidden, casher.do(http.MethodGet, "/api/v1/sales/dashboard", nil).Code)
	assert.Equal(t, http.StatusForbidden, casher.do(http.MethodGet, "/api/v1/users", nil).Code)
	assert.Equal(t, http.StatusForbidden, manager.do(http.MethodPost, "/api/v1/draft/items", domain.DraftItemRequest{ProductID: "menu-latte"}).Code)
	assert.Equal(t, http.StatusOK, manager.do(http.MethodGet, "/api/v1/sales/dashboard?filter=this_week", nil).Code)
	assert.Equal(t, http.StatusOK, casher.do(http.MethodGet, "/api/v1/catalog", nil).Code)
}

func TestOrderFlowSubmitAndCancel(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	casher := loginAs(t, api, handler, "casher@posledger.local", "casher123")

	rec := casher.do(http.MethodPost, "/api/v1/draft/items", domain.DraftItemRequest{ProductID: "menu-americano"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = casher.do(http.MethodPatch, "/api/v1/draft/items/menu-americano", domain.DraftQuantityRequest{Delta: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = casher.do(http.MethodPut, "/api/v1/draft/discount", domain.DraftDiscountRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[domain.DraftView](t, rec)
	assert.Equal(t, int64(5500), view.Total)

	rec = casher.do(http.MethodPost, "/api/v1/draft/submit", domain.SubmitRequest{PaymentMethod: "카드"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decodeBody[domain.SubmitResponse](t, rec)
	require.Len(t, submitted.Orders, 1)
	orderID := submitted.Orders[0].ID
	assert.Equal(t, domain.PaymentCard, submitted.Orders[0].PaymentMethod)

	rec = casher.do(http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[map[string][]domain.Order](t, rec)
	require.Len(t, listed["orders"], 1)

	rec = casher.do(http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", domain.CancelOrderRequest{Reason: "customer left"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = casher.do(http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", domain.CancelOrderRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = casher.do(http.MethodGet, "/api/v1/orders/ord-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftConflictsMapTo409(t *testing.T) {
	api := newTestAPI(t)
	casher := loginAs(t, api, api.Handler(), "casher@posledger.local", "casher123")

	rec := casher.do(http.MethodPost, "/api/v1/draft/submit", domain.SubmitRequest{PaymentMethod: "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = casher.do(http.MethodPost, "/api/v1/draft/items", domain.DraftItemRequest{ProductID: "menu-strawberry"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = casher.do(http.MethodPost, "/api/v1/draft/expenses", domain.DraftExpenseRequest{Description: "얼음", Amount: 2000})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = casher.do(http.MethodPost, "/api/v1/draft/items", domain.DraftItemRequest{ProductID: "menu-latte"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidationErrorsListFields(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, api.Handler(), "manager@posledger.local", "manager123")

	rec := manager.do(http.MethodPost, "/api/v1/products/menu-latte/adjustments", domain.AdjustmentRequest{Mode: "twist", Amount: 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok, "expected fields in %v", body)
	assert.Contains(t, fields, "mode")
	assert.Contains(t, fields, "amount")
	assert.Contains(t, fields, "reason")
}

func TestLogoutRevokesTokenOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	casher := loginAs(t, api, api.Handler(), "casher@posledger.local", "casher123")

	rec := casher.do(http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = casher.do(http.MethodGet, "/api/v1/draft", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInventoryExportDownload(t *testing.T) {
	api := newTestAPI(t)
	master := loginAs(t, api, api.Handler(), "master@posledger.local", "master123")

	rec := master.do(http.MethodPost, "/api/v1/products/menu-bagel/adjustments", domain.AdjustmentRequest{Mode: "add", Amount: 5, Reason: "restock"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = master.do(http.MethodGet, "/api/v1/inventory/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inventory-history-")
	assert.Contains(t, rec.Body.String(), "restock")

	rec = master.do(http.MethodGet, "/api/v1/inventory/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx should be a zip archive")
}

func TestUserManagementIsMasterOnly(t *testing.T) {
	api := newTestAPI(t)
	master := loginAs(t, api, api.Handler(), "master@posledger.local", "master123")

	rec := master.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{Email: "new@posledger.local", Password: "abcdef", Role: "casher"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = master.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{Email: "new@posledger.local", Password: "abcdef", Role: "casher"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = master.do(http.MethodGet, "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[map[string][]domain.User](t, rec)
	assert.Len(t, users["users"], 4)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `posledger_http_requests_total{method="GET",route="GET /healthz",status="200"} 1`)
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	casher := loginAs(t, api, api.Handler(), "casher@posledger.local", "casher123")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/subscribe?collection=menuItems&access_token="+casher.token, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var snap struct {
		Collection string           `json:"collection"`
		Data       []domain.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, feed.Products, snap.Collection)
	assert.Len(t, snap.Data, 7)
}

func TestSubscribeRejectsUnknownCollection(t *testing.T) {
	api := newTestAPI(t)
	casher := loginAs(t, api, api.Handler(), "casher@posledger.local", "casher123")

	rec := casher.do(http.MethodGet, "/api/v1/subscribe?collection=ledger", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = casher.do(http.MethodGet, "/api/v1/subscribe?collection=inventory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
