package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/domain"
	"medipos/m/internal/backup"
	blobmem "medipos/m/internal/blob/memory"
	"medipos/m/internal/store/memory"
)

type testServer struct {
	*httptest.Server
	handler *Handler
	runner  *backup.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := memory.New()
	engine := backup.New(s, blobmem.New(), zerolog.Nop(), backup.WithScratchDir(t.TempDir()))
	runner := backup.NewRunner(engine, 1, 4)
	h := New(Deps{
		Store:       s,
		Backups:     engine,
		Runner:      runner,
		Logger:      zerolog.Nop(),
		Secret:      "test-secret",
		Version:     "test",
		CORSOrigins: []string{"*"},
	})
	_, created, err := h.EnsureAdmin(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	require.True(t, created)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &testServer{Server: srv, handler: h, runner: runner}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, raw := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out authResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (s *testServer) createMedicine(t *testing.T, token string, stock int64) map[string]any {
	t.Helper()
	resp, raw := s.do(t, http.MethodPost, "/api/medicines", token, map[string]any{
		"name":                "Paracetamol 500mg",
		"purchase_price":      1.5,
		"selling_price":       2.5,
		"stock_quantity":      stock,
		"minimum_stock_level": 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	return decode[map[string]any](t, raw)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, raw := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[healthResponse](t, raw).Status)
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	me := decode[map[string]any](t, raw)
	user := me["user"].(map[string]any)
	assert.Equal(t, "admin", user["username"])
	assert.NotContains(t, user, "password_hash")
	perms := me["permissions"].(map[string]any)
	assert.Equal(t, true, perms["backup_restore"])

	resp, raw = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, raw).Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/api/medicines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/medicines", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStaffPermissions(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodPost, "/api/users", admin, map[string]any{
		"username": "cashier",
		"password": "cashier1",
		"role":     "staff",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, raw = s.do(t, http.MethodPost, "/api/users", admin, map[string]any{
		"username": "cashier",
		"password": "another1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	med := s.createMedicine(t, admin, 10)
	staff := s.login(t, "cashier", "cashier1")

	resp, _ = s.do(t, http.MethodGet, "/api/medicines", staff, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = s.do(t, http.MethodDelete, "/api/medicines/"+med["id"].(string), staff, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decode[errorBody](t, raw).Code)

	resp, _ = s.do(t, http.MethodGet, "/api/analytics/dashboard", staff, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSaleIsIdempotentAndChecksStock(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")
	med := s.createMedicine(t, token, 10)
	id := med["id"].(string)

	sale := func(qty int) map[string]any {
		return map[string]any{
			"items": []map[string]any{{
				"medicine_id":   id,
				"medicine_name": "Paracetamol 500mg",
				"quantity":      qty,
				"unit_price":    2.5,
				"total_price":   2.5 * float64(qty),
			}},
			"subtotal":       2.5 * float64(qty),
			"total_amount":   2.5 * float64(qty),
			"payment_method": "cash",
		}
	}

	resp, raw := s.do(t, http.MethodPost, "/api/sales", token, sale(3), idempotencyHeader, "till-1-0001")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	first := decode[map[string]any](t, raw)

	resp, raw = s.do(t, http.MethodPost, "/api/sales", token, sale(3), idempotencyHeader, "till-1-0001")
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))
	dup := decode[errorBody](t, raw)
	assert.Equal(t, "CONFLICT", dup.Code)
	assert.Equal(t, first["id"], dup.Details["sale_id"])

	resp, raw = s.do(t, http.MethodPost, "/api/sales", token, sale(50), idempotencyHeader, "till-1-0002")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	assert.Equal(t, "BUSINESS_RULE_VIOLATION", decode[errorBody](t, raw).Code)

	resp, raw = s.do(t, http.MethodGet, "/api/medicines/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, decode[map[string]any](t, raw)["stock_quantity"])

	resp, raw = s.do(t, http.MethodGet, "/api/stock-movements/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, raw), 2)

	// the failed key was released and can be retried
	resp, raw = s.do(t, http.MethodPost, "/api/sales", token, sale(2), idempotencyHeader, "till-1-0002")
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
}

func TestMedicineUpdateRejectsStock(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")
	med := s.createMedicine(t, token, 10)
	path := "/api/medicines/" + med["id"].(string)

	resp, raw := s.do(t, http.MethodPut, path, token, map[string]any{"stock_quantity": 99})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, raw).Code)

	resp, raw = s.do(t, http.MethodPut, path, token, map[string]any{"selling_price": 3.0})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	updated := decode[map[string]any](t, raw)
	assert.EqualValues(t, 3.0, updated["selling_price"])
	assert.EqualValues(t, 10, updated["stock_quantity"])
}

func TestCreateMedicineMinimumStockLevel(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodPost, "/api/medicines", token, map[string]any{
		"name":                "Saline 0.9%",
		"selling_price":       1.0,
		"minimum_stock_level": 0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.EqualValues(t, 0, decode[map[string]any](t, raw)["minimum_stock_level"])

	resp, raw = s.do(t, http.MethodPost, "/api/medicines", token, map[string]any{
		"name":          "Omeprazole",
		"selling_price": 4.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.EqualValues(t, domain.DefaultMinimumStockLevel, decode[map[string]any](t, raw)["minimum_stock_level"])

	resp, raw = s.do(t, http.MethodPost, "/api/medicines", token, map[string]any{
		"name":           "Bulk",
		"stock_quantity": domain.MaxQuantity + 1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, raw).Code)
}

func TestTelegramEndpointsNeedConfiguration(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodPost, "/api/test-telegram", token, map[string]string{"bot_token": "123:abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	res := decode[telegramResult](t, raw)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	resp, raw = s.do(t, http.MethodPost, "/api/send-test-daily-report", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	assert.Equal(t, "BUSINESS_RULE_VIOLATION", decode[errorBody](t, raw).Code)
}

func TestInitAdminOnlyOnce(t *testing.T) {
	s := newTestServer(t)
	resp, raw := s.do(t, http.MethodPost, "/api/auth/init-admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, "Admin user already exists", decode[map[string]string](t, raw)["message"])
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodPost, "/api/settings", token, map[string]any{
		"general": map[string]any{"shop_name": "Green Cross"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = s.do(t, http.MethodGet, "/api/settings", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, raw)
	assert.Equal(t, "Green Cross", doc["general"].(map[string]any)["shop_name"])
	assert.Contains(t, doc, "printer")

	resp, _ = s.do(t, http.MethodPost, "/api/settings", token, map[string]any{
		"theme": map[string]any{"dark": true},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTemplateDuplicate(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodPost, "/api/custom-templates", token, map[string]any{
		"name":      "Receipt",
		"html":      "<div>{{shop_name}}</div>",
		"category":  "receipt",
		"is_public": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	src := decode[map[string]any](t, raw)

	resp, raw = s.do(t, http.MethodPost, "/api/custom-templates/"+src["id"].(string)+"/duplicate", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	dup := decode[map[string]any](t, raw)
	assert.Equal(t, "Receipt (Copy)", dup["name"])
	assert.Equal(t, "custom", dup["category"])
	assert.Equal(t, false, dup["is_public"])
	assert.Equal(t, "admin", dup["created_by"])
	assert.NotEqual(t, src["id"], dup["id"])
}

func TestBackupCreateRunsInBackground(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")
	s.createMedicine(t, token, 4)

	resp, raw := s.do(t, http.MethodPost, "/api/backup/create", token, map[string]any{
		"name":             "nightly",
		"include_database": true,
		"include_settings": true,
		"create_archive":   true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	info := decode[map[string]any](t, raw)
	assert.Equal(t, "creating", info["status"])
	assert.Equal(t, "admin", info["created_by"])
	id := info["id"].(string)

	require.Eventually(t, func() bool {
		resp, raw := s.do(t, http.MethodGet, "/api/backup/"+id, token, nil)
		return resp.StatusCode == http.StatusOK && decode[map[string]any](t, raw)["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	resp, raw = s.do(t, http.MethodGet, "/api/backup/"+id+"/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, true, decode[backup.VerifyResult](t, raw).Valid)

	resp, raw = s.do(t, http.MethodGet, "/api/backup/list", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, raw), 1)
}

func TestSystemStatus(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")
	s.createMedicine(t, token, 1)

	resp, raw := s.do(t, http.MethodGet, "/api/system-status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	status := decode[systemStatus](t, raw)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "connected", status.Database.Status)
	assert.EqualValues(t, 1, status.Database.Collections["medicines"])
	assert.EqualValues(t, 1, status.Database.Collections["users"])
}

func TestPermissionDefinitions(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", "admin123")

	resp, raw := s.do(t, http.MethodGet, "/api/permissions/definitions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defs := decode[map[string]map[string]any](t, raw)
	assert.Len(t, defs["permissions"], 32)
	assert.Contains(t, defs["categories"], "backup")
}
