package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/palaystore/internal/config"
	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/logging"
	"github.com/JonMunkholm/palaystore/internal/schema"
	"github.com/JonMunkholm/palaystore/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			ShutdownTimeout: time.Second,
			RequestTimeout:  5 * time.Second,
		},
		Storage: config.StorageConfig{MaxBodyBytes: 1 << 16},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *store.Store) {
	t.Helper()

	var n atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%d", n.Add(1)) }

	path := filepath.Join(t.TempDir(), "data.txt")
	st, err := store.New(path, schema.Default(),
		store.WithLogger(logging.Discard()),
		store.WithIDGenerator(ids),
	)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Storage.DataFile = path
	if mutate != nil {
		mutate(cfg)
	}

	srv := NewServer(st, cfg, logging.Discard())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, st
}

func do(t *testing.T, srv *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestGetData_MissingFileReturnsDefaults(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.JSONEq(t, `[]`, string(got["provinces"]))
	assert.JSONEq(t, `[]`, string(got["logEntries"]))
	assert.JSONEq(t, `{}`, string(got["pricing"]))
}

func TestMutate_AddReturnsUpdatedList(t *testing.T) {
	srv, st := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{"id":"client","name":"Iloilo"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"id":"id-1","name":"Iloilo"}]`, rec.Body.String())

	data, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[provinces]\nid,name\nid-1,Iloilo\n\n")

	rec = do(t, srv, http.MethodGet, "/api/lists/provinces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"id-1","name":"Iloilo"}]`, rec.Body.String())
}

func TestMutate_UpdateAndDelete(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	do(t, srv, http.MethodPost, "/api/lists/warehouses/add", `{"name":"North","code":"007"}`)

	rec := do(t, srv, http.MethodPost, "/api/lists/warehouses/update", `{"id":"id-1","name":"North Depot","code":"007"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t,
		`[{"id":"id-1","name":"North Depot","code":"007","province":"","address":""}]`,
		rec.Body.String())

	for i := 0; i < 2; i++ {
		rec = do(t, srv, http.MethodPost, "/api/lists/warehouses/delete", `{"id":"id-1"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `[]`, rec.Body.String())
	}
}

func TestMutate_PricingMap(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/lists/pricing/add", `{"key":"palay","value":"18.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"palay":18.5}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/lists/pricing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"palay":18.5}`, rec.Body.String())
}

func TestMutate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown list", "/api/lists/bogus/add", `{"name":"x"}`, http.StatusNotFound, "LIST001"},
		{"invalid action", "/api/lists/provinces/upsert", `{"name":"x"}`, http.StatusBadRequest, "REQ001"},
		{"update target missing", "/api/lists/provinces/update", `{"id":"nope","name":"x"}`, http.StatusNotFound, "REC001"},
		{"missing required field", "/api/lists/provinces/add", `{"name":"  "}`, http.StatusBadRequest, "VAL001"},
		{"malformed json", "/api/lists/provinces/add", `{"name":`, http.StatusBadRequest, "VAL001"},
		{"wrong body type", "/api/lists/provinces/add", `["Iloilo"]`, http.StatusBadRequest, "VAL001"},
		{"body too large", "/api/lists/provinces/add", `{"name":"` + strings.Repeat("x", 1<<16) + `"}`, http.StatusRequestEntityTooLarge, "VAL001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, st := newTestServer(t, nil)

			rec := do(t, srv, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)

			_, err := os.Stat(st.Path())
			assert.True(t, os.IsNotExist(err), "a failed mutation must not write the file")
		})
	}
}

func TestMutate_ValidationErrorListsFields(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeError(t, rec)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "name", resp.Fields[0].Field)
}

func TestGetData_CorruptFile(t *testing.T) {
	srv, st := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(st.Path(), []byte("garbage without headers\n"), 0o644))

	rec := do(t, srv, http.MethodGet, "/api/data", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "FILE001", decodeError(t, rec).Code)
}

func TestReplaceData(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := `{"provinces":[{"name":"Iloilo"},{"id":"p-2","name":"Capiz"}],"pricing":{"palay":19}}`
	rec := do(t, srv, http.MethodPost, "/api/data", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/lists/provinces", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"id-1","name":"Iloilo"},{"id":"p-2","name":"Capiz"}]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/lists/pricing", "")
	assert.JSONEq(t, `{"palay":19}`, rec.Body.String())
}

func TestReplaceData_UnknownSection(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/data", `{"bogus":[]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "LIST001", decodeError(t, rec).Code)
}

func TestAPIKeyAuth_GuardsMutations(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"k1", "k2"}
	})

	rec := do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{"name":"Iloilo"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_MISSING_KEY", decodeError(t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{"name":"Iloilo"}`, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH_INVALID_KEY", decodeError(t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{"name":"Iloilo"}`, "X-API-Key", "k2")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/data", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads need no key")
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, MutationLimit: 1, Burst: 1}
	})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := newRateLimiter(1, 1)
	defer rl.stop()

	assert.True(t, rl.allow("192.0.2.1"))
	assert.False(t, rl.allow("192.0.2.1"))
	assert.True(t, rl.allow("192.0.2.2"))
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Security.EnableCSP = true })

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestSchemaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Sections []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got.Sections)
	assert.Equal(t, "provinces", got.Sections[0].Name)
	assert.Equal(t, "list", got.Sections[0].Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/lists/provinces/add", `{"name":"Iloilo"}`)

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "palaystore_store_operations_total")
}

func TestWithRequestMetadata(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	req.RemoteAddr = "203.0.113.9:4567"
	req.Header.Set("User-Agent", "ledger/1.0")

	ctx := WithRequestMetadata(req.Context(), req)
	actor := core.ActorFromContext(ctx)
	assert.Equal(t, "203.0.113.9", actor.IPAddress)
	assert.Equal(t, "ledger/1.0", actor.UserAgent)
	assert.Equal(t, "http", actor.Source)
}
