package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/wallet-engine/internal/config"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/logging"
)

const adminKey = "operator-key"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Config{
		AppName:         "wallet-test",
		AppEnv:          "development",
		Port:            "0",
		LockTimeout:     ledger.DefaultLockTimeout,
		RequestTTL:      24 * time.Hour,
		RequestRateMax:  10,
		BulkConcurrency: 2,
		AdminKeyHash:    string(hash),
	}
	srv, err := New(cfg, nil, nil, nil, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func call(t *testing.T, srv *Server, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func TestEndToEndPaymentFlow(t *testing.T) {
	srv := newTestServer(t)
	adminHeaders := map[string]string{"X-Admin-Key": adminKey}

	status, alice := call(t, srv, http.MethodPost, "/api/v1/admin/wallets", `{"name":"Alice","mobile":"+242060000001"}`, adminHeaders)
	require.Equal(t, http.StatusCreated, status)
	status, bob := call(t, srv, http.MethodPost, "/api/v1/admin/wallets", `{"name":"Bob","mobile":"+242060000002"}`, adminHeaders)
	require.Equal(t, http.StatusCreated, status)
	aliceID, bobID := alice["id"].(string), bob["id"].(string)

	status, report := call(t, srv, http.MethodPost, "/api/v1/admin/bulk/credit",
		`{"account_ids":["`+aliceID+`","missing"],"amount":"100.00","reason":"welcome"}`, adminHeaders)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, report["failed"])

	status, _ = call(t, srv, http.MethodPost, "/api/v1/payments/mobile", `{"mobile":"+242060000002","amount":"30.00"}`,
		map[string]string{"X-Account-ID": aliceID, "Idempotency-Key": "pay-1"})
	require.Equal(t, http.StatusCreated, status)

	status, wallet := call(t, srv, http.MethodGet, "/api/v1/wallet", "", map[string]string{"X-Account-ID": bobID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "30.00", wallet["balance"])

	status, rec := call(t, srv, http.MethodGet, "/api/v1/admin/accounts/"+aliceID+"/reconcile", "", adminHeaders)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, rec["consistent"])
}

func TestAuthGuards(t *testing.T) {
	srv := newTestServer(t)

	status, _ := call(t, srv, http.MethodGet, "/api/v1/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/admin/bulk/freeze", `{"account_ids":["x"]}`, map[string]string{"X-Admin-Key": "nope"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/payments/transfer", `{"payee_id":"x","amount":"1"}`, map[string]string{"X-Account-ID": "a"})
	assert.Equal(t, http.StatusBadRequest, status, "payments require an Idempotency-Key")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}
