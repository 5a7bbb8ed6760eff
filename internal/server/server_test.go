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

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolend/agrolend/internal/config"
	"github.com/agrolend/agrolend/internal/logging"
	"github.com/agrolend/agrolend/internal/policy"
)

func testConfig() config.Config {
	return config.Config{
		AppName:              "AgroLend",
		Env:                  "test",
		Port:                 "0",
		ShutdownPeriod:       time.Second,
		IdempotencyTTL:       time.Hour,
		JWTSecret:            "test-access",
		RefreshSecret:        "test-refresh",
		AccessTokenTTL:       time.Minute,
		RefreshTokenTTL:      time.Hour,
		LoginPerMinute:       20,
		RateLimitRPS:         1000,
		RateLimitBurst:       1000,
		LockTTL:              time.Second,
		LockWait:             time.Second,
		WithdrawalDelay:      time.Hour,
		WithdrawalSweepSpec:  "@every 1m",
		WithdrawalStaleAfter: time.Minute,
		OutboxDrainSpec:      "@every 1m",
		OutboxMaxAttempts:    3,
		OutboxBatch:          10,
		Lending:              policy.DefaultLending(),
		SeedDemoData:         true,
	}
}

type client struct {
	t     *testing.T
	app   *fiber.App
	token string
}

func (c *client) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestLenderFundsLoanEndToEnd(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), nil, nil, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	c := &client{t: t, app: srv.App()}

	status, body := c.do(http.MethodPost, "/api/v1/identity/register",
		`{"email":"fund@example.com","password":"harvest-2024","name":"Harvest Fund"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["wallet_id"])

	status, body = c.do(http.MethodPost, "/api/v1/auth/login", `{"email":"fund@example.com","password":"harvest-2024"}`)
	require.Equal(t, http.StatusOK, status, body)
	c.token = body["access_token"].(string)

	status, body = c.do(http.MethodPost, "/api/v1/wallet/top-up", `{"amount":"100000"}`)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = c.do(http.MethodPost, "/api/v1/loan-applications/demo-app-maize/approve", "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "49800", body["new_balance"])
	assert.Equal(t, "200", body["platform_fee"])

	status, body = c.do(http.MethodPost, "/api/v1/loan-applications/demo-app-maize/approve", "")
	assert.Equal(t, http.StatusConflict, status, body)

	status, body = c.do(http.MethodPost, "/api/v1/loan-applications/demo-app-irrigation/approve", "")
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient funds: need 251500.00, have 49800.00", body["error"])

	today := time.Now().UTC().Format("2006-01-02")
	status, body = c.do(http.MethodGet, "/api/v1/wallet/statement?start="+today+"&end="+today, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "100000", body["total_credit"])
	assert.Equal(t, "50200", body["total_debit"])

	status, _ = c.do(http.MethodPost, "/api/v1/auth/logout", "")
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/api/v1/wallet", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), nil, nil, logging.Discard())
	require.NoError(t, err)
	c := &client{t: t, app: srv.App()}

	status, body := c.do(http.MethodGet, "/api/v1/wallet", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing bearer token", body["error"])

	status, body = c.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", body["env"])
}

func TestNewRequiresBackendsOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	_, err := New(context.Background(), cfg, nil, nil, logging.Discard())
	assert.Error(t, err)
}
