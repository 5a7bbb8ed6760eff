package wallet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*fiber.App, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	h := NewHandler(svc)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals("user_id", uid)
		}
		return c.Next()
	})
	app.Get("/wallet", h.Get)
	app.Post("/wallet/top-up", h.TopUp)
	app.Post("/wallet/withdrawals", h.Withdraw)
	app.Get("/wallet/withdrawals/:id", h.Withdrawal)
	app.Get("/wallet/transactions", h.Transactions)
	return app, svc
}

func doJSON(t *testing.T, app *fiber.App, method, path, user, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	if len(out) == 0 {
		out["raw"] = string(raw)
	}
	return resp, out
}

func TestHandlerTopUpAndWithdraw(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/wallet/top-up", "lender-1", `{"amount": 10000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "10000", body["new_balance"])

	resp, body = doJSON(t, app, http.MethodPost, "/wallet/withdrawals", "lender-1",
		`{"amount": "2500.50", "bank_name": "GTBank", "account_number": "0001112223", "account_name": "Ada Obi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "7499.5", body["new_balance"])
	assert.Equal(t, "pending", body["status"])

	id, _ := body["withdrawal_id"].(string)
	resp, body = doJSON(t, app, http.MethodGet, "/wallet/withdrawals/"+id, "lender-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GTBank", body["bank_name"])

	resp, body = doJSON(t, app, http.MethodGet, "/wallet/transactions?limit=1", "lender-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs, _ := body["transactions"].([]any)
	require.Len(t, txs, 1)
	assert.Equal(t, "withdrawal", txs[0].(map[string]any)["type"])
}

func TestHandlerMapsDeclines(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/wallet", "lender-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/wallet/withdrawals", "lender-1",
		`{"amount": 100, "bank_name": "GTBank", "account_number": "0001112223", "account_name": "Ada Obi"}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, body["raw"], "insufficient funds: need 100.00, have 0.00")

	resp, _ = doJSON(t, app, http.MethodPost, "/wallet/withdrawals", "lender-1", `{"amount": 100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/wallet/top-up", "lender-1", `{"amount": -5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/wallet/top-up", "lender-1", `{"amount": 10.005}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/wallet/withdrawals/nope", "lender-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/wallet", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
