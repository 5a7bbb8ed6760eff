package funding

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(f fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get("X-Test-User"); user != "" {
			c.Locals("user_id", user)
		}
		return c.Next()
	})
	app.Get("/loan-applications", h.Applications)
	app.Post("/loan-applications/:id/approve", h.Approve)
	app.Get("/contracts", h.Contracts)
	app.Get("/contracts/:id", h.Contract)
	return app
}

func call(t *testing.T, app *fiber.App, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Test-User", "lender-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestHandlerApproveAndList(t *testing.T) {
	f := newFixture(t, 100_000, 50_000)
	app := newApp(f)

	status, body := call(t, app, http.MethodGet, "/loan-applications")
	require.Equal(t, http.StatusOK, status)
	apps := body["applications"].([]any)
	require.Len(t, apps, 1)
	assert.Equal(t, "200", apps[0].(map[string]any)["platform_fee"])

	status, body = call(t, app, http.MethodPost, "/loan-applications/app-1/approve")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "49800", body["new_balance"])
	assert.Equal(t, true, body["notice_queued"])

	status, body = call(t, app, http.MethodGet, "/loan-applications")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["applications"])

	status, body = call(t, app, http.MethodGet, "/loan-applications?status=all")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["applications"], 1)

	status, body = call(t, app, http.MethodGet, "/contracts")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["contracts"], 1)
	contractID := body["contracts"].([]any)[0].(map[string]any)["id"].(string)

	status, body = call(t, app, http.MethodGet, "/contracts/"+contractID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "app-1", body["application_id"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "loan_funding", entries[0].(map[string]any)["type"])
	assert.Equal(t, "49800", entries[1].(map[string]any)["running_balance"])

	status, _ = call(t, app, http.MethodGet, "/contracts/unknown")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, app, http.MethodPost, "/loan-applications/app-1/approve")
	assert.Equal(t, http.StatusConflict, status)
}

func TestHandlerApproveErrors(t *testing.T) {
	f := newFixture(t, 1_000, 50_000)
	app := newApp(f)

	status, _ := call(t, app, http.MethodPost, "/loan-applications/app-1/approve")
	assert.Equal(t, http.StatusPaymentRequired, status)

	status, _ = call(t, app, http.MethodPost, "/loan-applications/missing/approve")
	assert.Equal(t, http.StatusNotFound, status)

	req := httptest.NewRequest(http.MethodPost, "/loan-applications/app-1/approve", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
