package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Susanoo/app/middleware"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/config"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobHandler struct{}

func (stubJobHandler) ok(c fiber.Ctx) error {
	operator, _ := middleware.GetOperatorIDFromContext(c)
	return c.JSON(fiber.Map{"route": c.Route().Path, "operator": operator})
}

func (h stubJobHandler) Start(c fiber.Ctx) error     { return h.ok(c) }
func (h stubJobHandler) Pause(c fiber.Ctx) error     { return h.ok(c) }
func (h stubJobHandler) Resume(c fiber.Ctx) error    { return h.ok(c) }
func (h stubJobHandler) Stop(c fiber.Ctx) error      { return h.ok(c) }
func (h stubJobHandler) Reset(c fiber.Ctx) error     { return h.ok(c) }
func (h stubJobHandler) List(c fiber.Ctx) error      { return h.ok(c) }
func (h stubJobHandler) Get(c fiber.Ctx) error       { return h.ok(c) }
func (h stubJobHandler) Export(c fiber.Ctx) error    { return h.ok(c) }
func (h stubJobHandler) LatestRun(c fiber.Ctx) error { return h.ok(c) }

type stubAccountHandler struct{ stubJobHandler }

func (h stubAccountHandler) Register(c fiber.Ctx) error   { return h.ok(c) }
func (h stubAccountHandler) Deactivate(c fiber.Ctx) error { return h.ok(c) }

type stubAuthHandler struct{ stubJobHandler }

func (h stubAuthHandler) Refresh(c fiber.Ctx) error { return h.ok(c) }

func testConfig() *config.ProductionConfig {
	return &config.ProductionConfig{
		Server: config.ServerConfig{
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			IdleTimeout:  time.Second,
			BodyLimit:    1024 * 1024,
		},
		Security: config.SecurityConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			GlobalRateLimit:  1000,
			ControlRateLimit: 1000,
			RateLimitWindow:  time.Minute,
			RequireAuth:      true,
		},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Deployment: config.DeploymentConfig{Version: "test"},
	}
}

func newTestRouter(t *testing.T, cfg *config.ProductionConfig) (*fiber.App, services.TokenService) {
	t.Helper()
	tokens, err := services.NewTokenService(time.Minute, time.Hour, "susanoo", "operators", false, "", "", "router-test-secret-that-is-long-enough")
	require.NoError(t, err)

	r := NewFiberRouter(stubJobHandler{}, stubAccountHandler{}, stubAuthHandler{}, middleware.NewAuthMiddleware(tokens), cfg, io.Discard, zerolog.Nop())
	r.SetupRoutes()
	return r.GetApp(), tokens
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(body) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func TestHealthCheck(t *testing.T) {
	app, _ := newTestRouter(t, testConfig())

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "test", data["version"])
}

func TestNotFound(t *testing.T) {
	app, _ := newTestRouter(t, testConfig())

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, status)
	errDetail := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errDetail["code"])
}

func TestJobRoutesRequireOperatorToken(t *testing.T) {
	app, tokens := newTestRouter(t, testConfig())

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_AUTHORIZATION_HEADER", body["error"].(map[string]any)["code"])

	access, refresh, err := tokens.GenerateTokens("ops-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/CRM/acc-1", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	status, body = doRequest(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", body["error"].(map[string]any)["code"])

	tests := []struct {
		method string
		path   string
		route  string
	}{
		{http.MethodGet, "/api/v1/jobs/CRM/acc-1", "/api/v1/jobs/:platform/:account"},
		{http.MethodGet, "/api/v1/jobs/CRM/acc-1/export", "/api/v1/jobs/:platform/:account/export"},
		{http.MethodGet, "/api/v1/jobs/CRM/acc-1/runs/latest", "/api/v1/jobs/:platform/:account/runs/latest"},
		{http.MethodPost, "/api/v1/jobs/Bigin/acc-1/start", "/api/v1/jobs/:platform/:account/start"},
		{http.MethodPost, "/api/v1/jobs/Bigin/acc-1/pause", "/api/v1/jobs/:platform/:account/pause"},
		{http.MethodDelete, "/api/v1/jobs/Bigin/acc-1", "/api/v1/jobs/:platform/:account"},
		{http.MethodDelete, "/api/v1/accounts/acc-1", "/api/v1/accounts/:account"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+access)
			status, body := doRequest(t, app, req)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.route, body["route"])
			assert.Equal(t, "ops-1", body["operator"])
		})
	}
}

func TestRefreshIsPublic(t *testing.T) {
	app, _ := newTestRouter(t, testConfig())

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/api/v1/auth/refresh", body["route"])
}

func TestAuthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAuth = false
	app, _ := newTestRouter(t, cfg)

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	assert.Equal(t, http.StatusOK, status)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestRouter(t, testConfig())

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAuth = false
	cfg.Security.ControlRateLimit = 1
	app, _ := newTestRouter(t, cfg)

	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/CRM/acc-1/stop", nil))
	require.Equal(t, http.StatusOK, status)

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/CRM/acc-1/stop", nil))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["error"].(map[string]any)["code"])
}
