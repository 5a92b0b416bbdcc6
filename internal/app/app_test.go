package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licgate/internal/config"
	"licgate/internal/infrastructure"
	"licgate/internal/license"
	"licgate/internal/ratelimit"
	"licgate/internal/reputation"
	"licgate/internal/store"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers, err := infrastructure.InitializeOTel(config.TelemetryConfig{Enabled: false}, logger)
	require.NoError(t, err)

	signer, err := license.NewNaClSigner("test-seed")
	require.NoError(t, err)

	app := &Application{
		Config: &config.Config{
			Server: config.ServerConfig{
				Port:           8080,
				RequestTimeout: 5 * time.Second,
			},
			Security: config.SecurityConfig{EnableCORS: true},
			RateLimit: config.RateLimitConfig{
				Enabled: true,
				RPS:     200,
				Burst:   100,
			},
		},
		Logger:        logger,
		OTelProviders: providers,
		redisClient:   client,
	}
	app.Engine = license.NewEngine(license.Options{
		Store:   store.NewRedisStore(client, logger),
		Guard:   reputation.NewGuard(client, 10, logger),
		Limiter: ratelimit.NewInMemory(20, time.Minute),
		Signer:  signer,
		Tokens:  license.NewTokenIssuer("test-secret"),
		Logger:  logger,
	})
	app.setupRouter()
	return app
}

func TestRouterHealthz(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRouterReadyz(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterPreflightNeedsNoOrigin(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/license/validate", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRouterValidateMounted(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate",
		strings.NewReader(`{"licenseKey":"ZZZZ-ZZZZ-ZZZZ-ZZZZ","domain":"example.com"}`))
	req.RemoteAddr = "203.0.113.9:40000"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid license key")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouterSecurityHeaders(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
