package http

import (
	"bytes"
	"context"
	"encoding/json"
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

	"licgate/internal/license"
	"licgate/internal/ratelimit"
	"licgate/internal/reputation"
	"licgate/internal/store"
	"licgate/pkg/contracts/domain"
)

func newTestHandler(t *testing.T, capacity int) (*ValidateHandler, *store.RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewRedisStore(client, logger)

	signer, err := license.NewNaClSigner("test-seed")
	require.NoError(t, err)

	engine := license.NewEngine(license.Options{
		Store:   st,
		Guard:   reputation.NewGuard(client, 10, logger),
		Limiter: ratelimit.NewInMemory(capacity, time.Minute),
		Signer:  signer,
		Tokens:  license.NewTokenIssuer("test-secret"),
		Logger:  logger,
	})

	return NewValidateHandler(engine, logger), st
}

func seedActiveLicense(t *testing.T, st *store.RedisStore) *domain.License {
	t.Helper()
	now := time.Now().UTC()
	lic := &domain.License{
		LicenseKey:    "AB12-CD34-EF56-GH78",
		Domain:        "example.com",
		Status:        domain.StatusActive,
		ValidFrom:     now.Add(-time.Hour),
		ExpiresAt:     now.Add(time.Hour),
		CleanSnapshot: "abc123",
	}
	require.NoError(t, st.SaveLicense(context.Background(), lic))
	return lic
}

func postValidate(t *testing.T, h *ValidateHandler, body map[string]interface{}, origin string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", bytes.NewReader(raw))
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	rec := httptest.NewRecorder()
	h.Validate(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) domain.ValidateResponse {
	t.Helper()
	var resp domain.ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestValidateSuccess(t *testing.T) {
	h, st := newTestHandler(t, 20)
	seedActiveLicense(t, st)

	rec := postValidate(t, h, map[string]interface{}{
		"licenseKey": "AB12-CD34-EF56-GH78",
		"domain":     "example.com",
		"fileHash":   "abc123",
	}, "https://example.com")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Valid)
	assert.Equal(t, "ACTIVE", resp.Status)
	assert.NotEmpty(t, resp.Payload)
	assert.NotEmpty(t, resp.HeartbeatToken)
}

func TestValidateMalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t, 20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", strings.NewReader("{not json"))
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.Validate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResponse(t, rec).Valid)
}

func TestValidateMissingOrigin(t *testing.T) {
	h, st := newTestHandler(t, 20)
	seedActiveLicense(t, st)

	rec := postValidate(t, h, map[string]interface{}{
		"licenseKey": "AB12-CD34-EF56-GH78",
		"domain":     "example.com",
	}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateUnknownKeySoft200(t *testing.T) {
	h, _ := newTestHandler(t, 20)

	rec := postValidate(t, h, map[string]interface{}{
		"licenseKey": "ZZZZ-ZZZZ-ZZZZ-ZZZZ",
		"domain":     "example.com",
	}, "https://example.com")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, "Invalid license key", resp.Reason)
}

func TestValidateDomainMismatch403(t *testing.T) {
	h, st := newTestHandler(t, 20)
	seedActiveLicense(t, st)

	rec := postValidate(t, h, map[string]interface{}{
		"licenseKey": "AB12-CD34-EF56-GH78",
		"domain":     "example.com",
		"fileHash":   "abc123",
	}, "https://evil.example")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, "ATTEMPTED_CLONING", resp.Status)
}

func TestValidateRateLimitHeaders(t *testing.T) {
	h, st := newTestHandler(t, 2)
	seedActiveLicense(t, st)

	body := map[string]interface{}{
		"licenseKey": "AB12-CD34-EF56-GH78",
		"domain":     "example.com",
		"fileHash":   "abc123",
	}
	postValidate(t, h, body, "https://example.com")
	postValidate(t, h, body, "https://example.com")
	rec := postValidate(t, h, body, "https://example.com")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRefererAcceptedAsOriginAssertion(t *testing.T) {
	h, st := newTestHandler(t, 20)
	seedActiveLicense(t, st)

	raw, err := json.Marshal(map[string]interface{}{
		"licenseKey": "AB12-CD34-EF56-GH78",
		"domain":     "example.com",
		"fileHash":   "abc123",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", bytes.NewReader(raw))
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Referer", "https://example.com/")
	rec := httptest.NewRecorder()
	h.Validate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Valid)
}
