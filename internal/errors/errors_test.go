package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorImplementsError(t *testing.T) {
	err := New(http.StatusForbidden, "FORBIDDEN", "Access denied")
	assert.Equal(t, "Access denied", err.Error())
	assert.Equal(t, http.StatusForbidden, err.StatusCode)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.ErrorCode)
}

func TestNewWithDetailsCarriesDetails(t *testing.T) {
	err := NewWithDetails(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable",
		map[string]string{"store": "unreachable"})

	raw, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.Contains(t, string(raw), `"store":"unreachable"`)
}

func TestProblemDetailsMarshalFlattensExtensions(t *testing.T) {
	pd := NewProblemDetails(http.StatusInternalServerError, "/errors/internal", "Internal Server Error", "boom", "/api/v1/license/validate").
		WithExtension("trace_id", "abc-123")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "abc-123", out["trace_id"])
	assert.Equal(t, float64(500), out["status"])
	assert.Equal(t, "Internal Server Error", out["title"])
}
