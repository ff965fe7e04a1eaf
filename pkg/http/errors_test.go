package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w *httptest.ResponseRecorder)
		status int
		code   string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "m") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "m") }, 401, "unauthorized"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "m") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "m") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "m") }, 409, "conflict"},
		{"unprocessable", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnprocessable(w, "invalid_code", "m") }, 422, "invalid_code"},
		{"too many", func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "m") }, 429, "rate_limit_exceeded"},
		{"bad gateway", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadGateway(w, "m") }, 502, "external_service_error"},
		{"internal", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "m") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, "m", resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteJSON(w, 201, map[string]string{"attempt_id": "abc"})

	assert.Equal(t, 201, w.Code)
	assert.JSONEq(t, `{"attempt_id":"abc"}`, w.Body.String())
}
