package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/pkg/composables"
)

func TestWriteError_TagsRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/histories/9", nil)
	r = r.WithContext(composables.WithRequestID(r.Context(), "req-7"))
	rec := httptest.NewRecorder()

	require.NoError(t, WriteError(rec, r, http.StatusNotFound, "HISTORY_NOT_FOUND", "history 9 not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "HISTORY_NOT_FOUND", body.Code)
	assert.Equal(t, "req-7", body.RequestID)
	assert.Equal(t, "/api/histories/9", body.Meta["path"])
	assert.Nil(t, body.Violations)
}

func TestWriteViolations(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/imports/planning", nil)

	require.NoError(t, WriteViolations(rec, r, "1 row rejected", []map[string]any{{"line": 3}}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Code       string           `json:"code"`
		Violations []map[string]int `json:"violations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeValidationFailed, body.Code)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, 3, body.Violations[0]["line"])
}
