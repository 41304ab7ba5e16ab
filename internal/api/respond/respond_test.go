package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicore/clinic-ops/internal/apperr"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]string{"id": "42"})
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Empty(t, env.Error)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperr.Validation("bad date"), http.StatusBadRequest},
		{"authorization", apperr.Authorization("not the owner"), http.StatusForbidden},
		{"not found", apperr.NotFound("appointment"), http.StatusNotFound},
		{"conflict", apperr.Conflict("terminal state"), http.StatusConflict},
		{"persistence", apperr.Persistence("insert", errors.New("boom")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, nil, tt.err, false)
			assert.Equal(t, tt.status, rec.Code)
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestErrorSanitizesOutsideDevelopment(t *testing.T) {
	err := apperr.Persistence("insert appointment", errors.New("pq: relation missing"))

	rec := httptest.NewRecorder()
	Error(rec, nil, err, false)
	env := decode(t, rec)
	assert.Equal(t, "internal server error", env.Error)

	rec = httptest.NewRecorder()
	Error(rec, nil, err, true)
	env = decode(t, rec)
	assert.Contains(t, env.Error, "pq: relation missing")
}
