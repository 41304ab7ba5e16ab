package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/appointments"
	httpmiddleware "github.com/clinicore/clinic-ops/internal/http/middleware"
	"github.com/clinicore/clinic-ops/internal/reschedule"
	"github.com/clinicore/clinic-ops/internal/wizard"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return New(&Config{
		Logger:        logging.Default(),
		Appointments:  &appointments.Handler{},
		Reschedule:    &reschedule.Handler{},
		Wizard:        &wizard.Handler{},
		AuthJWTSecret: testSecret,
	})
}

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := httpmiddleware.CallerClaims{
		Role:      role,
		PatientID: uuid.NewString(),
		DoctorID:  uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestHealthIsPublic(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/appointments", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStateChangeRejectsPatientRole(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/appointments/"+uuid.NewString()+"/state", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "patient"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRescheduleRequestRejectsDoctorRole(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+uuid.NewString()+"/reschedule-requests", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "doctor"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
