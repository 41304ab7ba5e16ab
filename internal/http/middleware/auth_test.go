package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/identity"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims CallerClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestCallerJWTResolvesIdentity(t *testing.T) {
	userID := uuid.New()
	patientID := uuid.New()
	token := signToken(t, CallerClaims{
		Role:      "patient",
		PatientID: patientID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	var got identity.Caller
	handler := CallerJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, identity.RolePatient, got.Role)
	assert.Equal(t, patientID, got.PatientID)
}

func TestCallerJWTRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no header", func(r *http.Request) {}},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }},
		{"unknown role", func(r *http.Request) {
			token := signToken(t, CallerClaims{
				Role: "superuser",
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   uuid.NewString(),
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"expired", func(r *http.Request) {
			token := signToken(t, CallerClaims{
				Role: "doctor",
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   uuid.NewString(),
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
	}

	handler := CallerJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(identity.RoleDoctor, identity.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := identity.WithCaller(req.Context(), identity.Caller{UserID: uuid.New(), Role: identity.RoleAdmin})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := identity.WithCaller(req.Context(), identity.Caller{UserID: uuid.New(), Role: identity.RolePatient})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
