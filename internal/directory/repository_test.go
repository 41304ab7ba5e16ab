package directory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/apperr"
)

func TestGetPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	patientID := uuid.New()
	userID := uuid.New()
	mock.ExpectQuery("SELECT id, full_name, email, user_id").
		WithArgs(patientID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "email", "user_id"}).
			AddRow(patientID, "Ana Gomez", "ana@example.com", &userID))

	repo := NewRepository(mock)
	p, err := repo.GetPatient(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Gomez", p.FullName)
	require.NotNil(t, p.UserID)
	assert.Equal(t, userID, *p.UserID)
}

func TestGetDoctorNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectQuery("SELECT id, full_name, email, user_id").
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "email", "user_id"}))

	repo := NewRepository(mock)
	_, err = repo.GetDoctor(context.Background(), doctorID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListAdmins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a1, a2 := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, email").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email"}).
			AddRow(a1, "admin1@clinic.example").
			AddRow(a2, "admin2@clinic.example"))

	repo := NewRepository(mock)
	admins, err := repo.ListAdmins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, a1, admins[0].UserID)
}

func TestListAdminsAppendsStaticAddresses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, email").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email"}))

	repo := NewRepository(mock).WithStaticAdmins([]string{"oncall@clinic.example"})
	admins, err := repo.ListAdmins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "oncall@clinic.example", admins[0].Email)
	assert.Equal(t, uuid.Nil, admins[0].UserID)
}
