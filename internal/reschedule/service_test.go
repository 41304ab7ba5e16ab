package reschedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/appointments"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/internal/privacy"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

var testNow = time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)

type recordedAudit struct {
	stateChanges int
	reschedules  int
}

func (a *recordedAudit) RecordStateChange(ctx context.Context, id uuid.UUID, previous, next appointments.State) {
	a.stateChanges++
}

func (a *recordedAudit) RecordReschedule(ctx context.Context, id uuid.UUID, newDate time.Time, by appointments.RequestedBy) {
	a.reschedules++
}

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *recordedAudit) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	audit := &recordedAudit{}
	clock := func() time.Time { return testNow }
	engine := appointments.NewService(
		appointments.NewRepository(mock),
		events.NewOutboxStore(mock),
		privacy.NewCodec("", nil),
		nil,
		nil,
		logging.Default(),
	).WithClock(clock)
	svc := NewService(
		NewRepository(mock),
		engine,
		events.NewOutboxStore(mock),
		audit,
		time.Hour,
		logging.Default(),
	).WithClock(clock)
	return svc, mock, audit
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func appointmentColumnsList() []string {
	return []string{
		"id", "patient_id", "doctor_id", "scheduled_at", "rescheduled_at",
		"reason", "notes", "is_first_consultation", "state", "attendance",
		"non_attendance_reason", "requested_by", "reschedule_requested_at",
		"reschedule_motive", "created_at",
	}
}

func appointmentRow(id, patientID uuid.UUID, scheduledAt time.Time, state appointments.State) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentColumnsList()).AddRow(
		id, patientID, nil, scheduledAt, nil,
		(*string)(nil), (*string)(nil), false, string(state), nil,
		nil, nil, nil,
		nil, testNow.Add(-time.Hour),
	)
}

func requestColumnsList() []string {
	return []string{
		"id", "appointment_id", "patient_id", "motive", "requested_date",
		"state", "doctor_response", "responded_at", "created_at",
	}
}

func requestRow(id, appointmentID, patientID uuid.UUID, state RequestState) *pgxmock.Rows {
	return pgxmock.NewRows(requestColumnsList()).AddRow(
		id, appointmentID, patientID, "work trip", nil,
		string(state), nil, nil, testNow.Add(-time.Minute),
	)
}

func TestRequestRequiresMotive(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Request(context.Background(), uuid.New(), uuid.New(), "   ")
	assert.True(t, apperr.IsValidation(err))
}

func TestRequestRejectsForeignAppointment(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID := uuid.New()

	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, uuid.New(), testNow.Add(48*time.Hour), appointments.StatePending))

	_, err := svc.Request(context.Background(), appointmentID, uuid.New(), "work trip")
	assert.True(t, apperr.IsAuthorization(err))
}

func TestRequestInsideLeadTimeWindow(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID, patientID := uuid.New(), uuid.New()

	// 30 minutes out, with a one-hour minimum lead.
	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(30*time.Minute), appointments.StatePending))

	_, err := svc.Request(context.Background(), appointmentID, patientID, "work trip")
	assert.True(t, apperr.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRejectsTerminalAppointment(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID, patientID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(48*time.Hour), appointments.StateCancelled))

	_, err := svc.Request(context.Background(), appointmentID, patientID, "work trip")
	assert.True(t, apperr.IsConflict(err))
}

func TestRequestDuplicatePending(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID, patientID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(48*time.Hour), appointments.StatePending))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(appointmentID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := svc.Request(context.Background(), appointmentID, patientID, "work trip")
	assert.True(t, apperr.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestCreatesPendingAndQueuesEvent(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID, patientID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(48*time.Hour), appointments.StatePending))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(appointmentID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reschedule_requests").
		WithArgs(anyArgs(9)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), string(events.KindRescheduleRequested), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	req, err := svc.Request(context.Background(), appointmentID, patientID, "work trip")
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.State)
	assert.Nil(t, req.RequestedDate)
	assert.Equal(t, appointmentID, req.AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondApproveRequiresNewDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Respond(context.Background(), uuid.New(), uuid.New(), DecisionApprove, "", nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestRespondRejectsUnknownAction(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Respond(context.Background(), uuid.New(), uuid.New(), Decision("maybe"), "", nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestRespondApproveMovesAppointment(t *testing.T) {
	svc, mock, audit := newTestService(t)
	appointmentID, patientID, requestID := uuid.New(), uuid.New(), uuid.New()
	newDate := testNow.Add(7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, appointmentID, patientID, RequestPending))
	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(48*time.Hour), appointments.StatePending))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), string(events.KindRescheduled), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE reschedule_requests").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), string(events.KindRescheduleResolved), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	req, err := svc.Respond(context.Background(), appointmentID, requestID, DecisionApprove, "moved you to next week", &newDate)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, req.State)
	require.NotNil(t, req.RespondedAt)
	assert.True(t, req.RespondedAt.Equal(testNow))
	require.NotNil(t, req.DoctorResponse)
	assert.Equal(t, "moved you to next week", *req.DoctorResponse)
	assert.Equal(t, 1, audit.reschedules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondReject(t *testing.T) {
	svc, mock, audit := newTestService(t)
	appointmentID, patientID, requestID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, appointmentID, patientID, RequestPending))
	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs(appointmentID).
		WillReturnRows(appointmentRow(appointmentID, patientID, testNow.Add(48*time.Hour), appointments.StatePending))
	mock.ExpectExec("UPDATE reschedule_requests").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), string(events.KindRescheduleResolved), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	req, err := svc.Respond(context.Background(), appointmentID, requestID, DecisionReject, "no earlier slot", nil)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, req.State)
	assert.Equal(t, 0, audit.reschedules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondNonPendingRequest(t *testing.T) {
	svc, mock, _ := newTestService(t)
	appointmentID, requestID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, appointmentID, uuid.New(), RequestRejected))
	mock.ExpectRollback()

	_, err := svc.Respond(context.Background(), appointmentID, requestID, DecisionReject, "", nil)
	assert.True(t, apperr.IsConflict(err))
}

func TestRespondAppointmentMismatch(t *testing.T) {
	svc, mock, _ := newTestService(t)
	requestID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, uuid.New(), uuid.New(), RequestPending))
	mock.ExpectRollback()

	_, err := svc.Respond(context.Background(), uuid.New(), requestID, DecisionReject, "", nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestCancelOwnerOnly(t *testing.T) {
	svc, mock, _ := newTestService(t)
	requestID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, uuid.New(), uuid.New(), RequestPending))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), requestID, uuid.New())
	assert.True(t, apperr.IsAuthorization(err))
}

func TestCancelPendingRequest(t *testing.T) {
	svc, mock, _ := newTestService(t)
	requestID, patientID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, appointment_id").
		WithArgs(requestID).
		WillReturnRows(requestRow(requestID, uuid.New(), patientID, RequestPending))
	mock.ExpectExec("UPDATE reschedule_requests").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	req, err := svc.Cancel(context.Background(), requestID, patientID)
	require.NoError(t, err)
	assert.Equal(t, RequestCancelled, req.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
