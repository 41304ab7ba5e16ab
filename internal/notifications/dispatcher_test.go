package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/directory"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/internal/notify"
	"github.com/clinicore/clinic-ops/internal/push"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

type fakeDirectory struct {
	patientUserID *uuid.UUID
	doctorUserID  *uuid.UUID
	admins        []directory.Admin
}

func (f *fakeDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	return &directory.Patient{ID: id, FullName: "Pat Doe", UserID: f.patientUserID}, nil
}

func (f *fakeDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error) {
	return &directory.Doctor{ID: id, FullName: "Dr Roe", UserID: f.doctorUserID}, nil
}

func (f *fakeDirectory) ListAdmins(ctx context.Context) ([]directory.Admin, error) {
	return f.admins, nil
}

type fakeRecords struct {
	inserted []*Record
	fail     bool
}

func (f *fakeRecords) Insert(ctx context.Context, rec *Record) error {
	if f.fail {
		return errors.New("db down")
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

type fakeBus struct {
	users    []uuid.UUID
	roles    []identity.Role
	patients []uuid.UUID
}

func (f *fakeBus) SendToUser(userID uuid.UUID, payload any) bool {
	f.users = append(f.users, userID)
	return true
}

func (f *fakeBus) SendToRole(role identity.Role, payload any) bool {
	f.roles = append(f.roles, role)
	return true
}

func (f *fakeBus) SendToPatient(patientID uuid.UUID, payload any) bool {
	f.patients = append(f.patients, patientID)
	return true
}

type fakePush struct {
	calls int
	users []uuid.UUID
	err   error
}

func (f *fakePush) SendPushNotification(ctx context.Context, userID uuid.UUID, note push.Notification) (push.Result, error) {
	f.calls++
	f.users = append(f.users, userID)
	if f.err != nil {
		return push.Result{}, f.err
	}
	return push.Result{Success: true, DeviceCount: 1}, nil
}

type fakeEmail struct {
	sent []notify.EmailMessage
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, msg notify.EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func stateChangedEntry(t *testing.T, patientID, doctorID uuid.UUID) events.OutboxEntry {
	t.Helper()
	payload, err := json.Marshal(events.StateChangedV1{
		EventID: uuid.NewString(),
		Recipients: events.Recipients{
			AppointmentID: uuid.New(),
			PatientID:     patientID,
			DoctorID:      doctorID,
		},
		PreviousState: "pending",
		NewState:      "attended",
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return events.OutboxEntry{ID: uuid.New(), Kind: events.KindStateChanged, Payload: payload}
}

func TestHandleFansOutToAllChannels(t *testing.T) {
	patientUser, doctorUser, adminUser := uuid.New(), uuid.New(), uuid.New()
	dir := &fakeDirectory{
		patientUserID: &patientUser,
		doctorUserID:  &doctorUser,
		admins:        []directory.Admin{{UserID: adminUser, Email: "admin@clinic.test"}},
	}
	records := &fakeRecords{}
	bus := &fakeBus{}
	pushSvc := &fakePush{}
	email := &fakeEmail{}
	d := NewDispatcher(dir, records, bus, pushSvc, email, nil, logging.Default())

	patientID, doctorID := uuid.New(), uuid.New()
	err := d.Handle(context.Background(), stateChangedEntry(t, patientID, doctorID))
	require.NoError(t, err)

	require.Len(t, records.inserted, 1)
	assert.Equal(t, doctorID, records.inserted[0].RecipientDoctorID)
	assert.Equal(t, "Appointment updated", records.inserted[0].Title)

	assert.Equal(t, []uuid.UUID{patientID}, bus.patients)
	assert.Equal(t, []uuid.UUID{doctorUser}, bus.users)
	assert.Equal(t, []identity.Role{identity.RoleAdmin}, bus.roles)
	assert.Equal(t, 3, pushSvc.calls)
	assert.Contains(t, pushSvc.users, adminUser)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "admin@clinic.test", email.sent[0].To)
}

func TestHandleSkipsPushForStaticAdminAddresses(t *testing.T) {
	// Address-book admins from config carry no user account; they get email
	// but no push.
	dir := &fakeDirectory{admins: []directory.Admin{{Email: "ops@clinic.test"}}}
	pushSvc := &fakePush{}
	email := &fakeEmail{}
	d := NewDispatcher(dir, &fakeRecords{}, &fakeBus{}, pushSvc, email, nil, logging.Default())

	err := d.Handle(context.Background(), stateChangedEntry(t, uuid.New(), uuid.New()))
	require.NoError(t, err)
	assert.Zero(t, pushSvc.calls)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "ops@clinic.test", email.sent[0].To)
}

func TestHandlePushesAdminsWithoutEmailSender(t *testing.T) {
	adminUser := uuid.New()
	dir := &fakeDirectory{admins: []directory.Admin{{UserID: adminUser, Email: "admin@clinic.test"}}}
	pushSvc := &fakePush{}
	d := NewDispatcher(dir, &fakeRecords{}, &fakeBus{}, pushSvc, nil, nil, logging.Default())

	err := d.Handle(context.Background(), stateChangedEntry(t, uuid.New(), uuid.New()))
	require.NoError(t, err)
	assert.Contains(t, pushSvc.users, adminUser)
}

func TestHandlePushFailureDoesNotFailDispatch(t *testing.T) {
	doctorUser := uuid.New()
	dir := &fakeDirectory{doctorUserID: &doctorUser}
	records := &fakeRecords{}
	d := NewDispatcher(dir, records, &fakeBus{}, &fakePush{err: errors.New("push gateway down")}, nil, nil, logging.Default())

	err := d.Handle(context.Background(), stateChangedEntry(t, uuid.New(), uuid.New()))
	require.NoError(t, err)
	// The persisted record survives the failed push channel.
	assert.Len(t, records.inserted, 1)
}

func TestHandleRecordFailureDoesNotBlockOtherChannels(t *testing.T) {
	doctorUser := uuid.New()
	dir := &fakeDirectory{doctorUserID: &doctorUser}
	bus := &fakeBus{}
	pushSvc := &fakePush{}
	d := NewDispatcher(dir, &fakeRecords{fail: true}, bus, pushSvc, nil, nil, logging.Default())

	err := d.Handle(context.Background(), stateChangedEntry(t, uuid.New(), uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{doctorUser}, bus.users)
	assert.Equal(t, []uuid.UUID{doctorUser}, pushSvc.users)
}

func TestHandleRejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(&fakeDirectory{}, nil, nil, nil, nil, nil, logging.Default())
	err := d.Handle(context.Background(), events.OutboxEntry{
		ID:      uuid.New(),
		Kind:    events.Kind("appointment.vanished"),
		Payload: []byte(`{}`),
	})
	assert.Error(t, err)
}

func TestHandleSkipsDoctorLegWithoutDoctor(t *testing.T) {
	patientUser := uuid.New()
	dir := &fakeDirectory{patientUserID: &patientUser}
	records := &fakeRecords{}
	d := NewDispatcher(dir, records, &fakeBus{}, nil, nil, nil, logging.Default())

	payload, err := json.Marshal(events.AppointmentCreatedV1{
		EventID:     uuid.NewString(),
		Recipients:  events.Recipients{AppointmentID: uuid.New(), PatientID: uuid.New()},
		ScheduledAt: time.Now().UTC(),
		OccurredAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	err = d.Handle(context.Background(), events.OutboxEntry{
		ID: uuid.New(), Kind: events.KindAppointmentCreated, Payload: payload,
	})
	require.NoError(t, err)
	assert.Empty(t, records.inserted)
}
