package appointments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/internal/observability/metrics"
	"github.com/clinicore/clinic-ops/internal/privacy"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.appointments")

// AuditSink receives committed lifecycle facts. Implementations are
// write-only and must swallow their own failures; the engine never checks
// them.
type AuditSink interface {
	RecordStateChange(ctx context.Context, appointmentID uuid.UUID, previous, next State)
	RecordReschedule(ctx context.Context, appointmentID uuid.UUID, newDate time.Time, requestedBy RequestedBy)
}

// Service is the state transition engine. Every mutation runs inside one
// transaction together with its outbox event; the commit is the operation's
// linearization point.
type Service struct {
	repo    *Repository
	outbox  *events.OutboxStore
	codec   *privacy.Codec
	audit   AuditSink
	metrics *metrics.AppointmentMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewService constructs the transition engine. audit and metrics may be nil.
func NewService(repo *Repository, outbox *events.OutboxStore, codec *privacy.Codec, audit AuditSink, m *metrics.AppointmentMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if outbox == nil {
		panic("appointments: outbox required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:    repo,
		outbox:  outbox,
		codec:   codec,
		audit:   audit,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateInput carries the fields of a new appointment.
type CreateInput struct {
	PatientID           uuid.UUID
	DoctorID            *uuid.UUID
	ScheduledAt         time.Time
	Reason              string
	Notes               string
	IsFirstConsultation bool
}

// Create persists a new pending appointment and emits the created event.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin create appointment", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.ApplyCreateTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit create appointment", err)
	}
	return s.decoded(a), nil
}

// ApplyCreateTx inserts a new pending appointment and queues its created
// event inside an existing transaction. The consultation flows compose it
// with their sub-record writes.
func (s *Service) ApplyCreateTx(ctx context.Context, tx Querier, in CreateInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, apperr.Validation("scheduled_at is required")
	}

	now := s.now()
	a := &Appointment{
		ID:                  uuid.New(),
		PatientID:           in.PatientID,
		DoctorID:            in.DoctorID,
		ScheduledAt:         in.ScheduledAt.UTC(),
		Reason:              s.codec.Encode(strings.TrimSpace(in.Reason)),
		Notes:               s.codec.Encode(strings.TrimSpace(in.Notes)),
		IsFirstConsultation: in.IsFirstConsultation,
		State:               StatePending,
		CreatedAt:           now,
	}

	if err := s.repo.InsertTx(ctx, tx, a); err != nil {
		return nil, apperr.Persistence("insert appointment", err)
	}
	evt := events.AppointmentCreatedV1{
		EventID:             uuid.NewString(),
		Recipients:          recipientsOf(a),
		ScheduledAt:         a.ScheduledAt,
		IsFirstConsultation: a.IsFirstConsultation,
		OccurredAt:          now,
	}
	if _, err := s.outbox.InsertTx(ctx, tx, events.KindAppointmentCreated, evt); err != nil {
		return nil, apperr.Persistence("queue created event", err)
	}

	s.logger.Info("appointment created", "appointment_id", a.ID, "patient_id", a.PatientID)
	return a, nil
}

// Get returns one appointment with clinical fields decoded.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decoded(a), nil
}

// List returns appointments matching the filter. The free-text term is
// matched against the decoded reason and notes, which cannot be searched
// server-side because both columns are stored encoded.
func (s *Service) List(ctx context.Context, f ListFilter, search string) ([]*Appointment, error) {
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Persistence("list appointments", err)
	}
	out := make([]*Appointment, 0, len(rows))
	term := strings.ToLower(strings.TrimSpace(search))
	for _, a := range rows {
		d := s.decoded(a)
		if term != "" &&
			!strings.Contains(strings.ToLower(d.Reason), term) &&
			!strings.Contains(strings.ToLower(d.Notes), term) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// SetState validates and applies a state change, mirrors the legacy
// attendance flag and queues the state-changed event in the same
// transaction.
func (s *Service) SetState(ctx context.Context, id uuid.UUID, target State, observations string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.set_state")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicops.appointment_id", id.String()),
		attribute.String("clinicops.target_state", string(target)),
	)

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin set state", err)
	}
	defer tx.Rollback(ctx)

	a, previous, err := s.ApplyStateTx(ctx, tx, id, target, observations)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit set state", err)
	}

	if s.audit != nil {
		s.audit.RecordStateChange(ctx, a.ID, previous, target)
	}
	return s.decoded(a), nil
}

// ApplyStateTx performs the guarded state change and queues its event inside
// an existing transaction. The completion wizard composes it with its own
// sub-record writes.
func (s *Service) ApplyStateTx(ctx context.Context, tx Querier, id uuid.UUID, target State, observations string) (*Appointment, State, error) {
	if !target.Valid() {
		return nil, "", apperr.Validation("unknown state %q", target)
	}

	a, err := s.repo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, "", err
	}
	if a.State.Terminal() {
		return nil, "", apperr.Conflict("appointment is in terminal state %q", a.State)
	}

	previous := a.State
	a.State = target
	a.applyAttendanceMirror(target)
	// rescheduled_at carries meaning only while the state is rescheduled.
	if previous == StateRescheduled && target != StateRescheduled {
		a.RescheduledAt = nil
	}
	observations = strings.TrimSpace(observations)
	if observations != "" {
		a.Notes = s.codec.Encode(observations)
	}

	if err := s.repo.UpdateTx(ctx, tx, a); err != nil {
		return nil, "", apperr.Persistence("update appointment state", err)
	}
	evt := events.StateChangedV1{
		EventID:       uuid.NewString(),
		Recipients:    recipientsOf(a),
		PreviousState: string(previous),
		NewState:      string(target),
		Observations:  observations,
		OccurredAt:    s.now(),
	}
	if _, err := s.outbox.InsertTx(ctx, tx, events.KindStateChanged, evt); err != nil {
		return nil, "", apperr.Persistence("queue state-changed event", err)
	}

	s.metrics.ObserveTransition(string(previous), string(target))
	s.logger.Info("appointment state changed",
		"appointment_id", a.ID, "previous", previous, "new", target)
	return a, previous, nil
}

// RescheduleDirect moves an appointment to a new date in one step. Only
// clinicians and admins reach this path directly; approvals of patient
// requests delegate here through ApplyRescheduleTx.
func (s *Service) RescheduleDirect(ctx context.Context, id uuid.UUID, newDate time.Time, motive string, requestedBy RequestedBy) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.reschedule_direct")
	defer span.End()
	span.SetAttributes(attribute.String("clinicops.appointment_id", id.String()))

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin reschedule", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.ApplyRescheduleTx(ctx, tx, id, newDate, motive, requestedBy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit reschedule", err)
	}

	if s.audit != nil {
		s.audit.RecordReschedule(ctx, a.ID, newDate.UTC(), requestedBy)
	}
	return s.decoded(a), nil
}

// ApplyRescheduleTx performs the reschedule mutation and queues its event
// inside an existing transaction. The reschedule request manager wraps it
// together with the request's own state change.
func (s *Service) ApplyRescheduleTx(ctx context.Context, tx Querier, id uuid.UUID, newDate time.Time, motive string, requestedBy RequestedBy) (*Appointment, error) {
	if !requestedBy.Valid() {
		return nil, apperr.Validation("unknown requester %q", requestedBy)
	}
	now := s.now()
	if newDate.Before(now) {
		return nil, apperr.Conflict("reschedule date is in the past")
	}

	a, err := s.repo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return nil, apperr.Conflict("appointment is in terminal state %q", a.State)
	}

	previous := a.State
	newDate = newDate.UTC()
	a.State = StateRescheduled
	a.RescheduledAt = &newDate
	a.RequestedBy = &requestedBy
	a.RescheduleRequestedAt = &now
	motive = strings.TrimSpace(motive)
	if motive != "" {
		a.RescheduleMotive = &motive
	}

	if err := s.repo.UpdateTx(ctx, tx, a); err != nil {
		return nil, apperr.Persistence("update rescheduled appointment", err)
	}
	evt := events.RescheduledV1{
		EventID:     uuid.NewString(),
		Recipients:  recipientsOf(a),
		NewDate:     newDate,
		Motive:      motive,
		RequestedBy: string(requestedBy),
		OccurredAt:  now,
	}
	if _, err := s.outbox.InsertTx(ctx, tx, events.KindRescheduled, evt); err != nil {
		return nil, apperr.Persistence("queue rescheduled event", err)
	}

	s.metrics.ObserveTransition(string(previous), string(StateRescheduled))
	s.logger.Info("appointment rescheduled",
		"appointment_id", a.ID, "new_date", newDate, "requested_by", requestedBy)
	return a, nil
}

// Repo exposes the repository to sibling services that compose transactions
// with appointment reads and writes.
func (s *Service) Repo() *Repository { return s.repo }

// Decode returns a copy of a with clinical fields decoded for API responses.
func (s *Service) Decode(a *Appointment) *Appointment { return s.decoded(a) }

func (s *Service) decoded(a *Appointment) *Appointment {
	if a == nil {
		return nil
	}
	out := *a
	out.Reason = s.codec.Decode(a.Reason)
	out.Notes = s.codec.Decode(a.Notes)
	return &out
}

func recipientsOf(a *Appointment) events.Recipients {
	rec := events.Recipients{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
	}
	if a.DoctorID != nil {
		rec.DoctorID = *a.DoctorID
	}
	return rec
}
