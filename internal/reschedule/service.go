package reschedule

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/appointments"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.reschedule")

// Service arbitrates reschedule requests on top of the state transition
// engine.
type Service struct {
	repo    *Repository
	engine  *appointments.Service
	outbox  *events.OutboxStore
	audit   appointments.AuditSink
	logger  *logging.Logger
	minLead time.Duration
	now     func() time.Time
}

// NewService constructs the request manager. audit may be nil. minLead is
// how far before the scheduled time a patient may still ask (zero means the
// one-hour default).
func NewService(repo *Repository, engine *appointments.Service, outbox *events.OutboxStore, audit appointments.AuditSink, minLead time.Duration, logger *logging.Logger) *Service {
	if repo == nil {
		panic("reschedule: repository required")
	}
	if engine == nil {
		panic("reschedule: appointment engine required")
	}
	if outbox == nil {
		panic("reschedule: outbox required")
	}
	if minLead <= 0 {
		minLead = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:    repo,
		engine:  engine,
		outbox:  outbox,
		audit:   audit,
		logger:  logger,
		minLead: minLead,
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

// Request files a new pending reschedule request on behalf of the owning
// patient.
func (s *Service) Request(ctx context.Context, appointmentID, patientID uuid.UUID, motive string) (*Request, error) {
	ctx, span := tracer.Start(ctx, "reschedule.request")
	defer span.End()
	span.SetAttributes(attribute.String("clinicops.appointment_id", appointmentID.String()))

	motive = strings.TrimSpace(motive)
	if motive == "" {
		return nil, apperr.Validation("motive is required")
	}

	appt, err := s.engine.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, apperr.Authorization("appointment does not belong to this patient")
	}
	if appt.State.Terminal() {
		return nil, apperr.Conflict("appointment is in terminal state %q", appt.State)
	}
	now := s.now()
	if !appt.ScheduledAt.After(now.Add(s.minLead)) {
		return nil, apperr.Conflict("appointment is inside the minimum lead time window")
	}
	pending, err := s.repo.HasPending(ctx, appointmentID)
	if err != nil {
		return nil, apperr.Persistence("pending request check", err)
	}
	if pending {
		return nil, apperr.Conflict("a pending reschedule request already exists for this appointment")
	}

	req := &Request{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Motive:        motive,
		State:         RequestPending,
		CreatedAt:     now,
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin reschedule request", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertTx(ctx, tx, req); err != nil {
		if apperr.IsConflict(err) {
			return nil, err
		}
		return nil, apperr.Persistence("insert reschedule request", err)
	}
	evt := events.RescheduleRequestedV1{
		EventID:    uuid.NewString(),
		Recipients: recipientsOf(appt),
		RequestID:  req.ID,
		Motive:     motive,
		OccurredAt: now,
	}
	if _, err := s.outbox.InsertTx(ctx, tx, events.KindRescheduleRequested, evt); err != nil {
		return nil, apperr.Persistence("queue reschedule-requested event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit reschedule request", err)
	}

	s.logger.Info("reschedule requested",
		"appointment_id", appointmentID, "request_id", req.ID, "patient_id", patientID)
	return req, nil
}

// Respond decides a pending request. Approval supplies the actual new date
// and moves the appointment through the transition engine inside the same
// transaction that closes the request.
func (s *Service) Respond(ctx context.Context, appointmentID, requestID uuid.UUID, decision Decision, doctorResponse string, newDate *time.Time) (*Request, error) {
	ctx, span := tracer.Start(ctx, "reschedule.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicops.request_id", requestID.String()),
		attribute.String("clinicops.decision", string(decision)),
	)

	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.Validation("action must be approve or reject")
	}
	if decision == DecisionApprove && newDate == nil {
		return nil, apperr.Validation("new_date is required to approve")
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin respond", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.AppointmentID != appointmentID {
		return nil, apperr.NotFound("request %s does not belong to appointment %s", requestID, appointmentID)
	}
	if req.State != RequestPending {
		return nil, apperr.Conflict("request is already %s", req.State)
	}

	var appt *appointments.Appointment
	if decision == DecisionApprove {
		// The request came from the patient; the approval keeps that
		// provenance on the appointment.
		appt, err = s.engine.ApplyRescheduleTx(ctx, tx, appointmentID, *newDate, req.Motive, appointments.RequestedByPatient)
		if err != nil {
			return nil, err
		}
		req.State = RequestApproved
	} else {
		appt, err = s.engine.Repo().GetByIDForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return nil, err
		}
		req.State = RequestRejected
	}

	now := s.now()
	doctorResponse = strings.TrimSpace(doctorResponse)
	if doctorResponse != "" {
		req.DoctorResponse = &doctorResponse
	}
	req.RespondedAt = &now

	if err := s.repo.UpdateTx(ctx, tx, req); err != nil {
		return nil, apperr.Persistence("update reschedule request", err)
	}
	evt := events.RescheduleResolvedV1{
		EventID:        uuid.NewString(),
		Recipients:     recipientsOf(appt),
		RequestID:      req.ID,
		Decision:       string(req.State),
		DoctorResponse: doctorResponse,
		OccurredAt:     now,
	}
	if decision == DecisionApprove {
		d := newDate.UTC()
		evt.NewDate = &d
	}
	if _, err := s.outbox.InsertTx(ctx, tx, events.KindRescheduleResolved, evt); err != nil {
		return nil, apperr.Persistence("queue reschedule-resolved event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit respond", err)
	}

	if decision == DecisionApprove && s.audit != nil {
		s.audit.RecordReschedule(ctx, appointmentID, newDate.UTC(), appointments.RequestedByPatient)
	}
	s.logger.Info("reschedule request resolved",
		"request_id", req.ID, "appointment_id", appointmentID, "decision", req.State)
	return req, nil
}

// Cancel lets the owning patient withdraw their own pending request.
func (s *Service) Cancel(ctx context.Context, requestID, callerPatientID uuid.UUID) (*Request, error) {
	ctx, span := tracer.Start(ctx, "reschedule.cancel")
	defer span.End()

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin cancel", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PatientID != callerPatientID {
		return nil, apperr.Authorization("request does not belong to this patient")
	}
	if req.State != RequestPending {
		return nil, apperr.Conflict("request is already %s", req.State)
	}

	req.State = RequestCancelled
	if err := s.repo.UpdateTx(ctx, tx, req); err != nil {
		return nil, apperr.Persistence("cancel reschedule request", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit cancel", err)
	}

	s.logger.Info("reschedule request cancelled",
		"request_id", req.ID, "patient_id", callerPatientID)
	return req, nil
}

// ListByAppointment returns every request for one appointment.
func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Request, error) {
	out, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, apperr.Persistence("list reschedule requests", err)
	}
	return out, nil
}

func recipientsOf(a *appointments.Appointment) events.Recipients {
	rec := events.Recipients{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
	}
	if a.DoctorID != nil {
		rec.DoctorID = *a.DoctorID
	}
	return rec
}
