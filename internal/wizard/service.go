package wizard

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/appointments"
	"github.com/clinicore/clinic-ops/internal/catalog"
	"github.com/clinicore/clinic-ops/internal/observability/metrics"
	"github.com/clinicore/clinic-ops/internal/privacy"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.wizard")

// Service orchestrates wizard steps and the one-shot consultation variants.
// Each operation runs in one transaction; on failure nothing partial is
// visible.
type Service struct {
	repo    *Repository
	engine  *appointments.Service
	catalog *catalog.Repository
	codec   *privacy.Codec
	metrics *metrics.AppointmentMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewService constructs the orchestrator. metrics may be nil.
func NewService(repo *Repository, engine *appointments.Service, cat *catalog.Repository, codec *privacy.Codec, m *metrics.AppointmentMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("wizard: repository required")
	}
	if engine == nil {
		panic("wizard: appointment engine required")
	}
	if cat == nil {
		cat = catalog.NewRepository()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:    repo,
		engine:  engine,
		catalog: cat,
		codec:   codec,
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

// StepResult is the state after a step or consultation write.
type StepResult struct {
	Appointment    *appointments.Appointment `json:"appointment"`
	Vitals         *VitalSigns               `json:"vitals,omitempty"`
	Diagnosis      *Diagnosis                `json:"diagnosis,omitempty"`
	MedicationPlan *MedicationPlan           `json:"medication_plan,omitempty"`
}

// CompleteStep applies one wizard step atomically. Steps are independently
// callable and safely repeatable; sub-record writes are upserts.
func (s *Service) CompleteStep(ctx context.Context, appointmentID uuid.UUID, in StepInput) (res *StepResult, err error) {
	ctx, span := tracer.Start(ctx, "wizard.complete_step")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicops.appointment_id", appointmentID.String()),
		attribute.String("clinicops.step", string(in.Step)),
	)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveWizardStep(string(in.Step), status)
	}()

	if !in.Step.Valid() {
		return nil, apperr.Validation("unknown wizard step %q", in.Step)
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin wizard step", err)
	}
	defer tx.Rollback(ctx)

	res = &StepResult{}
	var appt *appointments.Appointment

	switch in.Step {
	case StepAttendance:
		appt, err = s.applyAttendanceTx(ctx, tx, appointmentID, in)
	case StepVitals:
		appt, err = s.lockAppointment(ctx, tx, appointmentID)
		if err == nil {
			res.Vitals, err = s.applyVitalsTx(ctx, tx, appointmentID, in.Vitals)
		}
	case StepNotes:
		appt, err = s.applyNotesTx(ctx, tx, appointmentID, in.Notes)
	case StepDiagnosis:
		appt, err = s.lockAppointment(ctx, tx, appointmentID)
		if err == nil {
			res.Diagnosis, err = s.applyDiagnosisTx(ctx, tx, appointmentID, in.Diagnosis)
		}
	case StepMedicationPlan:
		appt, err = s.lockAppointment(ctx, tx, appointmentID)
		if err == nil {
			res.MedicationPlan, err = s.applyPlanTx(ctx, tx, appointmentID, in.MedicationPlan)
		}
	case StepFinalize:
		appt, err = s.applyFinalizeTx(ctx, tx, appointmentID, in.LeavePending)
	}
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit wizard step", err)
	}

	s.logger.Info("wizard step applied", "appointment_id", appointmentID, "step", in.Step)
	res.Appointment = s.engine.Decode(appt)
	return res, nil
}

func (s *Service) lockAppointment(ctx context.Context, tx Querier, id uuid.UUID) (*appointments.Appointment, error) {
	return s.engine.Repo().GetByIDForUpdate(ctx, tx, id)
}

func (s *Service) applyAttendanceTx(ctx context.Context, tx Querier, id uuid.UUID, in StepInput) (*appointments.Appointment, error) {
	if in.Attended == nil {
		return nil, apperr.Validation("attended is required for the attendance step")
	}
	if !*in.Attended {
		appt, _, err := s.engine.ApplyStateTx(ctx, tx, id, appointments.StateNoShow, "")
		if err != nil {
			return nil, err
		}
		if reason := strings.TrimSpace(in.NonAttendanceReason); reason != "" {
			appt.NonAttendanceReason = &reason
			if err := s.engine.Repo().UpdateTx(ctx, tx, appt); err != nil {
				return nil, apperr.Persistence("store non-attendance reason", err)
			}
		}
		return appt, nil
	}

	appt, err := s.lockAppointment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// A repeated attended=true step after completion is a no-op, not a
	// conflict; steps must stay safely repeatable.
	if appt.State == appointments.StateAttended && appt.Attendance != nil && *appt.Attendance {
		return appt, nil
	}
	if appt.State.Terminal() {
		return nil, apperr.Conflict("appointment is in terminal state %q", appt.State)
	}
	attended := true
	appt.Attendance = &attended
	appt.NonAttendanceReason = nil
	if err := s.engine.Repo().UpdateTx(ctx, tx, appt); err != nil {
		return nil, apperr.Persistence("store attendance", err)
	}
	return appt, nil
}

func (s *Service) applyVitalsTx(ctx context.Context, tx Querier, appointmentID uuid.UUID, in *VitalsInput) (*VitalSigns, error) {
	if in == nil {
		return nil, apperr.Validation("vitals payload is required")
	}
	v := &VitalSigns{
		AppointmentID: appointmentID,
		Weight:        in.Weight,
		Height:        in.Height,
		SystolicBP:    in.SystolicBP,
		DiastolicBP:   in.DiastolicBP,
		HeartRate:     in.HeartRate,
		Temperature:   in.Temperature,
		BMI:           ComputeBMI(in.Weight, in.Height),
	}
	if err := s.repo.UpsertVitalsTx(ctx, tx, v); err != nil {
		return nil, apperr.Persistence("upsert vitals", err)
	}
	return v, nil
}

func (s *Service) applyNotesTx(ctx context.Context, tx Querier, id uuid.UUID, notes *string) (*appointments.Appointment, error) {
	if notes == nil {
		return nil, apperr.Validation("notes payload is required")
	}
	appt, err := s.lockAppointment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// Empty after trimming normalizes to the unset value.
	appt.Notes = s.codec.Encode(strings.TrimSpace(*notes))
	if err := s.engine.Repo().UpdateTx(ctx, tx, appt); err != nil {
		return nil, apperr.Persistence("store notes", err)
	}
	return appt, nil
}

func (s *Service) applyDiagnosisTx(ctx context.Context, tx Querier, appointmentID uuid.UUID, in *DiagnosisInput) (*Diagnosis, error) {
	if in == nil {
		return nil, apperr.Validation("diagnosis payload is required")
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperr.Validation("diagnosis description is required")
	}
	d := &Diagnosis{
		AppointmentID: appointmentID,
		Description:   s.codec.Encode(description),
		Code:          in.Code,
	}
	if err := s.repo.UpsertDiagnosisTx(ctx, tx, d); err != nil {
		return nil, apperr.Persistence("upsert diagnosis", err)
	}
	d.Description = description
	return d, nil
}

func (s *Service) applyPlanTx(ctx context.Context, tx Querier, appointmentID uuid.UUID, in *PlanInput) (*MedicationPlan, error) {
	if in == nil {
		return nil, apperr.Validation("medication plan payload is required")
	}
	p := &MedicationPlan{
		AppointmentID: appointmentID,
		Instructions:  strings.TrimSpace(in.Instructions),
	}
	if err := s.repo.UpsertPlanTx(ctx, tx, p); err != nil {
		return nil, apperr.Persistence("upsert medication plan", err)
	}
	if in.Items != nil {
		items := make([]MedicationPlanItem, len(in.Items))
		for i, it := range in.Items {
			items[i] = MedicationPlanItem{
				DrugName:  strings.TrimSpace(it.DrugName),
				Dosage:    it.Dosage,
				Frequency: it.Frequency,
				Route:     it.Route,
			}
		}
		if err := s.repo.ReplaceItemsTx(ctx, tx, p.ID, items); err != nil {
			return nil, apperr.Persistence("replace plan items", err)
		}
		p.Items = items
	}
	return p, nil
}

func (s *Service) applyFinalizeTx(ctx context.Context, tx Querier, id uuid.UUID, leavePending bool) (*appointments.Appointment, error) {
	appt, err := s.lockAppointment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	// Finalizing an already attended appointment is a no-op.
	if appt.State == appointments.StateAttended {
		return appt, nil
	}
	if leavePending || appt.Attendance == nil || !*appt.Attendance {
		return appt, nil
	}
	appt, _, err = s.engine.ApplyStateTx(ctx, tx, id, appointments.StateAttended, "")
	return appt, err
}

// CreateFullConsultation attaches the supplied sub-records to an existing
// appointment or a newly created one, all in one transaction.
func (s *Service) CreateFullConsultation(ctx context.Context, in ConsultationInput) (res *StepResult, err error) {
	ctx, span := tracer.Start(ctx, "wizard.full_consultation")
	defer span.End()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveWizardStep("full_consultation", status)
	}()

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin full consultation", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.resolveAppointmentTx(ctx, tx, in, false)
	if err != nil {
		return nil, err
	}
	res = &StepResult{}
	if err = s.applySubRecordsTx(ctx, tx, appt.ID, in, res); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit full consultation", err)
	}

	s.logger.Info("full consultation recorded", "appointment_id", appt.ID)
	res.Appointment = s.engine.Decode(appt)
	return res, nil
}

// CreateFirstConsultation records a patient's first encounter: the full
// consultation plus comorbidity associations and an idempotent doctor-patient
// assignment.
func (s *Service) CreateFirstConsultation(ctx context.Context, in FirstConsultationInput) (res *StepResult, err error) {
	ctx, span := tracer.Start(ctx, "wizard.first_consultation")
	defer span.End()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveWizardStep("first_consultation", status)
	}()

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin first consultation", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.resolveAppointmentTx(ctx, tx, in.ConsultationInput, true)
	if err != nil {
		return nil, err
	}
	res = &StepResult{}
	if err = s.applySubRecordsTx(ctx, tx, appt.ID, in.ConsultationInput, res); err != nil {
		return nil, err
	}
	if err = s.applyComorbiditiesTx(ctx, tx, in.PatientID, in.Comorbidities); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit first consultation", err)
	}

	// The assignment is best-effort and must not undo the committed
	// consultation, so it runs outside the transaction.
	if in.DoctorID != nil {
		if err := s.catalog.EnsureAssignmentTx(ctx, s.repo.Pool(), *in.DoctorID, in.PatientID); err != nil {
			s.logger.Warn("doctor-patient assignment failed",
				"doctor_id", *in.DoctorID, "patient_id", in.PatientID, "error", err)
		}
	}

	s.logger.Info("first consultation recorded", "appointment_id", appt.ID, "patient_id", in.PatientID)
	res.Appointment = s.engine.Decode(appt)
	return res, nil
}

func (s *Service) resolveAppointmentTx(ctx context.Context, tx Querier, in ConsultationInput, first bool) (*appointments.Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.AppointmentID != nil {
		appt, err := s.lockAppointment(ctx, tx, *in.AppointmentID)
		if err != nil {
			return nil, err
		}
		if appt.PatientID != in.PatientID {
			return nil, apperr.Authorization("appointment does not belong to this patient")
		}
		if first && !appt.IsFirstConsultation {
			appt.IsFirstConsultation = true
			if err := s.engine.Repo().UpdateTx(ctx, tx, appt); err != nil {
				return nil, apperr.Persistence("mark first consultation", err)
			}
		}
		return appt, nil
	}
	return s.engine.ApplyCreateTx(ctx, tx, appointments.CreateInput{
		PatientID:           in.PatientID,
		DoctorID:            in.DoctorID,
		ScheduledAt:         in.ScheduledAt,
		Reason:              in.Reason,
		IsFirstConsultation: first,
	})
}

func (s *Service) applySubRecordsTx(ctx context.Context, tx Querier, appointmentID uuid.UUID, in ConsultationInput, res *StepResult) error {
	var err error
	if in.Vitals != nil {
		if res.Vitals, err = s.applyVitalsTx(ctx, tx, appointmentID, in.Vitals); err != nil {
			return err
		}
	}
	if in.Diagnosis != nil {
		if res.Diagnosis, err = s.applyDiagnosisTx(ctx, tx, appointmentID, in.Diagnosis); err != nil {
			return err
		}
	}
	if in.MedicationPlan != nil {
		if res.MedicationPlan, err = s.applyPlanTx(ctx, tx, appointmentID, in.MedicationPlan); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyComorbiditiesTx(ctx context.Context, tx Querier, patientID uuid.UUID, comorbidities []ComorbidityInput) error {
	currentYear := s.now().Year()
	for _, c := range comorbidities {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			s.logger.Warn("skipping unnamed comorbidity", "patient_id", patientID)
			continue
		}
		entry, err := s.catalog.FindOrCreateComorbidityTx(ctx, tx, name)
		if err != nil {
			return apperr.Persistence("find-or-create comorbidity", err)
		}
		year := c.DiagnosisYear
		if year != nil && (*year < 1900 || *year > currentYear) {
			s.logger.Warn("discarding out-of-range diagnosis year",
				"patient_id", patientID, "comorbidity", name, "year", *year)
			year = nil
		}
		pc := &catalog.PatientComorbidity{
			PatientID:                           patientID,
			ComorbidityID:                       entry.ID,
			IsBaselineDiagnosis:                 c.IsBaselineDiagnosis,
			IsAddedLater:                        c.IsAddedLater,
			DiagnosisYear:                       year,
			ReceivesNonPharmacologicalTreatment: c.ReceivesNonPharmacologicalTreatment,
			ReceivesPharmacologicalTreatment:    c.ReceivesPharmacologicalTreatment,
			YearsAffected:                       c.YearsAffected,
		}
		if err := s.catalog.UpsertPatientComorbidityTx(ctx, tx, pc); err != nil {
			return apperr.Persistence("upsert patient comorbidity", err)
		}
	}
	return nil
}
