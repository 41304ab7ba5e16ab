// Package wizard drives the stepwise completion of a consultation: clinical
// sub-records attach to one appointment through idempotent, independently
// committed steps, plus two one-shot variants.
package wizard

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Step is one independently-saveable stage of completing a consultation.
type Step string

const (
	StepAttendance     Step = "attendance"
	StepVitals         Step = "vitals"
	StepNotes          Step = "notes"
	StepDiagnosis      Step = "diagnosis"
	StepMedicationPlan Step = "medication_plan"
	StepFinalize       Step = "finalize"
)

func (s Step) Valid() bool {
	switch s {
	case StepAttendance, StepVitals, StepNotes, StepDiagnosis, StepMedicationPlan, StepFinalize:
		return true
	}
	return false
}

// VitalSigns is the 1:1 measurement record for an appointment. BMI is derived
// from weight and height, never supplied by callers.
type VitalSigns struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Weight        *float64  `json:"weight,omitempty"`
	Height        *float64  `json:"height,omitempty"`
	SystolicBP    *int      `json:"systolic_bp,omitempty"`
	DiastolicBP   *int      `json:"diastolic_bp,omitempty"`
	HeartRate     *int      `json:"heart_rate,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	BMI           *float64  `json:"bmi,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ComputeBMI returns weight/height² rounded to two decimals, or nil when
// either input is missing or height is zero.
func ComputeBMI(weight, height *float64) *float64 {
	if weight == nil || height == nil || *height == 0 {
		return nil
	}
	bmi := math.Round(*weight / (*height * *height) * 100) / 100
	return &bmi
}

// Diagnosis is the 1:1 diagnosis record for an appointment. Description is
// stored through the sensitive-field codec.
type Diagnosis struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Description   string    `json:"description"`
	Code          *string   `json:"code,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MedicationPlan is the 1:1 plan record; it owns an ordered item list that is
// replaced wholesale whenever the caller supplies items.
type MedicationPlan struct {
	ID            uuid.UUID            `json:"id"`
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Instructions  string               `json:"instructions"`
	Items         []MedicationPlanItem `json:"items,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type MedicationPlanItem struct {
	ID        uuid.UUID `json:"id"`
	PlanID    uuid.UUID `json:"plan_id"`
	DrugName  string    `json:"drug_name"`
	Dosage    string    `json:"dosage"`
	Frequency string    `json:"frequency"`
	Route     string    `json:"route"`
	Position  int       `json:"position"`
}

// VitalsInput carries raw measurements for the vitals step.
type VitalsInput struct {
	Weight      *float64 `json:"weight"`
	Height      *float64 `json:"height"`
	SystolicBP  *int     `json:"systolic_bp"`
	DiastolicBP *int     `json:"diastolic_bp"`
	HeartRate   *int     `json:"heart_rate"`
	Temperature *float64 `json:"temperature"`
}

type DiagnosisInput struct {
	Description string  `json:"description"`
	Code        *string `json:"code"`
}

type PlanItemInput struct {
	DrugName  string `json:"drug_name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Route     string `json:"route"`
}

type PlanInput struct {
	Instructions string          `json:"instructions"`
	Items        []PlanItemInput `json:"items"`
}

// StepInput is the polymorphic wizard request; only the fields for the named
// step are read.
type StepInput struct {
	Step                Step            `json:"step"`
	Attended            *bool           `json:"attended"`
	NonAttendanceReason string          `json:"non_attendance_reason"`
	Vitals              *VitalsInput    `json:"vitals"`
	Notes               *string         `json:"notes"`
	Diagnosis           *DiagnosisInput `json:"diagnosis"`
	MedicationPlan      *PlanInput      `json:"medication_plan"`
	LeavePending        bool            `json:"leave_pending"`
}

// ComorbidityInput asserts one comorbidity during a first consultation.
type ComorbidityInput struct {
	Name                                string `json:"name"`
	IsBaselineDiagnosis                 bool   `json:"is_baseline_diagnosis"`
	IsAddedLater                        bool   `json:"is_added_later"`
	DiagnosisYear                       *int   `json:"diagnosis_year"`
	ReceivesNonPharmacologicalTreatment bool   `json:"receives_non_pharmacological_treatment"`
	ReceivesPharmacologicalTreatment    bool   `json:"receives_pharmacological_treatment"`
	YearsAffected                       *int   `json:"years_affected"`
}

// ConsultationInput drives the one-shot variants. AppointmentID attaches to
// an existing appointment owned by PatientID; when nil a new appointment is
// created from the scheduling fields.
type ConsultationInput struct {
	AppointmentID  *uuid.UUID      `json:"appointment_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	DoctorID       *uuid.UUID      `json:"doctor_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	Reason         string          `json:"reason"`
	Vitals         *VitalsInput    `json:"vitals"`
	Diagnosis      *DiagnosisInput `json:"diagnosis"`
	MedicationPlan *PlanInput      `json:"medication_plan"`
}

// FirstConsultationInput adds the first-encounter extras.
type FirstConsultationInput struct {
	ConsultationInput
	Comorbidities []ComorbidityInput `json:"comorbidities"`
}
