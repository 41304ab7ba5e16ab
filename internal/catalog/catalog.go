// Package catalog manages the comorbidity reference list, patient
// comorbidity associations and doctor-patient assignment records that the
// first-consultation flow maintains.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Comorbidity is a shared reference entry, unique by name.
type Comorbidity struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PatientComorbidity links one patient to one catalog entry with the
// clinical flags asserted during a consultation. One row per pair.
type PatientComorbidity struct {
	ID                                  uuid.UUID `json:"id"`
	PatientID                           uuid.UUID `json:"patient_id"`
	ComorbidityID                       uuid.UUID `json:"comorbidity_id"`
	IsBaselineDiagnosis                 bool      `json:"is_baseline_diagnosis"`
	IsAddedLater                        bool      `json:"is_added_later"`
	DiagnosisYear                       *int      `json:"diagnosis_year,omitempty"`
	ReceivesNonPharmacologicalTreatment bool      `json:"receives_non_pharmacological_treatment"`
	ReceivesPharmacologicalTreatment    bool      `json:"receives_pharmacological_treatment"`
	YearsAffected                       *int      `json:"years_affected,omitempty"`
	UpdatedAt                           time.Time `json:"updated_at"`
}
