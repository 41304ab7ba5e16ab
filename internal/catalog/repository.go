package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both the pool and a pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository writes catalog entries and associations. All methods take a
// Querier so the first-consultation flow can fold them into its own
// transaction.
type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

// FindOrCreateComorbidityTx returns the catalog entry for name, creating it
// when absent. The upsert keyed on the unique name column makes concurrent
// callers converge on one row.
func (r *Repository) FindOrCreateComorbidityTx(ctx context.Context, q Querier, name string) (*Comorbidity, error) {
	name = strings.TrimSpace(name)
	query := `
		INSERT INTO comorbidities (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at
	`
	var c Comorbidity
	err := q.QueryRow(ctx, query, uuid.New(), name, time.Now().UTC()).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: find-or-create comorbidity %q: %w", name, err)
	}
	return &c, nil
}

// UpsertPatientComorbidityTx creates or updates the association row for the
// (patient, comorbidity) pair, overwriting the clinical flags in place.
func (r *Repository) UpsertPatientComorbidityTx(ctx context.Context, q Querier, pc *PatientComorbidity) error {
	query := `
		INSERT INTO patient_comorbidities (
			id, patient_id, comorbidity_id, is_baseline_diagnosis, is_added_later,
			diagnosis_year, receives_non_pharmacological_treatment,
			receives_pharmacological_treatment, years_affected, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (patient_id, comorbidity_id) DO UPDATE SET
			is_baseline_diagnosis = EXCLUDED.is_baseline_diagnosis,
			is_added_later = EXCLUDED.is_added_later,
			diagnosis_year = EXCLUDED.diagnosis_year,
			receives_non_pharmacological_treatment = EXCLUDED.receives_non_pharmacological_treatment,
			receives_pharmacological_treatment = EXCLUDED.receives_pharmacological_treatment,
			years_affected = EXCLUDED.years_affected,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	err := q.QueryRow(ctx, query,
		uuid.New(), pc.PatientID, pc.ComorbidityID, pc.IsBaselineDiagnosis, pc.IsAddedLater,
		pc.DiagnosisYear, pc.ReceivesNonPharmacologicalTreatment,
		pc.ReceivesPharmacologicalTreatment, pc.YearsAffected, time.Now().UTC(),
	).Scan(&pc.ID)
	if err != nil {
		return fmt.Errorf("catalog: upsert patient comorbidity: %w", err)
	}
	return nil
}

// EnsureAssignmentTx records that doctor treats patient, once. Existing
// assignments are left untouched.
func (r *Repository) EnsureAssignmentTx(ctx context.Context, q Querier, doctorID, patientID uuid.UUID) error {
	query := `
		INSERT INTO doctor_patients (id, doctor_id, patient_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, patient_id) DO NOTHING
	`
	_, err := q.Exec(ctx, query, uuid.New(), doctorID, patientID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: ensure assignment: %w", err)
	}
	return nil
}
