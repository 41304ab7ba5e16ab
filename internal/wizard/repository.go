package wizard

import (
	"context"
	"fmt"
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

// DB adds transaction control on top of Querier.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists the 1:1 clinical sub-records. Every write is an upsert
// keyed on the unique appointment_id index, so retries update in place
// instead of duplicating.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	if db == nil {
		panic("wizard: db required")
	}
	return &Repository{db: db}
}

// Begin opens the transaction wrapping one wizard step.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// Pool exposes the non-transactional querier for best-effort writes that must
// not ride the step transaction.
func (r *Repository) Pool() Querier { return r.db }

// UpsertVitalsTx writes the vitals record for v.AppointmentID, keeping the
// original row id on conflict.
func (r *Repository) UpsertVitalsTx(ctx context.Context, q Querier, v *VitalSigns) error {
	query := `
		INSERT INTO vital_signs (
			id, appointment_id, weight, height, systolic_bp, diastolic_bp,
			heart_rate, temperature, bmi, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (appointment_id) DO UPDATE SET
			weight = EXCLUDED.weight,
			height = EXCLUDED.height,
			systolic_bp = EXCLUDED.systolic_bp,
			diastolic_bp = EXCLUDED.diastolic_bp,
			heart_rate = EXCLUDED.heart_rate,
			temperature = EXCLUDED.temperature,
			bmi = EXCLUDED.bmi,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	v.UpdatedAt = time.Now().UTC()
	err := q.QueryRow(ctx, query,
		uuid.New(), v.AppointmentID, v.Weight, v.Height, v.SystolicBP, v.DiastolicBP,
		v.HeartRate, v.Temperature, v.BMI, v.UpdatedAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("wizard: upsert vitals: %w", err)
	}
	return nil
}

// UpsertDiagnosisTx writes the diagnosis record for d.AppointmentID.
func (r *Repository) UpsertDiagnosisTx(ctx context.Context, q Querier, d *Diagnosis) error {
	query := `
		INSERT INTO diagnoses (id, appointment_id, description, code, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO UPDATE SET
			description = EXCLUDED.description,
			code = EXCLUDED.code,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	d.UpdatedAt = time.Now().UTC()
	err := q.QueryRow(ctx, query,
		uuid.New(), d.AppointmentID, d.Description, d.Code, d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("wizard: upsert diagnosis: %w", err)
	}
	return nil
}

// UpsertPlanTx writes the plan record for p.AppointmentID. Items are handled
// separately by ReplaceItemsTx.
func (r *Repository) UpsertPlanTx(ctx context.Context, q Querier, p *MedicationPlan) error {
	query := `
		INSERT INTO medication_plans (id, appointment_id, instructions, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id) DO UPDATE SET
			instructions = EXCLUDED.instructions,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	p.UpdatedAt = time.Now().UTC()
	err := q.QueryRow(ctx, query,
		uuid.New(), p.AppointmentID, p.Instructions, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("wizard: upsert medication plan: %w", err)
	}
	return nil
}

// ReplaceItemsTx swaps the full item list of one plan. Replacement rather
// than merge keeps repeated saves of the same list idempotent.
func (r *Repository) ReplaceItemsTx(ctx context.Context, q Querier, planID uuid.UUID, items []MedicationPlanItem) error {
	if _, err := q.Exec(ctx, `DELETE FROM medication_plan_items WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("wizard: clear plan items: %w", err)
	}
	query := `
		INSERT INTO medication_plan_items (id, plan_id, drug_name, dosage, frequency, route, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range items {
		it := &items[i]
		it.ID = uuid.New()
		it.PlanID = planID
		it.Position = i
		if _, err := q.Exec(ctx, query,
			it.ID, it.PlanID, it.DrugName, it.Dosage, it.Frequency, it.Route, it.Position,
		); err != nil {
			return fmt.Errorf("wizard: insert plan item %d: %w", i, err)
		}
	}
	return nil
}
