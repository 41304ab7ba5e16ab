package appointments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/clinic-ops/internal/apperr"
)

// Querier is satisfied by both the pool and a pgx.Tx, so repository calls
// compose into a service-owned transaction.
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

// Repository provides persistence for appointments.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool (or a mock in
// tests).
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("appointments: db required")
	}
	return &Repository{db: db}
}

// Begin opens a transaction for a multi-entity write.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, rescheduled_at,
		reason, notes, is_first_consultation, state, attendance,
		non_attendance_reason, requested_by, reschedule_requested_at,
		reschedule_motive, created_at`

// InsertTx persists a new appointment inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, q Querier, a *Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, scheduled_at, rescheduled_at,
			reason, notes, is_first_consultation, state, attendance,
			non_attendance_reason, requested_by, reschedule_requested_at,
			reschedule_motive, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := q.Exec(ctx, query,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.RescheduledAt,
		textArg(a.Reason), textArg(a.Notes), a.IsFirstConsultation, string(a.State), a.Attendance,
		a.NonAttendanceReason, requestedByArg(a.RequestedBy), a.RescheduleRequestedAt,
		a.RescheduleMotive, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

func requestedByArg(rb *RequestedBy) *string {
	if rb == nil {
		return nil
	}
	s := string(*rb)
	return &s
}

// textArg maps an empty string to NULL so cleared text columns do not keep
// an empty-string residue.
func textArg(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetByID loads an appointment outside any transaction.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, r.db, id, false)
}

// GetByIDForUpdate loads an appointment with a row lock inside tx; the lock
// serializes concurrent transitions against the same appointment.
func (r *Repository) GetByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, q, id, true)
}

func (r *Repository) get(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}
	row := q.QueryRow(ctx, query, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load: %w", err)
	}
	return a, nil
}

// UpdateTx writes every mutable field of a inside the caller's transaction.
func (r *Repository) UpdateTx(ctx context.Context, q Querier, a *Appointment) error {
	query := `
		UPDATE appointments
		SET doctor_id = $2,
			scheduled_at = $3,
			rescheduled_at = $4,
			reason = $5,
			notes = $6,
			is_first_consultation = $7,
			state = $8,
			attendance = $9,
			non_attendance_reason = $10,
			requested_by = $11,
			reschedule_requested_at = $12,
			reschedule_motive = $13
		WHERE id = $1
	`
	ct, err := q.Exec(ctx, query,
		a.ID, a.DoctorID, a.ScheduledAt, a.RescheduledAt,
		textArg(a.Reason), textArg(a.Notes), a.IsFirstConsultation, string(a.State), a.Attendance,
		a.NonAttendanceReason, requestedByArg(a.RequestedBy), a.RescheduleRequestedAt,
		a.RescheduleMotive,
	)
	if err != nil {
		return fmt.Errorf("appointments: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	return nil
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	From      *time.Time
	To        *time.Time
	State     *State
}

// List returns appointments matching the filter, newest schedule first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id =", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id =", *f.PatientID)
	}
	if f.From != nil {
		add("scheduled_at >=", *f.From)
	}
	if f.To != nil {
		add("scheduled_at <=", *f.To)
	}
	if f.State != nil {
		add("state =", string(*f.State))
	}

	query := `SELECT ` + appointmentColumns + `
		FROM appointments`
	if len(conds) > 0 {
		query += `
		WHERE ` + strings.Join(conds, " AND ")
	}
	query += `
		ORDER BY scheduled_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		state         string
		reason, notes *string
		requestedBy   *string
	)
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.RescheduledAt,
		&reason, &notes, &a.IsFirstConsultation, &state, &a.Attendance,
		&a.NonAttendanceReason, &requestedBy, &a.RescheduleRequestedAt,
		&a.RescheduleMotive, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		a.Reason = *reason
	}
	if notes != nil {
		a.Notes = *notes
	}
	a.State = State(state)
	if requestedBy != nil {
		rb := RequestedBy(*requestedBy)
		a.RequestedBy = &rb
	}
	return &a, nil
}
