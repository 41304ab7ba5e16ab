package reschedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/clinic-ops/internal/apperr"
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

// Repository provides persistence for reschedule requests.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	if db == nil {
		panic("reschedule: db required")
	}
	return &Repository{db: db}
}

// Begin opens a transaction for a decision write.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const requestColumns = `id, appointment_id, patient_id, motive, requested_date,
		state, doctor_response, responded_at, created_at`

// InsertTx persists a new pending request. A partial unique index allows only
// one pending request per appointment; a violation surfaces as the same
// conflict the service pre-check raises, closing the check-then-act window.
func (r *Repository) InsertTx(ctx context.Context, q Querier, req *Request) error {
	query := `
		INSERT INTO reschedule_requests (
			id, appointment_id, patient_id, motive, requested_date,
			state, doctor_response, responded_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, query,
		req.ID, req.AppointmentID, req.PatientID, req.Motive, req.RequestedDate,
		string(req.State), req.DoctorResponse, req.RespondedAt, req.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("a pending reschedule request already exists for this appointment")
	}
	if err != nil {
		return fmt.Errorf("reschedule: insert request: %w", err)
	}
	return nil
}

// GetByID loads a request outside any transaction.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.get(ctx, r.db, id, false)
}

// GetByIDForUpdate loads a request with a row lock inside tx.
func (r *Repository) GetByIDForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*Request, error) {
	return r.get(ctx, q, id, true)
}

func (r *Repository) get(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM reschedule_requests
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}
	var (
		req   Request
		state string
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.AppointmentID, &req.PatientID, &req.Motive, &req.RequestedDate,
		&state, &req.DoctorResponse, &req.RespondedAt, &req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reschedule request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reschedule: load request: %w", err)
	}
	req.State = RequestState(state)
	return &req, nil
}

// HasPending reports whether the appointment already carries a pending
// request.
func (r *Repository) HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reschedule_requests
			WHERE appointment_id = $1 AND state = 'pending'
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, appointmentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("reschedule: pending check: %w", err)
	}
	return exists, nil
}

// UpdateTx writes the decision fields of req inside the caller's
// transaction.
func (r *Repository) UpdateTx(ctx context.Context, q Querier, req *Request) error {
	query := `
		UPDATE reschedule_requests
		SET state = $2,
			doctor_response = $3,
			responded_at = $4
		WHERE id = $1
	`
	ct, err := q.Exec(ctx, query, req.ID, string(req.State), req.DoctorResponse, req.RespondedAt)
	if err != nil {
		return fmt.Errorf("reschedule: update request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("reschedule request %s not found", req.ID)
	}
	return nil
}

// ListByAppointment returns every request for one appointment, newest first.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM reschedule_requests
		WHERE appointment_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("reschedule: list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var (
			req   Request
			state string
		)
		if err := rows.Scan(
			&req.ID, &req.AppointmentID, &req.PatientID, &req.Motive, &req.RequestedDate,
			&state, &req.DoctorResponse, &req.RespondedAt, &req.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("reschedule: scan request: %w", err)
		}
		req.State = RequestState(state)
		out = append(out, &req)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
