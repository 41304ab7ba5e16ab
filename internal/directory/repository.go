// Package directory provides read-only lookups of patient and clinician
// identity. Record management lives elsewhere; this core only resolves who a
// record belongs to and which user account is linked to it.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinic-ops/internal/apperr"
)

// Patient is the directory view of a patient record.
type Patient struct {
	ID       uuid.UUID
	FullName string
	Email    string
	UserID   *uuid.UUID
}

// Doctor is the directory view of a clinician record.
type Doctor struct {
	ID       uuid.UUID
	FullName string
	Email    string
	UserID   *uuid.UUID
}

// Admin is a user account with the administrator role.
type Admin struct {
	UserID uuid.UUID
	Email  string
}

type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository resolves directory lookups against postgres.
type Repository struct {
	db           db
	staticAdmins []string
}

func NewRepository(db db) *Repository {
	if db == nil {
		panic("directory: db required")
	}
	return &Repository{db: db}
}

// WithStaticAdmins registers operator-configured admin addresses that are
// appended to ListAdmins results. They have no user account, so UserID stays
// nil-equivalent (uuid.Nil).
func (r *Repository) WithStaticAdmins(emails []string) *Repository {
	r.staticAdmins = emails
	return r
}

// GetPatient returns the patient record for id.
func (r *Repository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `
		SELECT id, full_name, email, user_id
		FROM patients
		WHERE id = $1
	`
	var p Patient
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.FullName, &p.Email, &p.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load patient: %w", err)
	}
	return &p, nil
}

// GetDoctor returns the clinician record for id.
func (r *Repository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query := `
		SELECT id, full_name, email, user_id
		FROM doctors
		WHERE id = $1
	`
	var d Doctor
	err := r.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.FullName, &d.Email, &d.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load doctor: %w", err)
	}
	return &d, nil
}

// ListAdmins returns every administrator account; the fanout treats the
// admin role as a broadcast target.
func (r *Repository) ListAdmins(ctx context.Context) ([]Admin, error) {
	query := `
		SELECT id, email
		FROM users
		WHERE role = 'admin'
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("directory: list admins: %w", err)
	}
	defer rows.Close()

	var admins []Admin
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.UserID, &a.Email); err != nil {
			return nil, fmt.Errorf("directory: scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, email := range r.staticAdmins {
		admins = append(admins, Admin{Email: email})
	}
	return admins, nil
}
