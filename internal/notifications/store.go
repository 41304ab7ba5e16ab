package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/clinic-ops/internal/apperr"
)

// RecordState is the lifecycle of one persisted notification.
type RecordState string

const (
	RecordSent     RecordState = "sent"
	RecordRead     RecordState = "read"
	RecordArchived RecordState = "archived"
)

// Record is the persisted notification; only clinician recipients get one,
// patient and admin channels are transient.
type Record struct {
	ID                uuid.UUID       `json:"id"`
	RecipientDoctorID uuid.UUID       `json:"recipient_doctor_id"`
	PatientID         *uuid.UUID      `json:"patient_id,omitempty"`
	AppointmentID     *uuid.UUID      `json:"appointment_id,omitempty"`
	Type              string          `json:"type"`
	Title             string          `json:"title"`
	Message           string          `json:"message"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	State             RecordState     `json:"state"`
	SentAt            time.Time       `json:"sent_at"`
	ReadAt            *time.Time      `json:"read_at,omitempty"`
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists notification records.
type Store struct {
	db db
}

func NewStore(db db) *Store {
	if db == nil {
		panic("notifications: db required")
	}
	return &Store{db: db}
}

// Insert writes one sent record.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.State == "" {
		rec.State = RecordSent
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	query := `
		INSERT INTO notifications (
			id, recipient_doctor_id, patient_id, appointment_id,
			type, title, message, payload, state, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.RecipientDoctorID, rec.PatientID, rec.AppointmentID,
		rec.Type, rec.Title, rec.Message, rec.Payload, string(rec.State), rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("notifications: insert record: %w", err)
	}
	return nil
}

// ListByDoctor returns a clinician's notifications, newest first.
func (s *Store) ListByDoctor(ctx context.Context, doctorID uuid.UUID, unreadOnly bool) ([]*Record, error) {
	query := `
		SELECT id, recipient_doctor_id, patient_id, appointment_id,
			type, title, message, payload, state, sent_at, read_at
		FROM notifications
		WHERE recipient_doctor_id = $1`
	if unreadOnly {
		query += ` AND state = 'sent'`
	}
	query += `
		ORDER BY sent_at DESC`

	rows, err := s.db.Query(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec   Record
			state string
		)
		if err := rows.Scan(
			&rec.ID, &rec.RecipientDoctorID, &rec.PatientID, &rec.AppointmentID,
			&rec.Type, &rec.Title, &rec.Message, &rec.Payload, &state, &rec.SentAt, &rec.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("notifications: scan: %w", err)
		}
		rec.State = RecordState(state)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// MarkRead flips one sent record to read.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.setState(ctx, id, RecordRead, true)
}

// Archive hides one record from the default listing.
func (s *Store) Archive(ctx context.Context, id uuid.UUID) error {
	return s.setState(ctx, id, RecordArchived, false)
}

func (s *Store) setState(ctx context.Context, id uuid.UUID, state RecordState, stampRead bool) error {
	query := `
		UPDATE notifications
		SET state = $2, read_at = CASE WHEN $3 THEN now() ELSE read_at END
		WHERE id = $1
	`
	ct, err := s.db.Exec(ctx, query, id, string(state), stampRead)
	if err != nil {
		return fmt.Errorf("notifications: set state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("notification %s not found", id)
	}
	return nil
}
