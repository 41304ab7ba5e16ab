// Package audit writes lifecycle facts to a write-only trail. The sink is
// fire-and-forget: it logs its own failures and never returns them, so audit
// problems cannot disturb a committed business operation.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-ops/internal/appointments"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Sink records appointment lifecycle facts on a database/sql handle. The
// audit trail lives apart from the business pool so trail growth and locks
// never contend with request transactions.
type Sink struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewSink(db *sql.DB, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{db: db, logger: logger}
}

const insertQuery = `
	INSERT INTO audit_events (id, appointment_id, action, detail, recorded_at)
	VALUES ($1, $2, $3, $4, $5)
`

// RecordStateChange stores one transition fact.
func (s *Sink) RecordStateChange(ctx context.Context, appointmentID uuid.UUID, previous, next appointments.State) {
	if s == nil || s.db == nil {
		return
	}
	detail := string(previous) + " -> " + string(next)
	s.record(ctx, appointmentID, "state_change", detail)
}

// RecordReschedule stores one reschedule fact.
func (s *Sink) RecordReschedule(ctx context.Context, appointmentID uuid.UUID, newDate time.Time, requestedBy appointments.RequestedBy) {
	if s == nil || s.db == nil {
		return
	}
	detail := newDate.UTC().Format(time.RFC3339) + " by " + string(requestedBy)
	s.record(ctx, appointmentID, "reschedule", detail)
}

func (s *Sink) record(ctx context.Context, appointmentID uuid.UUID, action, detail string) {
	_, err := s.db.ExecContext(ctx, insertQuery,
		uuid.New(), appointmentID, action, detail, time.Now().UTC())
	if err != nil {
		s.logger.Error("audit write failed",
			"appointment_id", appointmentID, "action", action, "error", err)
	}
}

var _ appointments.AuditSink = (*Sink)(nil)
