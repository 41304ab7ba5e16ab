// Package appointments holds the appointment entity, its persistence and the
// state transition engine governing its lifecycle.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an appointment. The set is closed;
// cancelled and attended are terminal.
type State string

const (
	StatePending     State = "pending"
	StateAttended    State = "attended"
	StateNoShow      State = "no_show"
	StateRescheduled State = "rescheduled"
	StateCancelled   State = "cancelled"
)

// Valid reports whether s is one of the five lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateAttended, StateNoShow, StateRescheduled, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition out of s is legal.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateAttended
}

// RequestedBy records which party initiated a reschedule.
type RequestedBy string

const (
	RequestedByPatient RequestedBy = "patient"
	RequestedByDoctor  RequestedBy = "doctor"
	RequestedByAdmin   RequestedBy = "admin"
)

// Valid reports whether r is a known requester.
func (r RequestedBy) Valid() bool {
	switch r {
	case RequestedByPatient, RequestedByDoctor, RequestedByAdmin:
		return true
	}
	return false
}

// Appointment is a scheduled patient-clinician encounter and its outcome.
// Reason and Notes are stored encoded; the service decodes them on reads.
// Attendance is a projection of State kept for legacy readers: the engine
// writes it only when applying attended/no_show and never reads it back for
// decisions.
type Appointment struct {
	ID                    uuid.UUID    `json:"id"`
	PatientID             uuid.UUID    `json:"patient_id"`
	DoctorID              *uuid.UUID   `json:"doctor_id,omitempty"`
	ScheduledAt           time.Time    `json:"scheduled_at"`
	RescheduledAt         *time.Time   `json:"rescheduled_at,omitempty"`
	Reason                string       `json:"reason,omitempty"`
	Notes                 string       `json:"notes,omitempty"`
	IsFirstConsultation   bool         `json:"is_first_consultation"`
	State                 State        `json:"state"`
	Attendance            *bool        `json:"attendance,omitempty"`
	NonAttendanceReason   *string      `json:"non_attendance_reason,omitempty"`
	RequestedBy           *RequestedBy `json:"requested_by,omitempty"`
	RescheduleRequestedAt *time.Time   `json:"reschedule_requested_at,omitempty"`
	RescheduleMotive      *string      `json:"reschedule_motive,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

// applyAttendanceMirror keeps the legacy attendance flag consistent with the
// state being applied. States other than attended/no_show leave it alone.
func (a *Appointment) applyAttendanceMirror(next State) {
	switch next {
	case StateAttended:
		v := true
		a.Attendance = &v
	case StateNoShow:
		v := false
		a.Attendance = &v
	}
}
