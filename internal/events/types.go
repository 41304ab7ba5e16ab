// Package events defines the post-commit event kinds emitted by the
// appointment engine and the outbox that carries them to the fanout
// dispatcher.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a triggering event. The set is closed: the fanout
// templating switches over it exhaustively and treats anything else as an
// error rather than falling through to a default.
type Kind string

const (
	KindAppointmentCreated  Kind = "appointment.created"
	KindStateChanged        Kind = "appointment.state_changed"
	KindRescheduled         Kind = "appointment.rescheduled"
	KindRescheduleRequested Kind = "appointment.reschedule_requested"
	KindRescheduleResolved  Kind = "appointment.reschedule_resolved"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAppointmentCreated, KindStateChanged, KindRescheduled,
		KindRescheduleRequested, KindRescheduleResolved:
		return true
	}
	return false
}

// Recipients carries the parties every appointment event concerns.
type Recipients struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id,omitempty"`
}

type AppointmentCreatedV1 struct {
	EventID string `json:"event_id"`
	Recipients
	ScheduledAt         time.Time `json:"scheduled_at"`
	IsFirstConsultation bool      `json:"is_first_consultation"`
	OccurredAt          time.Time `json:"occurred_at"`
}

type StateChangedV1 struct {
	EventID string `json:"event_id"`
	Recipients
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Observations  string    `json:"observations,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type RescheduledV1 struct {
	EventID string `json:"event_id"`
	Recipients
	NewDate     time.Time `json:"new_date"`
	Motive      string    `json:"motive,omitempty"`
	RequestedBy string    `json:"requested_by"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type RescheduleRequestedV1 struct {
	EventID string `json:"event_id"`
	Recipients
	RequestID  uuid.UUID `json:"request_id"`
	Motive     string    `json:"motive"`
	OccurredAt time.Time `json:"occurred_at"`
}

type RescheduleResolvedV1 struct {
	EventID string `json:"event_id"`
	Recipients
	RequestID      uuid.UUID  `json:"request_id"`
	Decision       string     `json:"decision"` // approved | rejected
	DoctorResponse string     `json:"doctor_response,omitempty"`
	NewDate        *time.Time `json:"new_date,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
