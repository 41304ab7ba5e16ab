// Package reschedule implements the patient-request / clinician-decision
// workflow for moving an appointment. Patients only ever ask; the replacement
// date is supplied by the responding clinician or admin.
package reschedule

import (
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of a reschedule request. Everything
// except pending is terminal for the request instance.
type RequestState string

const (
	RequestPending   RequestState = "pending"
	RequestApproved  RequestState = "approved"
	RequestRejected  RequestState = "rejected"
	RequestCancelled RequestState = "cancelled"
)

// Decision is the clinician's answer to a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Request is a patient-submitted ask to move an appointment.
// RequestedDate stays nil for the request's whole life: letting patients pick
// the date would allow double-booking collisions, so only the responder sets
// one.
type Request struct {
	ID             uuid.UUID    `json:"id"`
	AppointmentID  uuid.UUID    `json:"appointment_id"`
	PatientID      uuid.UUID    `json:"patient_id"`
	Motive         string       `json:"motive"`
	RequestedDate  *time.Time   `json:"requested_date"`
	State          RequestState `json:"state"`
	DoctorResponse *string      `json:"doctor_response,omitempty"`
	RespondedAt    *time.Time   `json:"responded_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
