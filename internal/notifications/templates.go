// Package notifications fans committed appointment events out to patients,
// clinicians and administrators across the persisted, realtime, push and
// email channels.
package notifications

import (
	"encoding/json"
	"fmt"

	"github.com/clinicore/clinic-ops/internal/events"
)

// Content is the rendered wording of one notification. Both the persisted
// record and the push payload use the same rendering, so the channels never
// diverge.
type Content struct {
	Title   string
	Message string
}

const dateFormat = "Mon, 02 Jan 2006 15:04 MST"

// Render produces the notification wording for one event. The switch is
// exhaustive over the closed kind set; an unknown kind is an error, never a
// silent default.
func Render(kind events.Kind, payload json.RawMessage) (Content, error) {
	switch kind {
	case events.KindAppointmentCreated:
		var e events.AppointmentCreatedV1
		if err := json.Unmarshal(payload, &e); err != nil {
			return Content{}, fmt.Errorf("notifications: decode %s: %w", kind, err)
		}
		title := "New appointment"
		if e.IsFirstConsultation {
			title = "New first consultation"
		}
		return Content{
			Title:   title,
			Message: fmt.Sprintf("An appointment was scheduled for %s.", e.ScheduledAt.Format(dateFormat)),
		}, nil

	case events.KindStateChanged:
		var e events.StateChangedV1
		if err := json.Unmarshal(payload, &e); err != nil {
			return Content{}, fmt.Errorf("notifications: decode %s: %w", kind, err)
		}
		msg := fmt.Sprintf("The appointment moved from %s to %s.", e.PreviousState, e.NewState)
		if e.Observations != "" {
			msg += " Observations were recorded."
		}
		return Content{Title: "Appointment updated", Message: msg}, nil

	case events.KindRescheduled:
		var e events.RescheduledV1
		if err := json.Unmarshal(payload, &e); err != nil {
			return Content{}, fmt.Errorf("notifications: decode %s: %w", kind, err)
		}
		return Content{
			Title:   "Appointment rescheduled",
			Message: fmt.Sprintf("The appointment was moved to %s.", e.NewDate.Format(dateFormat)),
		}, nil

	case events.KindRescheduleRequested:
		var e events.RescheduleRequestedV1
		if err := json.Unmarshal(payload, &e); err != nil {
			return Content{}, fmt.Errorf("notifications: decode %s: %w", kind, err)
		}
		return Content{
			Title:   "Reschedule requested",
			Message: fmt.Sprintf("A patient asked to move their appointment: %s", e.Motive),
		}, nil

	case events.KindRescheduleResolved:
		var e events.RescheduleResolvedV1
		if err := json.Unmarshal(payload, &e); err != nil {
			return Content{}, fmt.Errorf("notifications: decode %s: %w", kind, err)
		}
		if e.Decision == "approved" && e.NewDate != nil {
			msg := fmt.Sprintf("Your reschedule request was approved. New date: %s.", e.NewDate.Format(dateFormat))
			if e.DoctorResponse != "" {
				msg += " " + e.DoctorResponse
			}
			return Content{Title: "Reschedule approved", Message: msg}, nil
		}
		msg := "Your reschedule request was declined."
		if e.DoctorResponse != "" {
			msg += " " + e.DoctorResponse
		}
		return Content{Title: "Reschedule declined", Message: msg}, nil
	}

	return Content{}, fmt.Errorf("notifications: no template for event kind %q", kind)
}

// ChatNotice renders the converging unread-count notice. The text is built
// from the current count every time, so repeated triggers replace rather
// than accumulate.
func ChatNotice(unread int64) Content {
	if unread == 1 {
		return Content{Title: "New message", Message: "You have 1 unread message."}
	}
	return Content{
		Title:   "New message",
		Message: fmt.Sprintf("You have %d unread messages.", unread),
	}
}
