package appointments

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-ops/internal/api/respond"
	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Handler provides the appointment HTTP endpoints.
type Handler struct {
	svc         *Service
	logger      *logging.Logger
	development bool
}

func NewHandler(svc *Service, logger *logging.Logger, development bool) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger, development: development}
}

type createRequest struct {
	PatientID           string `json:"patient_id"`
	DoctorID            string `json:"doctor_id,omitempty"`
	ScheduledAt         string `json:"scheduled_at"`
	Reason              string `json:"reason,omitempty"`
	Notes               string `json:"notes,omitempty"`
	IsFirstConsultation bool   `json:"is_first_consultation,omitempty"`
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("patient_id must be a UUID"), h.development)
		return
	}
	scheduledAt, err := parseTime(req.ScheduledAt)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	in := CreateInput{
		PatientID:           patientID,
		ScheduledAt:         scheduledAt,
		Reason:              req.Reason,
		Notes:               req.Notes,
		IsFirstConsultation: req.IsFirstConsultation,
	}
	if req.DoctorID != "" {
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			respond.Error(w, h.logger, apperr.Validation("doctor_id must be a UUID"), h.development)
			return
		}
		in.DoctorID = &doctorID
	}

	a, err := h.svc.Create(r.Context(), in)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Created(w, a)
}

// List handles GET /appointments with filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	var f ListFilter
	q := r.URL.Query()
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respond.Error(w, h.logger, apperr.Validation("doctor_id must be a UUID"), h.development)
			return
		}
		f.DoctorID = &id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respond.Error(w, h.logger, apperr.Validation("patient_id must be a UUID"), h.development)
			return
		}
		f.PatientID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			respond.Error(w, h.logger, err, h.development)
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			respond.Error(w, h.logger, err, h.development)
			return
		}
		f.To = &t
	}
	if v := q.Get("state"); v != "" {
		st := State(v)
		if !st.Valid() {
			respond.Error(w, h.logger, apperr.Validation("unknown state %q", v), h.development)
			return
		}
		f.State = &st
	}
	// Patients only ever see their own appointments.
	if caller.Role == identity.RolePatient {
		f.PatientID = &caller.PatientID
	}

	list, err := h.svc.List(r.Context(), f, q.Get("q"))
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, list)
}

// Get handles GET /appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	caller, _ := identity.FromContext(r.Context())
	if caller.Role == identity.RolePatient && a.PatientID != caller.PatientID {
		respond.Error(w, h.logger, apperr.Authorization("not your appointment"), h.development)
		return
	}
	respond.OK(w, a)
}

type setStateRequest struct {
	State        string `json:"state"`
	Observations string `json:"observations,omitempty"`
}

// SetState handles PUT /appointments/{id}/state.
func (h *Handler) SetState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}
	a, err := h.svc.SetState(r.Context(), id, State(req.State), req.Observations)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, a)
}

type rescheduleRequest struct {
	NewDate string `json:"new_date"`
	Motive  string `json:"motive,omitempty"`
}

// Reschedule handles PUT /appointments/{id}/reschedule (clinician/admin
// only; route-level role guard).
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}
	newDate, err := parseTime(req.NewDate)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}

	caller, _ := identity.FromContext(r.Context())
	requestedBy := RequestedByDoctor
	if caller.Role == identity.RoleAdmin {
		requestedBy = RequestedByAdmin
	}

	a, err := h.svc.RescheduleDirect(r.Context(), id, newDate, req.Motive, requestedBy)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, a)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, apperr.Validation("timestamp is required")
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperr.Validation("timestamp %q is not RFC3339", v)
	}
	return t.UTC(), nil
}
