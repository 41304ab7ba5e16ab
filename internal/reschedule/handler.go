package reschedule

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

// Handler provides the reschedule request HTTP endpoints.
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

type createRequestBody struct {
	Motive string `json:"motive"`
}

// Create handles POST /appointments/{id}/reschedule-requests (patient only;
// route-level role guard).
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}

	caller, _ := identity.FromContext(r.Context())
	req, err := h.svc.Request(r.Context(), appointmentID, caller.PatientID, body.Motive)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Created(w, req)
}

type respondBody struct {
	Action         string `json:"action"`
	DoctorResponse string `json:"doctor_response,omitempty"`
	NewDate        string `json:"new_date,omitempty"`
}

// Respond handles PUT /appointments/{id}/reschedule-requests/{reqID}
// (clinician/admin only; route-level role guard).
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "reqID"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("reqID must be a UUID"), h.development)
		return
	}
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}

	var newDate *time.Time
	if body.NewDate != "" {
		t, err := time.Parse(time.RFC3339, body.NewDate)
		if err != nil {
			respond.Error(w, h.logger, apperr.Validation("new_date %q is not RFC3339", body.NewDate), h.development)
			return
		}
		u := t.UTC()
		newDate = &u
	}

	req, err := h.svc.Respond(r.Context(), appointmentID, requestID, Decision(body.Action), body.DoctorResponse, newDate)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, req)
}

// Cancel handles DELETE /appointments/{id}/reschedule-requests/{reqID}
// (patient only; route-level role guard).
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "reqID"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("reqID must be a UUID"), h.development)
		return
	}

	caller, _ := identity.FromContext(r.Context())
	req, err := h.svc.Cancel(r.Context(), requestID, caller.PatientID)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, req)
}

// List handles GET /appointments/{id}/reschedule-requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	list, err := h.svc.ListByAppointment(r.Context(), appointmentID)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, list)
}
