package wizard

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-ops/internal/api/respond"
	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Handler exposes the wizard and one-shot consultation endpoints. All routes
// sit behind the clinician role guard.
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

// CompleteStep handles POST /appointments/{id}/wizard.
func (h *Handler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	var in StepInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}

	res, err := h.svc.CompleteStep(r.Context(), appointmentID, in)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, res)
}

// CreateFull handles POST /consultations/full.
func (h *Handler) CreateFull(w http.ResponseWriter, r *http.Request) {
	var in ConsultationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}

	res, err := h.svc.CreateFullConsultation(r.Context(), in)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Created(w, res)
}

// CreateFirst handles POST /consultations/first.
func (h *Handler) CreateFirst(w http.ResponseWriter, r *http.Request) {
	var in FirstConsultationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}

	res, err := h.svc.CreateFirstConsultation(r.Context(), in)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Created(w, res)
}
