package handlers

import (
	"errors"
	"net/http"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/leads"
)

type LeadsHandler struct {
	Service *leads.Service
	Env     string
}

func NewLeadsHandler(service *leads.Service, env string) *LeadsHandler {
	return &LeadsHandler{Service: service, Env: env}
}

type leadResponse struct {
	Status string `json:"status"`
	LeadID string `json:"lead_id"`
}

func (h *LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	var input leads.Input
	if !decodeJSON(w, r, &input, h.Env) {
		return
	}

	leadID, err := h.Service.Create(r.Context(), input)
	if err != nil {
		var missing *leads.MissingFieldsError
		var stepErr *leads.StepError
		switch {
		case errors.As(err, &missing):
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithDetail(missing.Error()))
		case errors.As(err, &stepErr):
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeUpstream, "Upstream failure", err, h.Env,
				problem.WithDetail("Failed to create CRM "+string(stepErr.Step)))
		default:
			writeServerError(w, r, err, h.Env)
		}
		return
	}

	writeJSON(w, http.StatusOK, leadResponse{Status: "success", LeadID: leadID})
}
