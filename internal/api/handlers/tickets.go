package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/tickets"
)

type TicketsHandler struct {
	Service *tickets.Service
	Env     string
}

func NewTicketsHandler(service *tickets.Service, env string) *TicketsHandler {
	return &TicketsHandler{Service: service, Env: env}
}

type ticketRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type ticketResponse struct {
	Message  string `json:"message"`
	TicketID int64  `json:"ticket_id"`
}

func (h *TicketsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	var req ticketRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	ticket, err := h.Service.Create(r.Context(), userID, tickets.Input{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Topic:   req.Topic,
		Message: req.Message,
	})
	if err != nil {
		var verr *tickets.ValidationError
		if errors.As(err, &verr) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithDetail("Invalid fields: "+strings.Join(verr.Fields, ", ")))
			return
		}
		writeServerError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Message: "Ticket submitted successfully", TicketID: ticket.ID})
}
