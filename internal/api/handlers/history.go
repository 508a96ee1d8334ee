package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
)

type HistoryHandler struct {
	Service *history.Service
	Env     string
}

func NewHistoryHandler(service *history.Service, env string) *HistoryHandler {
	return &HistoryHandler{Service: service, Env: env}
}

type historyRequest struct {
	TalkTitle string `json:"talk_title"`
	Language  string `json:"language"`
}

type historyResponse struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	TalkTitle  string    `json:"talk_title"`
	Language   string    `json:"language"`
	AccessedAt time.Time `json:"accessed_at"`
}

func newHistoryResponse(entry history.Entry) historyResponse {
	return historyResponse{
		ID:         entry.ID,
		UserID:     entry.UserID,
		TalkTitle:  entry.TalkTitle,
		Language:   entry.Language,
		AccessedAt: entry.AccessedAt,
	}
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	entries, err := h.Service.List(r.Context(), userID)
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}

	out := make([]historyResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, newHistoryResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HistoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	var req historyRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	if _, err := h.Service.Record(r.Context(), userID, req.TalkTitle, req.Language); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Talk added to history"})
}

func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, r, history.ErrNotFound)
		return
	}

	entry, err := h.Service.Get(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryResponse(*entry))
}

func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, r, history.ErrNotFound)
		return
	}

	if err := h.Service.Delete(r.Context(), userID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "History item deleted"})
}

func (h *HistoryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr history.ValidationError
	switch {
	case errors.As(err, &verr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
			problem.WithDetail(verr.Error()))
	case errors.Is(err, history.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, h.Env,
			problem.WithDetail("History item not found"))
	default:
		writeServerError(w, r, err, h.Env)
	}
}
