package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/api/middleware"
	"github.com/Togather-Foundation/safetynow/internal/api/problem"
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a JSON body into dst. On failure it writes the problem
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, env string) bool {
	if r.Body == nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", errors.New("missing body"), env,
			problem.WithDetail("Request body is required"))
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBodyError(w, r, err, env)
		return false
	}
	return true
}

// writeBodyError maps a body read or parse failure to 413 or 400.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request too large", problem.ErrTooLarge, env,
			problem.WithDetail("Request body exceeds "+strconv.FormatInt(maxErr.Limit, 10)+" bytes"))
		return
	}
	if errors.Is(err, io.EOF) {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithDetail("Request body is required"))
		return
	}
	problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
		problem.WithDetail("Malformed request body"))
}

func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// currentUser returns the id BearerAuth placed on the request, writing a 401
// when the route was mounted without the guard.
func currentUser(w http.ResponseWriter, r *http.Request, env string) (int64, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env,
			problem.WithDetail("Not authenticated"))
		return 0, false
	}
	return userID, true
}

func writeServerError(w http.ResponseWriter, r *http.Request, err error, env string) {
	problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, env)
}

func writeUnavailable(w http.ResponseWriter, r *http.Request, env string) {
	problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeServerError, "Service unavailable", errors.New("service not configured"), env)
}

// NotFound answers requests that matched no route.
func NotFound(env string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", problem.ErrNotFound, env,
			problem.WithDetail("Not Found"))
	})
}
