package handlers

import (
	"errors"
	"net/http"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/devices"
)

type DevicesHandler struct {
	Service *devices.Service
	Env     string
}

func NewDevicesHandler(service *devices.Service, env string) *DevicesHandler {
	return &DevicesHandler{Service: service, Env: env}
}

type deviceTokenRequest struct {
	DeviceToken string `json:"device_token"`
}

type deviceTokenResponse struct {
	Message     string `json:"message"`
	EndpointARN string `json:"endpoint_arn"`
}

func (h *DevicesHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	var req deviceTokenRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	reg, err := h.Service.Register(r.Context(), userID, req.DeviceToken)
	if err != nil {
		switch {
		case errors.Is(err, devices.ErrMissingToken):
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithDetail("device_token is required"))
		case errors.Is(err, devices.ErrPushDisabled):
			problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeServerError, "Service unavailable", err, h.Env,
				problem.WithDetail("Push notifications are not configured"))
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeUpstream, "Upstream failure", err, h.Env,
				problem.WithDetail("Failed to register device token"))
		}
		return
	}

	writeJSON(w, http.StatusOK, deviceTokenResponse{
		Message:     "Device token registered successfully",
		EndpointARN: reg.EndpointARN,
	})
}
