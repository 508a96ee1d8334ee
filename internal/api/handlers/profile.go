package handlers

import (
	"errors"
	"net/http"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
)

// maxMultipartMemory is how much of an upload ParseMultipartForm keeps in
// memory before spilling to a temp file.
const maxMultipartMemory = 1 << 20

type ProfileHandler struct {
	Service *users.Service
	Env     string
}

func NewProfileHandler(service *users.Service, env string) *ProfileHandler {
	return &ProfileHandler{Service: service, Env: env}
}

type profileImageResponse struct {
	ProfileImage string `json:"profile_image"`
}

func (h *ProfileHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}
	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithDetail("Expected multipart/form-data"))
			return
		}
		writeBodyError(w, r, err, h.Env)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
			problem.WithDetail("file is required"))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	url, err := h.Service.UploadProfileImage(r.Context(), userID, users.ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Size:        header.Size,
	})
	if err != nil {
		writeUsersError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, profileImageResponse{ProfileImage: url})
}
