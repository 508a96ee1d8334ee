package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
)

type AuthHandler struct {
	Service *users.Service
	Env     string
}

func NewAuthHandler(service *users.Service, env string) *AuthHandler {
	return &AuthHandler{Service: service, Env: env}
}

type userResponse struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	Phone        *string `json:"phone"`
	ProfileImage *string `json:"profile_image"`
}

func newUserResponse(u *users.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		ProfileImage: u.ProfileImage,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	user, err := h.Service.Register(r.Context(), users.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// Login accepts the OAuth2 password form (username, password) and, for
// convenience, the same fields as JSON.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	username, password, ok := h.credentials(w, r)
	if !ok {
		return
	}

	result, err := h.Service.Login(r.Context(), username, password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.Token,
		TokenType:   "bearer",
		User:        newUserResponse(result.User),
	})
}

func (h *AuthHandler) credentials(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req, h.Env) {
			return "", "", false
		}
		return req.Username, req.Password, true
	}

	if err := r.ParseForm(); err != nil {
		writeBodyError(w, r, err, h.Env)
		return "", "", false
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if strings.TrimSpace(username) == "" || password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", errors.New("missing credentials"), h.Env,
			problem.WithDetail("username and password are required"))
		return "", "", false
	}
	return username, password, true
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	var req emailRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	if err := h.Service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Reset code sent to your email"})
}

func (h *AuthHandler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	var req verifyCodeRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	if err := h.Service.VerifyResetCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Code verified"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	var req resetPasswordRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	if err := h.Service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	userID, ok := currentUser(w, r, h.Env)
	if !ok {
		return
	}

	var req deleteAccountRequest
	if !decodeJSON(w, r, &req, h.Env) {
		return
	}

	if err := h.Service.DeleteAccount(r.Context(), userID, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Account deleted successfully"})
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeUsersError(w, r, err, h.Env)
}

func writeUsersError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var verr *users.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make(map[string]any, len(verr.Fields))
		for field, msg := range verr.Fields {
			fields[field] = msg
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithDetail("Invalid input"), problem.WithErrors(fields))
	case errors.Is(err, users.ErrEmailTaken):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeConflict, "Conflict", err, env,
			problem.WithDetail("Email already registered"))
	case errors.Is(err, users.ErrUsernameTaken):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeConflict, "Conflict", err, env,
			problem.WithDetail("Username already registered"))
	case errors.Is(err, users.ErrInvalidCredentials):
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env,
			problem.WithDetail("Invalid credentials"))
	case errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, env,
			problem.WithDetail("User not found"))
	case errors.Is(err, users.ErrInvalidResetCode):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithDetail("Invalid or expired code"))
	case errors.Is(err, users.ErrResetDelivery):
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeUpstream, "Upstream failure", err, env,
			problem.WithDetail("Failed to send reset code"))
	case errors.Is(err, users.ErrUnsupportedImage):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithDetail("Unsupported image type"))
	case errors.Is(err, users.ErrEmptyImage):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithDetail("Image file is empty"))
	case errors.Is(err, users.ErrImageTooLarge):
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request too large", err, env,
			problem.WithDetail("Image exceeds 5 MB"))
	case errors.Is(err, users.ErrImageStorage):
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeUpstream, "Upstream failure", err, env,
			problem.WithDetail("Failed to store profile image"))
	default:
		writeServerError(w, r, err, env)
	}
}
