// Package users owns SafetyNow accounts: registration, login, bearer token
// authentication, the password reset flow, profile images and account
// deletion.
//
// Reset codes move through Requested -> CodeIssued -> Verified -> Consumed.
// A code row only survives if the email carrying it was handed to the mail
// provider, and consuming it happens in the same transaction as the
// password change.
package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/audit"
	"github.com/Togather-Foundation/safetynow/internal/auth"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrResetNotFound is returned by repositories when no usable reset
	// row exists. The service reports it as ErrInvalidResetCode.
	ErrResetNotFound    = errors.New("password reset not found")
	ErrInvalidResetCode = errors.New("invalid or expired reset code")
	ErrResetDelivery    = errors.New("failed to send reset code")

	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image exceeds maximum size")
	ErrEmptyImage       = errors.New("image is empty")
	ErrImageStorage     = errors.New("failed to store profile image")
)

const (
	// DefaultResetTTL is how long an emailed reset code stays valid.
	DefaultResetTTL = 15 * time.Minute

	// MaxProfileImageSize is the largest accepted profile image.
	MaxProfileImageSize = 5 << 20

	profileImagePrefix = "profile-images"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// Mailer delivers password reset codes.
type Mailer interface {
	SendPasswordResetCode(ctx context.Context, to, code string) error
}

// ImageStore keeps profile images in object storage.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (url string, err error)
	DeleteURL(ctx context.Context, url string) error
}

type Service struct {
	repo      Repository
	tokens    *auth.JWTManager
	mailer    Mailer
	images    ImageStore
	audit     *audit.Logger
	validator *validator.Validate
	logger    zerolog.Logger
	resetTTL  time.Duration
	now       func() time.Time
}

// NewService wires the account service. mailer and images may be nil, in
// which case the operations that need them fail with ErrResetDelivery and
// ErrImageStorage respectively.
func NewService(repo Repository, tokens *auth.JWTManager, mailer Mailer, images ImageStore, auditLogger *audit.Logger, resetTTL time.Duration, logger zerolog.Logger) *Service {
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	return &Service{
		repo:      repo,
		tokens:    tokens,
		mailer:    mailer,
		images:    images,
		audit:     auditLogger,
		validator: validator.New(),
		logger:    logger.With().Str("component", "users").Logger(),
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

// Register creates an account. Usernames are stored lowercased so
// uniqueness is case-insensitive end to end.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	input.Username = normalizeUsername(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)

	if err := s.validate(input); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetUserByEmail(ctx, input.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	if _, err := s.repo.GetUserByUsername(ctx, input.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	var phone *string
	if input.Phone != "" {
		phone = &input.Phone
	}

	// The pre-checks above race with concurrent registrations; the
	// repository maps the constraint violation to the same errors.
	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Username:     input.Username,
		Email:        input.Email,
		Phone:        phone,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.audit.LogSuccess("user.registered", user.Username, "user", strconv.FormatInt(user.ID, 10), nil)
	return user, nil
}

// Login returns a signed token. Unknown usernames and wrong passwords are
// indistinguishable to the caller, in outcome and roughly in timing.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = normalizeUsername(username)

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if err := auth.CheckPassword(hash, password); err != nil || user == nil {
		s.audit.LogFailure("user.login", username, map[string]string{"reason": "invalid credentials"})
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &LoginResult{Token: token, User: user}, nil
}

// Authenticate verifies a bearer token and confirms its user still exists.
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return 0, err
	}

	if _, err := s.repo.GetUserByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, auth.ErrInvalidToken
		}
		return 0, fmt.Errorf("get user: %w", err)
	}

	return claims.UserID, nil
}

// ForgotPassword issues a reset code and emails it. If the email cannot be
// handed off, the code row is removed again and ErrResetDelivery returned.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Fields: map[string]string{"email": "is required"}}
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := auth.GenerateResetCode()
	if err != nil {
		return err
	}

	reset, err := s.repo.CreatePasswordReset(ctx, CreateResetParams{
		Email:     user.Email,
		Code:      code,
		ExpiresAt: s.now().Add(s.resetTTL),
	})
	if err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}

	sendErr := ErrResetDelivery
	if s.mailer != nil {
		sendErr = s.mailer.SendPasswordResetCode(ctx, user.Email, code)
	}
	if sendErr != nil {
		if err := s.repo.DeletePasswordReset(context.WithoutCancel(ctx), reset.ID); err != nil {
			s.logger.Error().Err(err).Int64("reset_id", reset.ID).Msg("failed to remove undelivered reset code")
		}
		s.logger.Error().Err(sendErr).Int64("user_id", user.ID).Msg("reset code email failed")
		return fmt.Errorf("%w: %w", ErrResetDelivery, sendErr)
	}

	s.audit.LogSuccess("user.password_reset_requested", user.Username, "user", strconv.FormatInt(user.ID, 10), nil)
	return nil
}

// VerifyResetCode checks a code without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	reset, err := s.repo.LatestValidReset(ctx, strings.TrimSpace(email), s.now(), false)
	if err != nil {
		if errors.Is(err, ErrResetNotFound) {
			return ErrInvalidResetCode
		}
		return fmt.Errorf("get reset code: %w", err)
	}

	if !auth.CodesEqual(reset.Code, strings.TrimSpace(code)) {
		return ErrInvalidResetCode
	}
	return nil
}

// ResetPassword consumes a code and sets the new password atomically.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	if err := s.validator.Var(newPassword, "required,min=8,max=72"); err != nil {
		return &ValidationError{Fields: map[string]string{"new_password": "must be between 8 and 72 characters"}}
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	var userID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		reset, err := tx.LatestValidReset(ctx, email, s.now(), true)
		if err != nil {
			if errors.Is(err, ErrResetNotFound) {
				return ErrInvalidResetCode
			}
			return fmt.Errorf("get reset code: %w", err)
		}
		if !auth.CodesEqual(reset.Code, code) {
			return ErrInvalidResetCode
		}

		user, err := tx.GetUserByEmail(ctx, reset.Email)
		if err != nil {
			return err
		}
		userID = user.ID

		if err := tx.UpdatePassword(ctx, user.ID, hash); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := tx.MarkResetUsed(ctx, reset.ID); err != nil {
			return fmt.Errorf("mark reset used: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.LogSuccess("user.password_reset", email, "user", strconv.FormatInt(userID, 10), nil)
	return nil
}

// UploadProfileImage stores a new profile image and points the user at it.
// The previous object, if any, is removed once the new URL is committed.
func (s *Service) UploadProfileImage(ctx context.Context, userID int64, upload ImageUpload) (string, error) {
	contentType := normalizeContentType(upload.ContentType)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", ErrUnsupportedImage
	}
	if upload.Size > MaxProfileImageSize {
		return "", ErrImageTooLarge
	}
	if upload.Size == 0 {
		return "", ErrEmptyImage
	}
	if s.images == nil {
		return "", ErrImageStorage
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	key := ProfileImageKey(userID, ulid.Make(), ext)
	url, err := s.images.Put(ctx, key, contentType, upload.Body, upload.Size)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrImageStorage, err)
	}

	if err := s.repo.UpdateProfileImage(ctx, userID, url); err != nil {
		return "", fmt.Errorf("update profile image: %w", err)
	}

	if user.ProfileImage != nil && *user.ProfileImage != "" && *user.ProfileImage != url {
		if err := s.images.DeleteURL(ctx, *user.ProfileImage); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to delete previous profile image")
		}
	}

	return url, nil
}

// DeleteAccount re-checks the password, drops the stored profile image and
// then removes the user and every row that references it in one
// transaction.
func (s *Service) DeleteAccount(ctx context.Context, userID int64, password string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		s.audit.LogFailure("user.delete_account", user.Username, map[string]string{"reason": "invalid credentials"})
		return ErrInvalidCredentials
	}

	if user.ProfileImage != nil && *user.ProfileImage != "" && s.images != nil {
		if err := s.images.DeleteURL(ctx, *user.ProfileImage); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to delete profile image")
		}
	}

	var deleted DeletedRows
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		deleted, err = tx.DeleteUserData(ctx, user.ID, user.Email)
		if err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
		if err := tx.DeleteUser(ctx, user.ID); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.LogSuccess("user.deleted", user.Username, "user", strconv.FormatInt(user.ID, 10), map[string]string{
		"history":          strconv.FormatInt(deleted.History, 10),
		"talk_likes":       strconv.FormatInt(deleted.TalkLikes, 10),
		"tool_likes":       strconv.FormatInt(deleted.ToolLikes, 10),
		"tickets":          strconv.FormatInt(deleted.Tickets, 10),
		"device_endpoints": strconv.FormatInt(deleted.DeviceEndpoints, 10),
	})
	return nil
}

// PurgePasswordResets removes consumed and expired reset codes.
func (s *Service) PurgePasswordResets(ctx context.Context) (int64, error) {
	return s.repo.PurgePasswordResets(ctx, s.now())
}

// ProfileImageKey builds the object key for a user's profile image.
func ProfileImageKey(userID int64, id ulid.ULID, ext string) string {
	return path.Join(profileImagePrefix, strconv.FormatInt(userID, 10), id.String()+ext)
}

func (s *Service) validate(input RegisterInput) error {
	err := s.validator.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	verr := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return verr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func normalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	if mediaType == "image/jpg" {
		return "image/jpeg"
	}
	return mediaType
}
