package users

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/auth"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository. WithTx snapshots state and restores
// it when fn fails, which is enough to observe rollback behaviour.
type memRepo struct {
	mu      sync.Mutex
	users   map[int64]*User
	resets  map[int64]*PasswordReset
	nextID  int64
	deleted []int64

	failCreateWith error
	failUpdatePass error
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]*User{}, resets: map[int64]*PasswordReset{}}
}

func (r *memRepo) CreateUser(_ context.Context, p CreateUserParams) (*User, error) {
	if r.failCreateWith != nil {
		return nil, r.failCreateWith
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, p.Email) {
			return nil, ErrEmailTaken
		}
		if strings.EqualFold(u.Username, p.Username) {
			return nil, ErrUsernameTaken
		}
	}
	r.nextID++
	u := &User{ID: r.nextID, Username: p.Username, Email: p.Email, Phone: p.Phone, PasswordHash: p.PasswordHash}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetUserByID(_ context.Context, id int64) (*User, error) {
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	if r.failUpdatePass != nil {
		return r.failUpdatePass
	}
	r.users[id].PasswordHash = hash
	return nil
}

func (r *memRepo) UpdateProfileImage(_ context.Context, id int64, url string) error {
	r.users[id].ProfileImage = &url
	return nil
}

func (r *memRepo) DeleteUserData(_ context.Context, userID int64, email string) (DeletedRows, error) {
	var n int64
	for id, reset := range r.resets {
		if strings.EqualFold(reset.Email, email) {
			delete(r.resets, id)
			n++
		}
	}
	return DeletedRows{PasswordResets: n}, nil
}

func (r *memRepo) DeleteUser(_ context.Context, id int64) error {
	delete(r.users, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memRepo) CreatePasswordReset(_ context.Context, p CreateResetParams) (*PasswordReset, error) {
	r.nextID++
	reset := &PasswordReset{ID: r.nextID, Email: p.Email, Code: p.Code, ExpiresAt: p.ExpiresAt}
	r.resets[reset.ID] = reset
	cp := *reset
	return &cp, nil
}

func (r *memRepo) LatestValidReset(_ context.Context, email string, now time.Time, _ bool) (*PasswordReset, error) {
	var latest *PasswordReset
	for _, reset := range r.resets {
		if !strings.EqualFold(reset.Email, email) || reset.IsUsed || !reset.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || reset.ID > latest.ID {
			latest = reset
		}
	}
	if latest == nil {
		return nil, ErrResetNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memRepo) MarkResetUsed(_ context.Context, id int64) error {
	r.resets[id].IsUsed = true
	return nil
}

func (r *memRepo) DeletePasswordReset(_ context.Context, id int64) error {
	delete(r.resets, id)
	return nil
}

func (r *memRepo) PurgePasswordResets(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, reset := range r.resets {
		if reset.IsUsed || !reset.ExpiresAt.After(now) {
			delete(r.resets, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make(map[int64]*User, len(r.users))
	for id, u := range r.users {
		cp := *u
		users[id] = &cp
	}
	resets := make(map[int64]*PasswordReset, len(r.resets))
	for id, reset := range r.resets {
		cp := *reset
		resets[id] = &cp
	}

	if err := fn(ctx, r); err != nil {
		r.users, r.resets = users, resets
		return err
	}
	return nil
}

type stubMailer struct {
	to, code string
	err      error
}

func (m *stubMailer) SendPasswordResetCode(_ context.Context, to, code string) error {
	m.to, m.code = to, code
	return m.err
}

type stubImages struct {
	puts    []string
	deleted []string
	putErr  error
	delErr  error
	body    []byte
}

func (s *stubImages) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.body, _ = io.ReadAll(body)
	s.puts = append(s.puts, key)
	return "https://bucket.example/" + key, nil
}

func (s *stubImages) DeleteURL(_ context.Context, url string) error {
	s.deleted = append(s.deleted, url)
	return s.delErr
}

func newTestService(repo Repository, mailer Mailer, images ImageStore) *Service {
	tokens := auth.NewJWTManager(strings.Repeat("s", 32), time.Hour, "safetynow")
	return NewService(repo, tokens, mailer, images, nil, DefaultResetTTL, zerolog.Nop())
}

func register(t *testing.T, svc *Service, username, email string) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Phone:    "555",
		Password: "longenough",
	})
	require.NoError(t, err)
	return user
}

func TestRegister_NormalizesUsername(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)

	user := register(t, svc, "  Alice ", "a@x.com")

	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, user.Phone)
	assert.Equal(t, "555", *user.Phone)
	assert.NotEqual(t, "longenough", user.PasswordHash)
	assert.NoError(t, auth.CheckPassword(user.PasswordHash, "longenough"))
}

func TestRegister_DuplicateUsernameAnyCase(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)
	register(t, svc, "alice", "a@x.com")

	_, err := svc.Register(context.Background(), RegisterInput{Username: "ALICE", Email: "b@x.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)
	register(t, svc, "alice", "a@x.com")

	_, err := svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "A@X.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_ConstraintRaceSurfacesAsConflict(t *testing.T) {
	repo := newMemRepo()
	repo.failCreateWith = ErrUsernameTaken
	svc := newTestService(repo, nil, nil)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "carol", Email: "c@x.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "", Email: "not-an-email", Password: "short"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["username"])
	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Equal(t, "must be at least 8 characters", verr.Fields["password"])
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)
	register(t, svc, "alice", "a@x.com")

	_, wrongPassword := svc.Login(context.Background(), "alice", "wrong-password")
	_, unknownUser := svc.Login(context.Background(), "nobody", "longenough")

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestLogin_TokenAuthenticatesUser(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, nil)
	user := register(t, svc, "alice", "a@x.com")

	result, err := svc.Login(context.Background(), "Alice", "longenough")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	id, err := svc.Authenticate(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestAuthenticate_DeletedUser(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil, nil)
	register(t, svc, "alice", "a@x.com")
	result, err := svc.Login(context.Background(), "alice", "longenough")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(context.Background(), result.User.ID, "longenough"))

	_, err = svc.Authenticate(context.Background(), result.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	svc := newTestService(newMemRepo(), &stubMailer{}, nil)

	err := svc.ForgotPassword(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestForgotPassword_DeliveryFailureRemovesCode(t *testing.T) {
	repo := newMemRepo()
	mailer := &stubMailer{err: errors.New("graph unavailable")}
	svc := newTestService(repo, mailer, nil)
	register(t, svc, "alice", "a@x.com")

	err := svc.ForgotPassword(context.Background(), "a@x.com")

	assert.ErrorIs(t, err, ErrResetDelivery)
	assert.Empty(t, repo.resets, "undelivered code must not persist")
}

func TestResetCode_SingleUse(t *testing.T) {
	repo := newMemRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer, nil)
	register(t, svc, "alice", "a@x.com")
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	require.Len(t, mailer.code, auth.ResetCodeLength)
	assert.Equal(t, "a@x.com", mailer.to)

	require.NoError(t, svc.VerifyResetCode(ctx, "a@x.com", mailer.code))
	assert.ErrorIs(t, svc.VerifyResetCode(ctx, "a@x.com", "000000x"), ErrInvalidResetCode)

	require.NoError(t, svc.ResetPassword(ctx, "a@x.com", mailer.code, "brand-new-secret"))

	assert.ErrorIs(t, svc.VerifyResetCode(ctx, "a@x.com", mailer.code), ErrInvalidResetCode)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "a@x.com", mailer.code, "another-secret"), ErrInvalidResetCode)

	_, err := svc.Login(ctx, "alice", "brand-new-secret")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "longenough")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResetCode_Expired(t *testing.T) {
	repo := newMemRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer, nil)
	register(t, svc, "alice", "a@x.com")

	now := time.Now()
	svc.now = func() time.Time { return now }
	require.NoError(t, svc.ForgotPassword(context.Background(), "a@x.com"))

	svc.now = func() time.Time { return now.Add(DefaultResetTTL + time.Second) }
	assert.ErrorIs(t, svc.VerifyResetCode(context.Background(), "a@x.com", mailer.code), ErrInvalidResetCode)

	purged, err := svc.PurgePasswordResets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestResetPassword_RollsBackOnFailure(t *testing.T) {
	repo := newMemRepo()
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer, nil)
	register(t, svc, "alice", "a@x.com")
	require.NoError(t, svc.ForgotPassword(context.Background(), "a@x.com"))

	repo.failUpdatePass = errors.New("connection reset")
	err := svc.ResetPassword(context.Background(), "a@x.com", mailer.code, "brand-new-secret")
	require.Error(t, err)

	repo.failUpdatePass = nil
	assert.NoError(t, svc.VerifyResetCode(context.Background(), "a@x.com", mailer.code), "code stays usable after a failed reset")
}

func TestResetPassword_WeakPassword(t *testing.T) {
	svc := newTestService(newMemRepo(), &stubMailer{}, nil)

	var verr *ValidationError
	assert.ErrorAs(t, svc.ResetPassword(context.Background(), "a@x.com", "123456", "short"), &verr)
}

func TestUploadProfileImage(t *testing.T) {
	repo := newMemRepo()
	images := &stubImages{}
	svc := newTestService(repo, nil, images)
	user := register(t, svc, "alice", "a@x.com")
	ctx := context.Background()

	first, err := svc.UploadProfileImage(ctx, user.ID, ImageUpload{
		Filename:    "me.png",
		ContentType: "image/png",
		Body:        bytes.NewReader([]byte("png-bytes")),
		Size:        9,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "https://bucket.example/profile-images/1/"))
	assert.True(t, strings.HasSuffix(first, ".png"))
	assert.Equal(t, []byte("png-bytes"), images.body)

	second, err := svc.UploadProfileImage(ctx, user.ID, ImageUpload{ContentType: "image/jpeg; charset=binary", Body: bytes.NewReader([]byte("x")), Size: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first}, images.deleted, "previous object is removed after the new one is committed")

	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, second, *stored.ProfileImage)
}

func TestUploadProfileImage_Rejections(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, &stubImages{})
	user := register(t, svc, "alice", "a@x.com")

	_, err := svc.UploadProfileImage(context.Background(), user.ID, ImageUpload{ContentType: "application/pdf", Size: 10, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = svc.UploadProfileImage(context.Background(), user.ID, ImageUpload{ContentType: "image/png", Size: MaxProfileImageSize + 1, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = svc.UploadProfileImage(context.Background(), user.ID, ImageUpload{ContentType: "image/png", Size: 0, Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestUploadProfileImage_StorageFailure(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil, &stubImages{putErr: errors.New("access denied")})
	user := register(t, svc, "alice", "a@x.com")

	_, err := svc.UploadProfileImage(context.Background(), user.ID, ImageUpload{ContentType: "image/png", Size: 3, Body: strings.NewReader("png")})

	assert.ErrorIs(t, err, ErrImageStorage)
	stored, _ := repo.GetUserByID(context.Background(), user.ID)
	assert.Nil(t, stored.ProfileImage)
}

func TestDeleteAccount_RequiresPassword(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil, nil)
	user := register(t, svc, "alice", "a@x.com")

	err := svc.DeleteAccount(context.Background(), user.ID, "wrong-password")

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, repo.users, user.ID)
}

func TestDeleteAccount_RemovesUserAndImage(t *testing.T) {
	repo := newMemRepo()
	images := &stubImages{delErr: errors.New("already gone")}
	mailer := &stubMailer{}
	svc := newTestService(repo, mailer, images)
	user := register(t, svc, "alice", "a@x.com")
	ctx := context.Background()

	url, err := svc.UploadProfileImage(ctx, user.ID, ImageUpload{ContentType: "image/gif", Size: 3, Body: strings.NewReader("gif")})
	require.NoError(t, err)
	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))

	require.NoError(t, svc.DeleteAccount(ctx, user.ID, "longenough"))

	assert.Equal(t, []string{url}, images.deleted)
	assert.Equal(t, []int64{user.ID}, repo.deleted)
	assert.Empty(t, repo.resets)
	_, err = repo.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestProfileImageKey(t *testing.T) {
	id := ulid.MustParse("01HX0000000000000000000000")
	assert.Equal(t, "profile-images/42/01HX0000000000000000000000.webp", ProfileImageKey(42, id, ".webp"))
}
