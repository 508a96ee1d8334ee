package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/api/middleware"
	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/Togather-Foundation/safetynow/internal/domain/users"
)

func withUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

type stubUsersRepo struct {
	mu     sync.Mutex
	users  map[int64]*users.User
	resets map[int64]*users.PasswordReset
	nextID int64
}

func newStubUsersRepo() *stubUsersRepo {
	return &stubUsersRepo{users: map[int64]*users.User{}, resets: map[int64]*users.PasswordReset{}}
}

func (r *stubUsersRepo) CreateUser(_ context.Context, p users.CreateUserParams) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, p.Email) {
			return nil, users.ErrEmailTaken
		}
		if strings.EqualFold(u.Username, p.Username) {
			return nil, users.ErrUsernameTaken
		}
	}
	r.nextID++
	u := &users.User{ID: r.nextID, Username: p.Username, Email: p.Email, Phone: p.Phone, PasswordHash: p.PasswordHash}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *stubUsersRepo) find(match func(*users.User) bool) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (r *stubUsersRepo) GetUserByID(_ context.Context, id int64) (*users.User, error) {
	return r.find(func(u *users.User) bool { return u.ID == id })
}

func (r *stubUsersRepo) GetUserByUsername(_ context.Context, username string) (*users.User, error) {
	return r.find(func(u *users.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *stubUsersRepo) GetUserByEmail(_ context.Context, email string) (*users.User, error) {
	return r.find(func(u *users.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *stubUsersRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *stubUsersRepo) UpdateProfileImage(_ context.Context, id int64, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.ProfileImage = &url
	return nil
}

func (r *stubUsersRepo) DeleteUserData(context.Context, int64, string) (users.DeletedRows, error) {
	return users.DeletedRows{}, nil
}

func (r *stubUsersRepo) DeleteUser(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *stubUsersRepo) CreatePasswordReset(_ context.Context, p users.CreateResetParams) (*users.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reset := &users.PasswordReset{ID: r.nextID, Email: p.Email, Code: p.Code, ExpiresAt: p.ExpiresAt}
	r.resets[reset.ID] = reset
	cp := *reset
	return &cp, nil
}

func (r *stubUsersRepo) LatestValidReset(_ context.Context, email string, now time.Time, _ bool) (*users.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *users.PasswordReset
	for _, reset := range r.resets {
		if !strings.EqualFold(reset.Email, email) || reset.IsUsed || !reset.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || reset.ID > latest.ID {
			latest = reset
		}
	}
	if latest == nil {
		return nil, users.ErrResetNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *stubUsersRepo) MarkResetUsed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets[id].IsUsed = true
	return nil
}

func (r *stubUsersRepo) DeletePasswordReset(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resets, id)
	return nil
}

func (r *stubUsersRepo) PurgePasswordResets(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *stubUsersRepo) WithTx(ctx context.Context, fn func(context.Context, users.Repository) error) error {
	return fn(ctx, r)
}

// lastCode returns the most recently issued reset code.
func (r *stubUsersRepo) lastCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *users.PasswordReset
	for _, reset := range r.resets {
		if latest == nil || reset.ID > latest.ID {
			latest = reset
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Code
}

type recordingMailer struct {
	codes map[string]string
	err   error
}

func (m *recordingMailer) SendPasswordResetCode(_ context.Context, to, code string) error {
	if m.err != nil {
		return m.err
	}
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	return nil
}

// stubCatalogRepo keeps items and likes in memory. Likes are keyed by user
// and item id; group semantics come from catalog.Item.GroupKey.
type stubCatalogRepo struct {
	items []catalog.Item
	likes map[[2]int64]bool
	err   error
}

func newStubCatalogRepo(items ...catalog.Item) *stubCatalogRepo {
	return &stubCatalogRepo{items: items, likes: map[[2]int64]bool{}}
}

func (r *stubCatalogRepo) List(_ context.Context, filters catalog.Filters, pagination catalog.Pagination) ([]catalog.Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []catalog.Item
	for _, item := range r.items {
		if filters.Hazard != "" && (item.Hazard == nil || *item.Hazard != filters.Hazard) {
			continue
		}
		if filters.Industry != "" && (item.Industry == nil || *item.Industry != filters.Industry) {
			continue
		}
		if filters.Language != "" && item.Language != filters.Language {
			continue
		}
		out = append(out, item)
	}
	if pagination.Offset >= len(out) {
		return nil, nil
	}
	out = out[pagination.Offset:]
	if pagination.Limit > 0 && pagination.Limit < len(out) {
		out = out[:pagination.Limit]
	}
	return out, nil
}

func (r *stubCatalogRepo) Get(_ context.Context, id int64) (*catalog.Item, error) {
	for _, item := range r.items {
		if item.ID == id {
			cp := item
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (r *stubCatalogRepo) distinct(value func(catalog.Item) *string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range r.items {
		if v := value(item); v != nil && !seen[*v] {
			seen[*v] = true
			out = append(out, *v)
		}
	}
	return out
}

func (r *stubCatalogRepo) DistinctHazards(context.Context, string) ([]string, error) {
	return r.distinct(func(i catalog.Item) *string { return i.Hazard }), nil
}

func (r *stubCatalogRepo) DistinctIndustries(context.Context, string) ([]string, error) {
	return r.distinct(func(i catalog.Item) *string { return i.Industry }), nil
}

func (r *stubCatalogRepo) Popular(_ context.Context, _ string, limit int) ([]catalog.PopularItem, error) {
	var out []catalog.PopularItem
	for _, item := range r.items {
		count, _ := r.GroupLikeCount(context.Background(), item)
		if count > 0 && len(out) < limit {
			out = append(out, catalog.PopularItem{Item: item, LikeCount: count})
		}
	}
	return out, nil
}

func (r *stubCatalogRepo) LockLikeGroup(context.Context, int64, string) error { return nil }

func (r *stubCatalogRepo) members(item catalog.Item) []int64 {
	var ids []int64
	for _, other := range r.items {
		if other.GroupKey() == item.GroupKey() {
			ids = append(ids, other.ID)
		}
	}
	return ids
}

func (r *stubCatalogRepo) DeleteGroupLikes(_ context.Context, userID int64, item catalog.Item) (int64, error) {
	var n int64
	for _, id := range r.members(item) {
		if r.likes[[2]int64{userID, id}] {
			delete(r.likes, [2]int64{userID, id})
			n++
		}
	}
	return n, nil
}

func (r *stubCatalogRepo) InsertLike(_ context.Context, userID, itemID int64) error {
	r.likes[[2]int64{userID, itemID}] = true
	return nil
}

func (r *stubCatalogRepo) GroupLikeCount(_ context.Context, item catalog.Item) (int64, error) {
	var n int64
	for key := range r.likes {
		for _, id := range r.members(item) {
			if key[1] == id {
				n++
			}
		}
	}
	return n, nil
}

func (r *stubCatalogRepo) UserLikedGroup(_ context.Context, userID int64, item catalog.Item) (bool, error) {
	for _, id := range r.members(item) {
		if r.likes[[2]int64{userID, id}] {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubCatalogRepo) Import(context.Context, []catalog.NewItem) (int, error) {
	return 0, errors.New("not supported")
}

func (r *stubCatalogRepo) Purge(context.Context) (int64, error) {
	return 0, errors.New("not supported")
}

func (r *stubCatalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.Repository) error) error {
	return fn(ctx, r)
}

type stubHistoryRepo struct {
	entries []history.Entry
	nextID  int64
}

func (r *stubHistoryRepo) Replace(_ context.Context, userID int64, title, language string, accessedAt time.Time) (*history.Entry, error) {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.UserID == userID && e.TalkTitle == title && e.Language == language {
			continue
		}
		kept = append(kept, e)
	}
	r.nextID++
	entry := history.Entry{ID: r.nextID, UserID: userID, TalkTitle: title, Language: language, AccessedAt: accessedAt}
	r.entries = append(kept, entry)
	return &entry, nil
}

func (r *stubHistoryRepo) List(_ context.Context, userID int64) ([]history.Entry, error) {
	var out []history.Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *stubHistoryRepo) Get(_ context.Context, userID, id int64) (*history.Entry, error) {
	for _, e := range r.entries {
		if e.ID == id && e.UserID == userID {
			cp := e
			return &cp, nil
		}
	}
	return nil, history.ErrNotFound
}

func (r *stubHistoryRepo) Delete(_ context.Context, userID, id int64) error {
	for i, e := range r.entries {
		if e.ID == id && e.UserID == userID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return history.ErrNotFound
}

func (r *stubHistoryRepo) Purge(context.Context, *time.Time) (int64, error) {
	n := int64(len(r.entries))
	r.entries = nil
	return n, nil
}
