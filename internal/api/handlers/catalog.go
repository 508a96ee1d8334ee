package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
)

// CatalogHandler serves one catalog kind. The router mounts one instance
// for /talks and one for /tools.
type CatalogHandler struct {
	Service *catalog.Service
	Env     string
}

func NewCatalogHandler(service *catalog.Service, env string) *CatalogHandler {
	return &CatalogHandler{Service: service, Env: env}
}

type itemResponse struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Description  *string   `json:"description"`
	Hazard       *string   `json:"hazard"`
	Industry     *string   `json:"industry"`
	Language     string    `json:"language"`
	RelatedTitle *string   `json:"related_title"`
	CreatedAt    time.Time `json:"created_at"`
}

type popularItemResponse struct {
	itemResponse
	LikeCount int64 `json:"like_count"`
}

type toggleLikeResponse struct {
	Message   string `json:"message"`
	Liked     bool   `json:"liked"`
	LikeCount int64  `json:"like_count"`
}

type likeInfoResponse struct {
	LikeCount int64 `json:"like_count"`
	UserLiked bool  `json:"user_liked"`
}

func newItemResponse(item catalog.Item) itemResponse {
	return itemResponse{
		ID:           item.ID,
		Title:        item.Title,
		Category:     item.Category,
		Description:  item.Description,
		Hazard:       item.Hazard,
		Industry:     item.Industry,
		Language:     item.Language,
		RelatedTitle: item.RelatedTitle,
		CreatedAt:    item.CreatedAt,
	}
}

func newItemsResponse(items []catalog.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newItemResponse(item))
	}
	return out
}

func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	filters, pagination, err := catalog.ParseFilters(r.URL.Query())
	if err != nil {
		h.writeFilterError(w, r, err)
		return
	}

	items, err := h.Service.List(r.Context(), filters, pagination)
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, newItemsResponse(items))
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	id, ok := parseID(r, "id")
	if !ok {
		h.writeNotFound(w, r, catalog.ErrNotFound)
		return
	}

	item, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newItemResponse(*item))
}

func (h *CatalogHandler) Hazards(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	values, err := h.Service.Hazards(r.Context(), r.URL.Query().Get("language"))
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(values))
}

func (h *CatalogHandler) Industries(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	values, err := h.Service.Industries(r.Context(), r.URL.Query().Get("language"))
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(values))
}

func (h *CatalogHandler) ByHazard(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	// grouped views default to the largest page
	page, err := catalog.ParsePage(r.URL.Query(), catalog.MaxListLimit)
	if err != nil {
		h.writeFilterError(w, r, err)
		return
	}

	items, err := h.Service.ByHazard(r.Context(), r.PathValue("hazard"), r.URL.Query().Get("language"), page)
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newItemsResponse(items))
}

func (h *CatalogHandler) ByIndustry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	page, err := catalog.ParsePage(r.URL.Query(), catalog.MaxListLimit)
	if err != nil {
		h.writeFilterError(w, r, err)
		return
	}

	items, err := h.Service.ByIndustry(r.Context(), r.PathValue("industry"), r.URL.Query().Get("language"), page)
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newItemsResponse(items))
}

func (h *CatalogHandler) Popular(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		writeUnavailable(w, r, "")
		return
	}

	language, limit, err := catalog.ParsePopular(r.URL.Query())
	if err != nil {
		h.writeFilterError(w, r, err)
		return
	}

	items, err := h.Service.Popular(r.Context(), language, limit)
	if err != nil {
		writeServerError(w, r, err, h.Env)
		return
	}

	out := make([]popularItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, popularItemResponse{itemResponse: newItemResponse(item.Item), LikeCount: item.LikeCount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
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
		h.writeNotFound(w, r, catalog.ErrNotFound)
		return
	}

	result, err := h.Service.ToggleLike(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	noun := h.Service.Kind().Noun()
	message, state := noun+" unliked", "unliked"
	if result.Liked {
		message, state = noun+" liked", "liked"
	}
	metrics.LikesToggled.WithLabelValues(string(h.Service.Kind()), state).Inc()

	writeJSON(w, http.StatusOK, toggleLikeResponse{
		Message:   message,
		Liked:     result.Liked,
		LikeCount: result.LikeCount,
	})
}

func (h *CatalogHandler) Likes(w http.ResponseWriter, r *http.Request) {
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
		h.writeNotFound(w, r, catalog.ErrNotFound)
		return
	}

	info, err := h.Service.LikeInfo(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, likeInfoResponse{LikeCount: info.LikeCount, UserLiked: info.UserLiked})
}

func (h *CatalogHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		h.writeNotFound(w, r, err)
		return
	}
	writeServerError(w, r, err, h.Env)
}

func (h *CatalogHandler) writeNotFound(w http.ResponseWriter, r *http.Request, err error) {
	problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, h.Env,
		problem.WithDetail(h.Service.Kind().Noun()+" not found"))
}

func (h *CatalogHandler) writeFilterError(w http.ResponseWriter, r *http.Request, err error) {
	if !catalog.IsFilterError(err) {
		writeServerError(w, r, err, h.Env)
		return
	}
	problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
		problem.WithDetail(err.Error()))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Nested serves GET /{kind}/{first}/{second}. The by_hazard, by_industry
// and {id}/likes routes share that shape, which ServeMux cannot register
// as separate patterns.
func (h *CatalogHandler) Nested(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	switch {
	case first == "by_hazard":
		r.SetPathValue("hazard", second)
		h.ByHazard(w, r)
	case first == "by_industry":
		r.SetPathValue("industry", second)
		h.ByIndustry(w, r)
	case second == "likes":
		r.SetPathValue("id", first)
		h.Likes(w, r)
	default:
		NotFound(h.Env).ServeHTTP(w, r)
	}
}
