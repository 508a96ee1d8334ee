package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryHandler() (*HistoryHandler, *stubHistoryRepo) {
	repo := &stubHistoryRepo{}
	return NewHistoryHandler(history.NewService(repo, zerolog.Nop()), "test"), repo
}

func serveHistory(h http.HandlerFunc, pattern string, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	res := httptest.NewRecorder()
	mux.ServeHTTP(res, req)
	return res
}

func TestHistoryHandler_RecordBumpsExistingEntry(t *testing.T) {
	h, repo := newHistoryHandler()

	for _, title := range []string{"Ladder Safety", "Heat Stress", "Ladder Safety"} {
		res := httptest.NewRecorder()
		h.Create(res, withUser(jsonRequest(t, http.MethodPost, "/history", historyRequest{TalkTitle: title}), 5))
		require.Equal(t, http.StatusOK, res.Code)
		assert.JSONEq(t, `{"message":"Talk added to history"}`, res.Body.String())
	}
	require.Len(t, repo.entries, 2)

	res := httptest.NewRecorder()
	h.List(res, withUser(httptest.NewRequest(http.MethodGet, "/history", nil), 5))
	require.Equal(t, http.StatusOK, res.Code)

	var entries []historyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Ladder Safety", entries[0].TalkTitle)
	assert.Equal(t, "en", entries[0].Language)
	assert.Equal(t, "Heat Stress", entries[1].TalkTitle)
}

func TestHistoryHandler_RecordRequiresTitle(t *testing.T) {
	h, _ := newHistoryHandler()

	res := httptest.NewRecorder()
	h.Create(res, withUser(jsonRequest(t, http.MethodPost, "/history", historyRequest{TalkTitle: "  "}), 5))

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, decodeProblem(t, res)["detail"], "talk_title")
}

func TestHistoryHandler_OwnerScoped(t *testing.T) {
	h, _ := newHistoryHandler()

	res := httptest.NewRecorder()
	h.Create(res, withUser(jsonRequest(t, http.MethodPost, "/history", historyRequest{TalkTitle: "Ladder Safety"}), 5))
	require.Equal(t, http.StatusOK, res.Code)

	// Another user cannot see or delete the entry.
	res = serveHistory(h.Get, "GET /history/{id}", withUser(httptest.NewRequest(http.MethodGet, "/history/1", nil), 6))
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "History item not found", decodeProblem(t, res)["detail"])

	res = serveHistory(h.Delete, "DELETE /history/{id}", withUser(httptest.NewRequest(http.MethodDelete, "/history/1", nil), 6))
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = serveHistory(h.Get, "GET /history/{id}", withUser(httptest.NewRequest(http.MethodGet, "/history/1", nil), 5))
	require.Equal(t, http.StatusOK, res.Code)
	var entry historyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entry))
	assert.Equal(t, int64(5), entry.UserID)

	res = serveHistory(h.Delete, "DELETE /history/{id}", withUser(httptest.NewRequest(http.MethodDelete, "/history/1", nil), 5))
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"message":"History item deleted"}`, res.Body.String())

	res = serveHistory(h.Delete, "DELETE /history/{id}", withUser(httptest.NewRequest(http.MethodDelete, "/history/1", nil), 5))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHistoryHandler_InvalidID(t *testing.T) {
	h, _ := newHistoryHandler()

	res := serveHistory(h.Delete, "DELETE /history/{id}", withUser(httptest.NewRequest(http.MethodDelete, "/history/-1", nil), 5))

	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHistoryHandler_ListEmpty(t *testing.T) {
	h, _ := newHistoryHandler()

	res := httptest.NewRecorder()
	h.List(res, withUser(httptest.NewRequest(http.MethodGet, "/history", nil), 5))

	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, "[]", res.Body.String())
}
