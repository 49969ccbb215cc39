package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, NewLedger(repo, nil, nil, logger))
	r := chi.NewRouter()
	r.Route("/inventory", h.MountRoutes)
	return r
}

func TestHandlerCreateAndGetItem(t *testing.T) {
	router := newTestRouter(newMemoryRepo(nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/items",
		strings.NewReader(`{"item_ref":"ETHANOL-5L","name":"Ethanol 5L","opening_quantity":8}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/items/ETHANOL-5L", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var item Item
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &item))
	assert.EqualValues(t, 8, item.OnHand)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/items/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerCreateItemValidation(t *testing.T) {
	router := newTestRouter(newMemoryRepo(nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/items",
		strings.NewReader(`{"item_ref":"","name":"x","opening_quantity":-3}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Contains(t, problem.Fields, "Ref")
	assert.Contains(t, problem.Fields, "OpeningQty")
}

func TestHandlerAdjustmentInsufficientStockNamesItem(t *testing.T) {
	repo := newMemoryRepo(map[string]int64{"A": 1})
	router := newTestRouter(repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/adjustments",
		strings.NewReader(`{"reference":"cycle-count","adjustments":[{"item_ref":"A","delta":-2}]}`)))
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Insufficient Stock", problem.Title)
	assert.Contains(t, problem.Detail, "A")
	assert.EqualValues(t, 1, repo.onHand("A"))
}

func TestHandlerAdjustmentUnknownItem(t *testing.T) {
	router := newTestRouter(newMemoryRepo(nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/adjustments",
		strings.NewReader(`{"reference":"r1","adjustments":[{"item_ref":"GHOST","delta":5}]}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandlerStockCard(t *testing.T) {
	repo := newMemoryRepo(map[string]int64{"A": 1})
	router := newTestRouter(repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/adjustments",
		strings.NewReader(`{"reference":"grn-1","adjustments":[{"item_ref":"A","delta":4}]}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/items/A/card", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Movements []Movement `json:"movements"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Movements, 1)
	assert.EqualValues(t, 5, body.Movements[0].BalanceQty)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/items/A/card?from=bad", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
