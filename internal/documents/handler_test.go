package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (s *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = ""
	return nil
}

func (s *memoryIdempotency) Complete(ctx context.Context, key, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = resourceID
	return nil
}

func (s *memoryIdempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[key]
	return id, ok, nil
}

func (s *memoryIdempotency) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

type responseBody struct {
	ID      string `json:"id"`
	Number  string `json:"number"`
	SentAt  string `json:"sent_at"`
	Display struct {
		GrandTotal string `json:"grand_total"`
		Subtotal   string `json:"subtotal"`
	} `json:"display"`
}

func newTestRouter(t *testing.T, h *harness) (http.Handler, *memoryIdempotency) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idem := &memoryIdempotency{keys: make(map[string]string)}
	handler := NewHandler(logger, h.manager, idem, pricing.NewFormatter("en"))
	r := chi.NewRouter()
	r.Route("/documents", handler.MountRoutes)
	return r, idem
}

const acetoneSale = `{"kind":"SALES","party_name":"Acme Pharma","lines":[{"item_ref":"ACETONE","quantity":10,"unit_price":"100","tax_rate_percent":"18","discount_percent":"10"}]}`

func do(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	return problem
}

func TestHandlerCreateReturnsFormattedTotals(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var body responseBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "INV24110001", body.Number)
	assert.Equal(t, "1,062.00", body.Display.GrandTotal)
	assert.Equal(t, "900.00", body.Display.Subtotal)
	assert.EqualValues(t, 15, h.stock.qty("ACETONE"))

	rr = do(router, http.MethodGet, "/documents/"+body.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerCreateInsufficientStockNamesItem(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 3}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	problem := decodeProblem(t, rr)
	assert.Equal(t, "Insufficient Stock", problem.Title)
	assert.Contains(t, problem.Detail, "ACETONE")
}

func TestHandlerCreateValidation(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 3}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents",
		`{"kind":"RETURN","party_name":"Acme","lines":[{"item_ref":"ACETONE","quantity":0,"unit_price":"1"}]}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decodeProblem(t, rr)
	assert.Contains(t, problem.Fields, "Kind")
	assert.Contains(t, problem.Fields, "Lines[0].Quantity")

	rr = do(router, http.MethodPost, "/documents",
		`{"kind":"SALES","party_name":"Acme","lines":[{"item_ref":"ACETONE","quantity":1,"unit_price":"1","discount_percent":"120"}]}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Invalid Document", decodeProblem(t, rr).Title)
}

func TestHandlerCreateReplaysIdempotentRequest(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	router, idem := newTestRouter(t, h)
	headers := map[string]string{"Idempotency-Key": "req-1"}

	first := do(router, http.MethodPost, "/documents", acetoneSale, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(router, http.MethodPost, "/documents", acetoneSale, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	var a, b responseBody
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.ID, b.ID)
	assert.EqualValues(t, 15, h.stock.qty("ACETONE"))
	assert.Equal(t, a.ID, idem.keys["req-1"])
}

func TestHandlerCreateFailureReleasesIdempotencyKey(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 3}, nil)
	router, idem := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, map[string]string{"Idempotency-Key": "req-2"})
	require.Equal(t, http.StatusConflict, rr.Code)
	_, found, err := idem.Lookup(context.Background(), "req-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHandlerNumberingFailureIsUnavailable(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	h.numbers.err = errors.New("counter store down")
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.EqualValues(t, 25, h.stock.qty("ACETONE"))
}

func TestHandlerReconciliationIsDistinct(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	h.numbers.err = errors.New("counter store down")
	h.stock.failOn(nil, errors.New("ledger unavailable"))
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Reconciliation Required", decodeProblem(t, rr).Title)
}

func TestHandlerReconciliationKeepsIdempotencyKey(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	h.numbers.err = errors.New("counter store down")
	h.stock.failOn(nil, errors.New("ledger unavailable"))
	router, idem := newTestRouter(t, h)
	headers := map[string]string{"Idempotency-Key": "req-3"}

	rr := do(router, http.MethodPost, "/documents", acetoneSale, headers)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.EqualValues(t, 15, h.stock.qty("ACETONE"))
	_, found, err := idem.Lookup(context.Background(), "req-3")
	require.NoError(t, err)
	assert.True(t, found)

	h.numbers.err = nil
	calls := h.numbers.calls
	rr = do(router, http.MethodPost, "/documents", acetoneSale, headers)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Request In Progress", decodeProblem(t, rr).Title)
	assert.EqualValues(t, 15, h.stock.qty("ACETONE"))
	assert.Equal(t, calls, h.numbers.calls)
	assert.Empty(t, h.docs.docs)
}

func TestHandlerUpdateDeleteAndSend(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents", acetoneSale, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created responseBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = do(router, http.MethodPut, "/documents/"+created.ID,
		`{"kind":"SALES","party_name":"Acme Pharma","lines":[{"item_ref":"ACETONE","quantity":4,"unit_price":"100"}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 21, h.stock.qty("ACETONE"))

	rr = do(router, http.MethodPost, "/documents/"+created.ID+"/send", `{"recipient":"not-an-email"}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(router, http.MethodPost, "/documents/"+created.ID+"/send", `{"recipient":"buyer@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sent responseBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sent))
	assert.NotEmpty(t, sent.SentAt)

	rr = do(router, http.MethodDelete, "/documents/"+created.ID, "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.EqualValues(t, 25, h.stock.qty("ACETONE"))

	rr = do(router, http.MethodGet, "/documents/"+created.ID, "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerDeleteRefused(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 0}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodPost, "/documents",
		`{"kind":"PURCHASE","party_name":"Supplier","lines":[{"item_ref":"ACETONE","quantity":5,"unit_price":"80"}]}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var purchase responseBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &purchase))
	rr = do(router, http.MethodPost, "/documents",
		`{"kind":"SALES","party_name":"Buyer","lines":[{"item_ref":"ACETONE","quantity":5,"unit_price":"100"}]}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(router, http.MethodDelete, "/documents/"+purchase.ID, "", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Delete Refused", decodeProblem(t, rr).Title)
}

func TestHandlerRejectsMalformedID(t *testing.T) {
	h := newHarness(t, map[string]int64{}, nil)
	router, _ := newTestRouter(t, h)

	rr := do(router, http.MethodGet, "/documents/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerListByKind(t *testing.T) {
	h := newHarness(t, map[string]int64{"ACETONE": 25}, nil)
	router, _ := newTestRouter(t, h)
	require.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/documents", acetoneSale, nil).Code)

	rr := do(router, http.MethodGet, "/documents?kind=SALES", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Documents []responseBody `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)

	rr = do(router, http.MethodGet, "/documents?kind=OTHER", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
