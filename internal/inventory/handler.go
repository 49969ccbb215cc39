package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	ledger   *Ledger
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, ledger: ledger, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Get("/items/{ref}", h.getItem)
	r.Get("/items/{ref}/card", h.stockCard)
	r.Post("/adjustments", h.postAdjustments)
}

type createItemRequest struct {
	Ref        string `json:"item_ref" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	OpeningQty int64  `json:"opening_quantity" validate:"gte=0"`
}

type adjustmentRequest struct {
	Reference   string                  `json:"reference" validate:"required,max=100"`
	Note        string                  `json:"note" validate:"max=500"`
	Adjustments []adjustmentRequestLine `json:"adjustments" validate:"required,min=1,dive"`
}

type adjustmentRequestLine struct {
	ItemRef string `json:"item_ref" validate:"required"`
	Delta   int64  `json:"delta" validate:"ne=0"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	items, err := h.ledger.ListItems(r.Context(), page.Limit, page.Offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	item, err := h.ledger.CreateItem(r.Context(), NewItemInput{Ref: req.Ref, Name: req.Name, OpeningQty: req.OpeningQty})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("inventory item created", slog.String("item_ref", item.Ref), slog.Int64("on_hand", item.OnHand))
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetItem(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	filter := StockCardFilter{ItemRef: chi.URLParam(r, "ref")}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		// end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	entries, err := h.ledger.GetStockCard(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_ref": filter.ItemRef, "movements": entries})
}

func (h *Handler) postAdjustments(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	adjs := make([]Adjustment, 0, len(req.Adjustments))
	for _, line := range req.Adjustments {
		adjs = append(adjs, Adjustment{ItemRef: line.ItemRef, Delta: line.Delta})
	}
	batch, err := h.ledger.ApplyAdjustments(r.Context(), adjs, Reference{Module: "ADJUSTMENT", ID: req.Reference, Note: req.Note})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

// respondError maps ledger errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	var missing *ItemNotFoundError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &missing):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Item Not Found", missing.Error())
	case errors.Is(err, ErrItemExists):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidDirection):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Quantity", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
