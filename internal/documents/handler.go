package documents

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gauravitis/crm-sub001/internal/inventory"
	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/sequence"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// IdempotencyPort guards create requests against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, resourceID string) error
	Lookup(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "documents:create"

// Handler wires HTTP endpoints for invoices.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	idem      IdempotencyPort
	formatter *pricing.Formatter
	validate  *validator.Validate
}

// NewHandler constructs the documents handler. idem and formatter may be nil.
func NewHandler(logger *slog.Logger, manager *Manager, idem IdempotencyPort, formatter *pricing.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, idem: idem, formatter: formatter, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/send", h.send)
}

type documentRequest struct {
	Kind            string             `json:"kind" validate:"required,oneof=SALES PURCHASE"`
	PartyName       string             `json:"party_name" validate:"required,max=200"`
	Notes           string             `json:"notes" validate:"max=2000"`
	DeliveryCharges decimal.Decimal    `json:"delivery_charges"`
	Lines           []pricing.LineItem `json:"lines" validate:"required,min=1,dive"`
}

func (req documentRequest) input() Input {
	return Input{
		Kind:            Kind(req.Kind),
		PartyName:       req.PartyName,
		Notes:           req.Notes,
		Items:           req.Lines,
		DeliveryCharges: req.DeliveryCharges,
	}
}

type sendRequest struct {
	Recipient string `json:"recipient" validate:"required,email"`
}

type documentResponse struct {
	Document
	Display pricing.DisplayTotals `json:"display"`
}

func (h *Handler) present(doc Document) documentResponse {
	return documentResponse{Document: doc, Display: h.formatter.Totals(doc.Totals)}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	docs, err := h.manager.List(r.Context(), ListFilter{
		Kind:   Kind(r.URL.Query().Get("kind")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, h.present(doc))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				h.replay(w, r, key)
				return
			}
			h.respondError(w, err)
			return
		}
	}
	doc, err := h.manager.Create(ctx, req.input())
	if err != nil {
		// A failed compensation leaves stock moved, so the key stays claimed
		// until the batch is reconciled and a retry cannot post it twice.
		if key != "" && h.idem != nil && !errors.Is(err, ErrPartialReversal) {
			if derr := h.idem.Delete(context.WithoutCancel(ctx), key); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		h.respondError(w, err)
		return
	}
	if key != "" && h.idem != nil {
		if err := h.idem.Complete(ctx, key, doc.ID.String()); err != nil {
			h.logger.Warn("complete idempotency key", slog.String("document_id", doc.ID.String()), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusCreated, h.present(doc))
}

// replay answers a repeated create with the document of the first request.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, key string) {
	resourceID, found, err := h.idem.Lookup(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !found || resourceID == "" {
		httpx.Problem(w, http.StatusConflict, "Request In Progress", "a request with this idempotency key is still being processed")
		return
	}
	id, err := uuid.Parse(resourceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	doc, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	httpx.JSON(w, http.StatusOK, h.present(doc))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	doc, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(doc))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	doc, err := h.manager.Update(r.Context(), id, req.input())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(doc))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	doc, err := h.manager.MarkSent(r.Context(), id, req.Recipient)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(doc))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps manager errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var recon *ReconciliationError
	var insufficient *inventory.InsufficientStockError
	var missing *inventory.ItemNotFoundError
	switch {
	case errors.As(err, &recon):
		h.logger.Error("document reconciliation required",
			slog.String("document_id", recon.DocumentID.String()),
			slog.String("batch_id", recon.BatchID.String()),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Reconciliation Required", recon.Error())
	case errors.Is(err, ErrDeleteRefused):
		httpx.Problem(w, http.StatusConflict, "Delete Refused", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &missing):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Item Not Found", missing.Error())
	case errors.Is(err, pricing.ErrInvalidLineItem), errors.Is(err, ErrInvalidKind), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Document", err.Error())
	case errors.Is(err, sequence.ErrSequenceGenerationFailed):
		h.logger.Error("document numbering failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Numbering Unavailable", "document number could not be generated, retry later")
	case errors.Is(err, ErrDocumentLocked):
		httpx.Problem(w, http.StatusConflict, "Document Locked", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("document request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
