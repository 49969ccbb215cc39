package quotations

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gauravitis/crm-sub001/internal/fulfillment"
	"github.com/gauravitis/crm-sub001/internal/platform/httpx"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/sequence"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// Handler wires HTTP endpoints for quotations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	formatter *pricing.Formatter
	validate  *validator.Validate
}

// NewHandler constructs quotations handler.
func NewHandler(logger *slog.Logger, service *Service, formatter *pricing.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, formatter: formatter, validate: validator.New()}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/lines/{lineNo}/delivery", h.updateDelivery)
	r.Post("/{id}/payments", h.recordPayment)
	r.Put("/{id}/payment-status", h.setPaymentStatus)
}

type createRequest struct {
	CustomerName    string             `json:"customer_name" validate:"required,max=200"`
	Notes           string             `json:"notes" validate:"max=2000"`
	DeliveryCharges decimal.Decimal    `json:"delivery_charges"`
	Lines           []pricing.LineItem `json:"lines" validate:"required,min=1,dive"`
}

type deliveryRequest struct {
	DeliveredQty int64  `json:"delivered_quantity" validate:"gte=0"`
	Notes        string `json:"notes" validate:"max=500"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PaidAt *time.Time      `json:"paid_at"`
	Note   string          `json:"note" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PARTIAL COMPLETED"`
}

type quotationResponse struct {
	Quotation
	Display pricing.DisplayTotals `json:"display"`
}

func (h *Handler) present(q Quotation) quotationResponse {
	return quotationResponse{Quotation: q, Display: h.formatter.Totals(q.Totals)}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	items, err := h.service.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]quotationResponse, 0, len(items))
	for _, q := range items {
		out = append(out, h.present(q))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotations": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	q, err := h.service.Create(r.Context(), CreateInput{
		CustomerName:    req.CustomerName,
		Notes:           req.Notes,
		Items:           req.Lines,
		DeliveryCharges: req.DeliveryCharges,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("quotation created", slog.String("id", q.ID.String()), slog.String("number", q.Number))
	httpx.JSON(w, http.StatusCreated, h.present(q))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(q))
}

func (h *Handler) updateDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	lineNo, err := strconv.Atoi(chi.URLParam(r, "lineNo"))
	if err != nil || lineNo <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line number")
		return
	}
	var req deliveryRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	q, err := h.service.UpdateDelivery(r.Context(), id, DeliveryUpdate{LineNo: lineNo, DeliveredQty: req.DeliveredQty, Notes: req.Notes})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(q))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	p := Payment{Amount: req.Amount, Note: req.Note}
	if req.PaidAt != nil {
		p.PaidAt = req.PaidAt.UTC()
	}
	q, err := h.service.RecordPayment(r.Context(), id, p)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.present(q))
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.BindError(w, err)
		return
	}
	q, err := h.service.SetPaymentStatus(r.Context(), id, fulfillment.PaymentStatus(req.Status))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(q))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, fulfillment.ErrInvalidDelivery):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Delivery", err.Error())
	case errors.Is(err, fulfillment.ErrOverpayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Overpayment", err.Error())
	case errors.Is(err, fulfillment.ErrInvalidPayment), errors.Is(err, fulfillment.ErrInvalidPaymentStatus):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Payment", err.Error())
	case errors.Is(err, pricing.ErrInvalidLineItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Quotation", err.Error())
	case errors.Is(err, sequence.ErrSequenceGenerationFailed):
		h.logger.Error("quotation numbering failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Numbering Unavailable", "quotation number could not be generated, retry later")
	default:
		h.logger.Error("quotation request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
